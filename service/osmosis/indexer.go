package osmosis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/osmosync/service/metrics"
	"github.com/shopspring/decimal"
)

// DefaultPageSize is the number of transactions requested per indexer page.
const DefaultPageSize = 200

// Event kinds reported by the indexer's transaction search.
type EventKind string

const (
	EventKindSend      EventKind = "send"
	EventKindReceive   EventKind = "receive"
	EventKindMultiSend EventKind = "multisend"
)

// SearchParams are the parameters of a transaction search.
type SearchParams struct {
	Network string     `json:"network"`
	Account []string   `json:"account"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	After   *time.Time `json:"after,omitempty"`
	Before  *time.Time `json:"before,omitempty"`
}

// Page is one page of indexer results.
// Size counts every record the indexer returned, including ones dropped while decoding,
// so callers can advance the offset by what the indexer actually served.
type Page struct {
	Transactions []Transaction
	Size         int
}

// Transaction is a decoded indexer transaction.
type Transaction struct {
	ID        string
	Hash      string
	BlockHash string
	Height    int64
	ChainID   string
	Time      time.Time
	Fee       []Amount
	Memo      string
	HasErrors bool
	Events    []Event
}

// Event is a decoded transfer event of a transaction.
// Transfer is nil when the indexer omitted the nested message content.
type Event struct {
	ID       string
	Kind     EventKind
	Transfer *Transfer
}

// Transfer is the nested content of a send/receive event.
type Transfer struct {
	Types     []string
	Module    string
	Sender    []Party
	Recipient []Party
}

// Party is one side of a transfer.
type Party struct {
	Account string
	Amounts []Amount
}

// Amount is an amount of a single currency.
type Amount struct {
	Currency string
	Value    decimal.Decimal
}

// Wire formats of the transaction search response.
type rawTransaction struct {
	ID             string            `json:"id"`
	Hash           string            `json:"hash"`
	BlockHash      string            `json:"block_hash"`
	Height         int64             `json:"height"`
	ChainID        string            `json:"chain_id"`
	Time           time.Time         `json:"time"`
	TransactionFee []rawAmount       `json:"transaction_fee"`
	Memo           string            `json:"memo"`
	HasErrors      bool              `json:"has_errors"`
	Events         []json.RawMessage `json:"events"`
}

type rawEvent struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Sub  json.RawMessage `json:"sub"`
}

type rawEventContent struct {
	Type      []string   `json:"type"`
	Module    string     `json:"module"`
	Sender    []rawParty `json:"sender"`
	Recipient []rawParty `json:"recipient"`
}

type rawParty struct {
	Account struct {
		ID string `json:"id"`
	} `json:"account"`
	Amounts []rawAmount `json:"amounts"`
}

type rawAmount struct {
	Text     string `json:"text"`
	Currency string `json:"currency"`
	Numeric  string `json:"numeric"`
}

// IndexerClient queries the transaction search API of an Osmosis indexer.
type IndexerClient struct {
	transport Transport
	baseURL   string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewIndexerClient creates a new indexer client.
// If metrics is nil, no metrics will be recorded.
func NewIndexerClient(transport Transport, baseURL string, m *metrics.Metrics, logger *slog.Logger) *IndexerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexerClient{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
		metrics:   m,
	}
}

// SearchTransactions fetches one page of transactions for the given accounts.
// A null response body is an empty page. Records that cannot be decoded are dropped and logged.
func (c *IndexerClient) SearchTransactions(ctx context.Context, params SearchParams) (*Page, error) {
	body, err := c.transport.Do(ctx, http.MethodPost, c.baseURL+"/transactions_search/", params)
	if err != nil {
		return nil, fmt.Errorf("transactions_search failed: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode transactions_search response: %w", err)
	}

	page := &Page{
		Transactions: make([]Transaction, 0, len(records)),
		Size:         len(records),
	}
	for i, record := range records {
		tx, err := c.decodeTransaction(ctx, record)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping malformed indexer transaction",
				"offset", params.Offset+i,
				"error", err,
			)
			c.skipped("malformed_transaction")
			continue
		}
		page.Transactions = append(page.Transactions, tx)
	}

	c.logger.DebugContext(ctx, "fetched indexer page",
		"network", params.Network,
		"offset", params.Offset,
		"limit", params.Limit,
		"records", page.Size,
		"decoded", len(page.Transactions),
	)
	return page, nil
}

func (c *IndexerClient) decodeTransaction(ctx context.Context, record json.RawMessage) (Transaction, error) {
	var raw rawTransaction
	if err := json.Unmarshal(record, &raw); err != nil {
		return Transaction{}, err
	}
	if raw.Hash == "" {
		return Transaction{}, fmt.Errorf("transaction has no hash")
	}
	fee, err := decodeAmounts(raw.TransactionFee)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s: fee: %w", raw.Hash, err)
	}

	tx := Transaction{
		ID:        raw.ID,
		Hash:      raw.Hash,
		BlockHash: raw.BlockHash,
		Height:    raw.Height,
		ChainID:   raw.ChainID,
		Time:      raw.Time,
		Fee:       fee,
		Memo:      raw.Memo,
		HasErrors: raw.HasErrors,
		Events:    make([]Event, 0, len(raw.Events)),
	}
	for _, rawEv := range raw.Events {
		event, ok := c.decodeEvent(ctx, raw.Hash, rawEv)
		if ok {
			tx.Events = append(tx.Events, event)
		}
	}
	return tx, nil
}

// decodeEvent is the tagged-variant decode of an indexer event.
// Only send and receive events are kept.
func (c *IndexerClient) decodeEvent(ctx context.Context, hash string, data json.RawMessage) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.WarnContext(ctx, "skipping malformed event", "hash", hash, "error", err)
		c.skipped("malformed_event")
		return Event{}, false
	}

	kind := EventKind(raw.Kind)
	switch kind {
	case EventKindSend, EventKindReceive:
	default:
		c.logger.DebugContext(ctx, "skipping event with unsupported kind", "hash", hash, "kind", raw.Kind)
		c.skipped("unsupported_kind")
		return Event{}, false
	}

	event := Event{ID: raw.ID, Kind: kind}
	content, err := decodeEventContent(raw.Sub)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping event with malformed content", "hash", hash, "error", err)
		c.skipped("malformed_event")
		return Event{}, false
	}
	event.Transfer = content
	return event, true
}

// decodeEventContent decodes the first nested message of an event.
// The indexer nests it in an array; a bare object is accepted too.
func decodeEventContent(sub json.RawMessage) (*Transfer, error) {
	if len(sub) == 0 || string(sub) == "null" {
		return nil, nil
	}

	var contents []rawEventContent
	if err := json.Unmarshal(sub, &contents); err != nil {
		var single rawEventContent
		if err := json.Unmarshal(sub, &single); err != nil {
			return nil, err
		}
		contents = []rawEventContent{single}
	}
	if len(contents) == 0 {
		return nil, nil
	}

	first := contents[0]
	senders, err := decodeParties(first.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	recipients, err := decodeParties(first.Recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	return &Transfer{
		Types:     first.Type,
		Module:    first.Module,
		Sender:    senders,
		Recipient: recipients,
	}, nil
}

func decodeParties(raw []rawParty) ([]Party, error) {
	parties := make([]Party, 0, len(raw))
	for _, p := range raw {
		amounts, err := decodeAmounts(p.Amounts)
		if err != nil {
			return nil, err
		}
		parties = append(parties, Party{Account: p.Account.ID, Amounts: amounts})
	}
	return parties, nil
}

func decodeAmounts(raw []rawAmount) ([]Amount, error) {
	amounts := make([]Amount, 0, len(raw))
	for _, a := range raw {
		value, err := decimal.NewFromString(a.Numeric)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", a.Numeric, err)
		}
		amounts = append(amounts, Amount{Currency: a.Currency, Value: value})
	}
	return amounts, nil
}

func (c *IndexerClient) skipped(reason string) {
	if c.metrics != nil {
		c.metrics.RecordEventSkipped(reason)
	}
}
