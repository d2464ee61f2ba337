package txpipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/osmosync/service/metrics"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/signer"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is a step of the transaction pipeline.
type State string

const (
	StateIdle              State = "idle"
	StateFeeEstimated      State = "fee_estimated"
	StateBuilt             State = "built"
	StateAwaitingSignature State = "awaiting_signature"
	StateSignatureGranted  State = "signature_granted"
	StateEncoded           State = "encoded"
	StateBroadcast         State = "broadcast"
	StateDone              State = "done"
	StateCancelled         State = "cancelled"
	StateErrored           State = "errored"
)

// EventType identifies a notification emitted while a pipeline runs.
type EventType string

const (
	EventSignatureRequested EventType = "device-signature-requested"
	EventSignatureGranted   EventType = "device-signature-granted"
	EventSigned             EventType = "signed"
)

// Event is a pipeline notification. SignedOperation is only set on EventSigned.
type Event struct {
	Type            EventType
	SignedOperation *SignedOperation
}

// SignedOperation is a signed, not yet broadcast, transaction.
// Operation is optimistic: its hash is empty and block fields are nil.
type SignedOperation struct {
	Operation      osmosis.Operation `json:"operation"`
	Signature      string            `json:"signature"` // hex encoded TxRaw bytes
	ExpirationDate *time.Time        `json:"expiration_date"`
}

// Node is the chain state the pipeline reads at signing time.
type Node interface {
	GetAccountInfo(ctx context.Context, address string) (osmosis.AccountInfo, error)
	GetLatestBlock(ctx context.Context) (osmosis.Block, error)
}

// Options configures a Pipeline.
type Options struct {
	Denom      string
	DefaultGas uint64
	Validator  *StatusValidator
}

// Pipeline turns one intent into a signed operation.
// A pipeline runs at most once; create a new one per intent.
type Pipeline struct {
	id      string
	account osmosis.AccountSnapshot
	intent  Intent
	node    Node
	signer  signer.Signer
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	signed    *SignedOperation
	started   atomic.Bool
	cancelled atomic.Bool
}

// New creates a pipeline for intent against the given account snapshot.
// If metrics is nil, no metrics will be recorded.
func New(account osmosis.AccountSnapshot, intent Intent, node Node, s signer.Signer, opts Options, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if opts.Denom == "" {
		opts.Denom = osmosis.Denom
	}
	if opts.DefaultGas == 0 {
		opts.DefaultGas = DefaultGasLimit
	}
	if opts.Validator == nil {
		opts.Validator = NewStatusValidator(osmosis.NewBech32Validator(nil), osmosis.CurrencyID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Pipeline{
		id:      id,
		account: account,
		intent:  intent,
		node:    node,
		signer:  s,
		opts:    opts,
		logger:  logger.With("pipeline_id", id, "address", account.Address),
		metrics: m,
		state:   StateIdle,
	}
}

// ID returns the unique id of this pipeline run.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cancel requests cancellation. It is observed when the signer returns; the
// signature is then discarded and Run returns without emitting anything else.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

func (p *Pipeline) isCancelled(ctx context.Context) bool {
	return p.cancelled.Load() || ctx.Err() != nil
}

func (p *Pipeline) transition(ctx context.Context, to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "pipeline transition", "from", from, "to", to)
	if p.metrics != nil {
		p.metrics.RecordPipelineTransition(string(to))
	}
}

func (p *Pipeline) fail(ctx context.Context, err error) error {
	p.transition(ctx, StateErrored)
	p.logger.WarnContext(ctx, "pipeline failed", "error", err)
	return err
}

// Run drives the pipeline from Idle to Encoded, emitting events through emit
// (which may be nil). It returns (nil, nil) when the pipeline was cancelled.
func (p *Pipeline) Run(ctx context.Context, emit func(Event)) (*SignedOperation, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	if emit == nil {
		emit = func(Event) {}
	}
	if p.isCancelled(ctx) {
		p.transition(ctx, StateCancelled)
		return nil, nil
	}

	// Idle -> FeeEstimated
	fees, err := EstimateFees(p.intent.Mode)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	intent := p.intent
	intent.Fees = &fees
	p.transition(ctx, StateFeeEstimated)

	status := p.opts.Validator.Validate(p.account, intent)
	if status.HasErrors() {
		return nil, p.fail(ctx, &StatusError{Status: status})
	}

	// FeeEstimated -> Built
	unsigned, amount, err := BuildUnsigned(p.account, intent, fees, p.opts.Denom, p.opts.DefaultGas)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	p.transition(ctx, StateBuilt)

	// Built -> AwaitingSignature. Sequence and chain id are read now, not at sync
	// time, because the sequence advances with every transaction.
	info, err := p.node.GetAccountInfo(ctx, p.account.Address)
	if err != nil {
		return nil, p.fail(ctx, fmt.Errorf("failed to get account info: %w", err))
	}
	block, err := p.node.GetLatestBlock(ctx)
	if err != nil {
		return nil, p.fail(ctx, fmt.Errorf("failed to get chain id: %w", err))
	}
	doc, err := unsigned.SignDoc(block.ChainID, info)
	if err != nil {
		return nil, p.fail(ctx, fmt.Errorf("failed to build sign doc: %w", err))
	}

	emit(Event{Type: EventSignatureRequested})
	p.transition(ctx, StateAwaitingSignature)
	p.logger.InfoContext(ctx, "signature requested",
		"chain_id", block.ChainID,
		"account_number", info.AccountNumber,
		"sequence", info.Sequence,
	)

	pubKey, signature, err := p.sign(ctx, doc)
	if p.isCancelled(ctx) {
		p.transition(ctx, StateCancelled)
		p.logger.InfoContext(ctx, "pipeline cancelled, discarding signature")
		return nil, nil
	}
	if err != nil {
		return nil, p.fail(ctx, err)
	}

	// SignatureGranted -> Encoded
	p.transition(ctx, StateSignatureGranted)
	emit(Event{Type: EventSignatureGranted})

	txBytes, err := EncodeSigned(unsigned, pubKey, info.Sequence, signature)
	if err != nil {
		return nil, p.fail(ctx, fmt.Errorf("failed to encode transaction: %w", err))
	}

	signed := &SignedOperation{
		Operation: p.optimisticOperation(intent, amount, fees, info.Sequence),
		Signature: hex.EncodeToString(txBytes),
	}

	p.mu.Lock()
	p.signed = signed
	p.mu.Unlock()
	p.transition(ctx, StateEncoded)

	emit(Event{Type: EventSigned, SignedOperation: signed})
	return signed, nil
}

// sign is the single suspension point on the external signer.
func (p *Pipeline) sign(ctx context.Context, doc []byte) ([]byte, []byte, error) {
	accounts, err := p.signer.GetAddresses(ctx)
	if err != nil {
		return nil, nil, &SignerError{Op: "get addresses", Err: err}
	}
	var pubKey []byte
	for _, a := range accounts {
		if a.Address == p.account.Address {
			pubKey = a.PublicKey
			break
		}
	}
	if pubKey == nil {
		return nil, nil, &SignerError{Op: "get addresses", Err: fmt.Errorf("%w: %s", signer.ErrUnknownAddress, p.account.Address)}
	}

	signature, err := p.signer.SignPayload(ctx, p.account.Address, doc)
	if err != nil {
		return nil, nil, &SignerError{Op: "sign", Err: err}
	}
	return pubKey, signature, nil
}

func (p *Pipeline) optimisticOperation(intent Intent, amount, fees decimal.Decimal, sequence uint64) osmosis.Operation {
	value := amount.Add(fees)
	if intent.UseAllAmount {
		value = p.account.SpendableBalance
	}
	return osmosis.Operation{
		ID:                        osmosis.EncodeOperationID(p.account.AccountID, "", osmosis.OperationTypeOut),
		AccountID:                 p.account.AccountID,
		Type:                      osmosis.OperationTypeOut,
		Value:                     value,
		Fee:                       fees,
		Hash:                      "",
		Date:                      time.Now().UTC(),
		Senders:                   []string{p.account.Address},
		Recipients:                []string{intent.Recipient},
		Extra:                     map[string]string{"memo": intent.Memo},
		TransactionSequenceNumber: &sequence,
	}
}

// Broadcast submits the encoded transaction through b. It is a separate call
// made by the caller after Run; nothing is broadcast automatically.
func (p *Pipeline) Broadcast(ctx context.Context, b *Broadcaster) (osmosis.Operation, error) {
	p.mu.Lock()
	signed := p.signed
	state := p.state
	p.mu.Unlock()
	if state != StateEncoded || signed == nil {
		return osmosis.Operation{}, ErrNotEncoded
	}

	p.transition(ctx, StateBroadcast)
	op, err := b.Broadcast(ctx, *signed)
	if err != nil {
		return osmosis.Operation{}, p.fail(ctx, err)
	}
	p.transition(ctx, StateDone)
	return op, nil
}
