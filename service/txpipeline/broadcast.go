package txpipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/brojonat/osmosync/service/metrics"
	"github.com/brojonat/osmosync/service/osmosis"
)

// Submitter sends signed transaction bytes to the chain.
// Both the REST node client and the CometBFT RPC client implement it.
type Submitter interface {
	SubmitTx(ctx context.Context, txBytes []byte) (osmosis.SubmitResult, error)
}

// Broadcaster submits signed operations and interprets the node's answer.
type Broadcaster struct {
	submitter Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewBroadcaster creates a new broadcaster.
// If metrics is nil, no metrics will be recorded.
func NewBroadcaster(submitter Submitter, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{submitter: submitter, logger: logger, metrics: m}
}

// Broadcast submits signed and returns its operation patched with the real hash.
// A non-zero response code is returned as *BroadcastRejectedError. Nothing is retried:
// a rejected transaction (bad sequence, insufficient funds) will not pass on retry.
func (b *Broadcaster) Broadcast(ctx context.Context, signed SignedOperation) (osmosis.Operation, error) {
	txBytes, err := hex.DecodeString(signed.Signature)
	if err != nil {
		b.record("error")
		return osmosis.Operation{}, fmt.Errorf("invalid signed transaction encoding: %w", err)
	}

	result, err := b.submitter.SubmitTx(ctx, txBytes)
	if err != nil {
		b.record("error")
		b.logger.ErrorContext(ctx, "broadcast failed", "error", err)
		return osmosis.Operation{}, err
	}

	if result.Code != 0 {
		b.record("rejected")
		b.logger.WarnContext(ctx, "transaction rejected",
			"code", result.Code,
			"codespace", result.Codespace,
			"raw_log", result.RawLog,
		)
		return osmosis.Operation{}, &BroadcastRejectedError{
			Code:      result.Code,
			Codespace: result.Codespace,
			TxHash:    result.TxHash,
			RawLog:    result.RawLog,
		}
	}

	op := signed.Operation
	op.Hash = result.TxHash
	op.ID = osmosis.EncodeOperationID(op.AccountID, op.Hash, op.Type)

	b.record("accepted")
	b.logger.InfoContext(ctx, "transaction broadcast", "txhash", result.TxHash)
	return op, nil
}

func (b *Broadcaster) record(result string) {
	if b.metrics != nil {
		b.metrics.RecordBroadcast(result)
	}
}
