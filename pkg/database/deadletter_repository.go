package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bridge-observer/pkg/obserr"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// DeadLetterRepository records transfers that exhausted the §4.3/§4.6
// retry policy (N=3 with jitter) without persisting, matching the "dead
// letters do not appear in the primary listing" property (§8).
type DeadLetterRepository struct {
	client *Client
}

// NewDeadLetterRepository wraps client.
func NewDeadLetterRepository(client *Client) *DeadLetterRepository {
	return &DeadLetterRepository{client: client}
}

// Record inserts a dead-lettered transfer with the final error that
// exhausted retries and the attempt count.
func (r *DeadLetterRepository) Record(ctx context.Context, t *transfer.CrossChainTransfer, cause error, attempts int) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}

	kind := obserr.KindPersistenceFatal
	msg := cause.Error()
	if oe, ok := obserr.As(cause); ok {
		kind = oe.Kind
	}

	const query = `
		INSERT INTO dead_letter_transfer (
			id, protocol, event_type, transaction_hash, payload, error_kind,
			error_message, attempts, failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.client.ExecContext(ctx, query,
		uuid.New(), t.Protocol, t.EventType, t.TransactionHash, payload,
		kind, msg, attempts, time.Now())
	return err
}

// Count reports the total number of dead-lettered records, used by
// Statistics() and Supervisor health reporting.
func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.client.QueryRowContext(ctx, "SELECT count(*) FROM dead_letter_transfer").Scan(&n)
	return n, err
}
