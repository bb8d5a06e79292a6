// Repository for the bridge_transfer table: the relational sink of the
// Dual-Store Persistence Layer (§4.6), the Cross-Chain Correlator's
// candidate/link queries (§4.4), and the Risk Engine's frequent-bridging
// activity lookup (§4.5).
//
// Grounded on the teacher's pkg/database/repository_batch.go (repository
// struct wrapping *Client, one query builder per operation,
// QueryRowContext/Scan pairs) and repository_consensus.go (conditional
// `WHERE status = $n` updates as the linearization point for concurrent
// writers).
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bridge-observer/pkg/correlator"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// TransferRepository is the relational sink for CrossChainTransfer
// records.
type TransferRepository struct {
	client *Client
}

// NewTransferRepository wraps client.
func NewTransferRepository(client *Client) *TransferRepository {
	return &TransferRepository{client: client}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableChain(c *transfer.ChainTag) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}

func nullableUUID(id *uuid.UUID) (uuid.NullUUID, error) {
	if id == nil {
		return uuid.NullUUID{}, nil
	}
	return uuid.NullUUID{UUID: *id, Valid: true}, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Upsert inserts t if its (protocol, transaction_hash, event_type) key is
// new, or is a no-op if it already exists (§3 invariant, §8 round-trip
// property: the second insert of the same raw log leaves created_at
// untouched and yields no second row).
func (r *TransferRepository) Upsert(ctx context.Context, t *transfer.CrossChainTransfer) (inserted bool, err error) {
	flagsJSON, err := json.Marshal(t.RiskFlags)
	if err != nil {
		return false, err
	}
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return false, err
	}
	linked, err := nullableUUID(t.LinkedTransferID)
	if err != nil {
		return false, err
	}

	const query = `
		INSERT INTO bridge_transfer (
			id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (protocol, transaction_hash, event_type) DO NOTHING`

	res, err := r.client.ExecContext(ctx, query,
		t.ID, t.Protocol, nullableChain(t.SourceChain), nullableChain(t.DestinationChain), nullableString(t.SourceAddress),
		nullableString(t.DestinationAddress), nullableString(t.TokenAddress), t.TokenSymbol, t.Amount, t.RawAmount,
		t.TransactionHash, t.BlockNumber, t.Timestamp, t.EventType, t.Status,
		linked, t.RiskScore, flagsJSON, nullableTime(t.AnalyzedAt), metaJSON,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateRiskScore commits the Risk Engine's result onto an existing row
// (§3 lifecycle: mutated once by the Risk Engine). Used both by the
// Observer's pipeline and the Supervisor's rescoring sweep (§8 property 6:
// only the latest analyzedAt wins).
func (r *TransferRepository) UpdateRiskScore(ctx context.Context, id uuid.UUID, score float64, flags []transfer.RiskFlag, analyzedAt time.Time) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	const query = `
		UPDATE bridge_transfer
		SET risk_score = $2, risk_flags = $3, analyzed_at = $4, updated_at = now()
		WHERE id = $1`
	_, err = r.client.ExecContext(ctx, query, id, score, flagsJSON, analyzedAt)
	return err
}

// Link implements correlator.Store: an atomic, conditional update
// guarded by `status = 'PENDING'` on both rows so concurrent Observers
// cannot double-link a pair, and so that linking an already-completed
// pair is a true no-op (§4.4, §5).
func (r *TransferRepository) Link(ctx context.Context, subjectID, peerID uuid.UUID) (bool, error) {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	const update = `
		UPDATE bridge_transfer
		SET status = 'COMPLETED', linked_transfer_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	res1, err := tx.ExecContext(ctx, update, subjectID, peerID)
	if err != nil {
		return false, err
	}
	n1, _ := res1.RowsAffected()

	res2, err := tx.ExecContext(ctx, update, peerID, subjectID)
	if err != nil {
		return false, err
	}
	n2, _ := res2.RowsAffected()

	if n1 == 0 || n2 == 0 {
		// Either row was no longer PENDING; roll back so neither side is
		// half-linked, preserving the mutual-symmetry invariant (§3, §8).
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// FindCandidates implements correlator.Store: PENDING transfers sharing
// fp's fingerprint within [since, until], excluding the subject itself.
// The unordered address pair is matched in both orientations so either
// side of the bridge can be the "source" in the query.
func (r *TransferRepository) FindCandidates(ctx context.Context, fp correlator.Fingerprint, subjectID uuid.UUID, since, until time.Time) ([]*transfer.CrossChainTransfer, error) {
	const query = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE protocol = $1
			AND status = 'PENDING'
			AND id != $2
			AND "timestamp" BETWEEN $3 AND $4
			AND token_address IS NOT DISTINCT FROM $5
			AND amount = $6
			AND (
				(lower(source_address) = $7 AND lower(destination_address) = $8)
				OR (lower(source_address) = $8 AND lower(destination_address) = $7)
			)`

	amount, err := amountFromFingerprint(fp)
	if err != nil {
		return nil, err
	}

	rows, err := r.client.QueryContext(ctx, query,
		fp.Protocol, subjectID, since, until, nullStringOrNil(fp.TokenAddress), amount, fp.AddrLow, fp.AddrHigh)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*transfer.CrossChainTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullStringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func amountFromFingerprint(fp correlator.Fingerprint) (string, error) {
	return fp.Amount, nil
}

// CountRecent implements risk.ActivityLookup: the number of transfers
// touching address (as either endpoint) since the given time (§4.5
// frequent-bridging signal).
func (r *TransferRepository) CountRecent(ctx context.Context, address string, since time.Time) (int, error) {
	const query = `
		SELECT count(*) FROM bridge_transfer
		WHERE "timestamp" >= $1
			AND (lower(source_address) = $2 OR lower(destination_address) = $2)`
	var n int
	if err := r.client.QueryRowContext(ctx, query, since, address).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetByID implements the §6 getById() operation.
func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*transfer.CrossChainTransfer, error) {
	const query = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer WHERE id = $1`
	row := r.client.QueryRowContext(ctx, query, id)
	return scanTransfer(row)
}

// ListRecent implements the §6 listRecent(filter, pagination) operation.
func (r *TransferRepository) ListRecent(ctx context.Context, f Filter, p Pagination) ([]*transfer.CrossChainTransfer, error) {
	p = p.Normalize()
	query := `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE ($1 = '' OR protocol = $1)
			AND ($2 = '' OR status = $2)
			AND "timestamp" >= $3
		ORDER BY "timestamp" DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.client.QueryContext(ctx, query, f.Protocol, f.Status, f.SinceTime, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListByWallet implements the §6 listByWallet(address, pagination)
// operation: any transfer touching address as either endpoint.
func (r *TransferRepository) ListByWallet(ctx context.Context, address string, p Pagination) ([]*transfer.CrossChainTransfer, error) {
	p = p.Normalize()
	const query = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE lower(source_address) = $1 OR lower(destination_address) = $1
		ORDER BY "timestamp" DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.client.QueryContext(ctx, query, address, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// Search implements the §6 search(query) operation: a case-insensitive
// substring match over address/hash fields, distinct from the exact-match
// correlation fingerprint per the spec's open question on search
// semantics (§9).
func (r *TransferRepository) Search(ctx context.Context, query string, p Pagination) ([]*transfer.CrossChainTransfer, error) {
	p = p.Normalize()
	const sqlQuery = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE source_address ILIKE '%' || $1 || '%'
			OR destination_address ILIKE '%' || $1 || '%'
			OR transaction_hash ILIKE '%' || $1 || '%'
		ORDER BY "timestamp" DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.client.QueryContext(ctx, sqlQuery, query, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// Statistics implements the §6 statistics() operation.
func (r *TransferRepository) Statistics(ctx context.Context) (*Statistics, error) {
	const query = `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'COMPLETED'),
			count(*) FILTER (WHERE status = 'FAILED'),
			count(*) FILTER (WHERE risk_score > 0.7),
			coalesce(avg(risk_score), 0)
		FROM bridge_transfer`
	var s Statistics
	if err := r.client.QueryRowContext(ctx, query).Scan(
		&s.TotalTransfers, &s.PendingCount, &s.CompletedCount, &s.FailedCount,
		&s.HighRiskCount, &s.AverageRiskScore); err != nil {
		return nil, err
	}
	const dlQuery = `SELECT count(*) FROM dead_letter_transfer`
	if err := r.client.QueryRowContext(ctx, dlQuery).Scan(&s.DeadLetteredCount); err != nil {
		return nil, err
	}
	return &s, nil
}

// StalePending returns PENDING transfers older than threshold, for the
// correlation sweep's late-arriving-counterpart pass (§4.7).
func (r *TransferRepository) StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*transfer.CrossChainTransfer, error) {
	const query = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE status = 'PENDING' AND "timestamp" < $1
		ORDER BY "timestamp" ASC
		LIMIT $2`
	rows, err := r.client.QueryContext(ctx, query, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// MarkCorrelationTimeout appends a CORRELATION_TIMEOUT flag without
// changing status, per §4.7's sweep and §3's "status stays PENDING"
// requirement.
func (r *TransferRepository) MarkCorrelationTimeout(ctx context.Context, id uuid.UUID, flag transfer.RiskFlag) error {
	flagJSON, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	const query = `
		UPDATE bridge_transfer
		SET risk_flags = risk_flags || $2::jsonb, updated_at = now()
		WHERE id = $1 AND NOT (risk_flags @> $2::jsonb)`
	_, err = r.client.ExecContext(ctx, query, id, flagJSON)
	return err
}

// RecentlyUpdated returns transfers updated within the last window, for
// the rescoring sweep (§4.7).
func (r *TransferRepository) RecentlyUpdated(ctx context.Context, window time.Duration, limit int) ([]*transfer.CrossChainTransfer, error) {
	const query = `
		SELECT id, protocol, source_chain, destination_chain, source_address,
			destination_address, token_address, token_symbol, amount, raw_amount,
			transaction_hash, block_number, "timestamp", event_type, status,
			linked_transfer_id, risk_score, risk_flags, analyzed_at, metadata
		FROM bridge_transfer
		WHERE updated_at >= $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := r.client.QueryContext(ctx, query, time.Now().Add(-window), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*transfer.CrossChainTransfer, error) {
	var t transfer.CrossChainTransfer
	var sourceChain, destChain, sourceAddr, destAddr, tokenAddr sql.NullString
	var linked uuid.NullUUID
	var analyzedAt sql.NullTime
	var flagsJSON, metaJSON []byte

	if err := row.Scan(
		&t.ID, &t.Protocol, &sourceChain, &destChain, &sourceAddr,
		&destAddr, &tokenAddr, &t.TokenSymbol, &t.Amount, &t.RawAmount,
		&t.TransactionHash, &t.BlockNumber, &t.Timestamp, &t.EventType, &t.Status,
		&linked, &t.RiskScore, &flagsJSON, &analyzedAt, &metaJSON,
	); err != nil {
		return nil, err
	}

	if sourceChain.Valid {
		c := transfer.ChainTag(sourceChain.String)
		t.SourceChain = &c
	}
	if destChain.Valid {
		c := transfer.ChainTag(destChain.String)
		t.DestinationChain = &c
	}
	if sourceAddr.Valid {
		t.SourceAddress = &sourceAddr.String
	}
	if destAddr.Valid {
		t.DestinationAddress = &destAddr.String
	}
	if tokenAddr.Valid {
		t.TokenAddress = &tokenAddr.String
	}
	if linked.Valid {
		t.LinkedTransferID = &linked.UUID
	}
	if analyzedAt.Valid {
		t.AnalyzedAt = &analyzedAt.Time
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &t.RiskFlags); err != nil {
			return nil, err
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func scanAll(rows *sql.Rows) ([]*transfer.CrossChainTransfer, error) {
	var out []*transfer.CrossChainTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
