// Package sanctions implements the Sanctions Lookup component (§2, §4.5):
// a read-only, case-insensitive query over a pre-populated watchlist. The
// system is never the source of truth for sanctions data (§1 Non-goals);
// it only queries what a separate import pipeline has already loaded.
//
// Grounded on the teacher's repository pattern (pkg/database/repository_*.go:
// a thin struct wrapping *sql.DB, one method per query) applied to a
// read-only table instead of a CRUD one.
package sanctions

import (
	"context"
	"database/sql"
	"strings"

	"github.com/certen/bridge-observer/pkg/obserr"
)

// RiskLevel mirrors the watchlist's own severity tagging; it is opaque
// data from the Risk Engine's point of view (only IsActive gates the
// sanctions-hit signal).
type RiskLevel string

// Entry is a read-only sanctions watchlist record (§3 Sanctions Entry).
type Entry struct {
	Source        string
	EntityName    string
	WalletAddress *string
	Chain         *string
	RiskLevel     RiskLevel
	IsActive      bool
}

// Lookup is the read-only interface the Risk Engine consults. It is
// defined here, independent of the Postgres implementation below, so the
// Risk Engine can be tested against a fake.
type Lookup interface {
	// IsSanctioned reports whether addr (already lowercased, no 0x prefix)
	// has at least one active watchlist entry, matched case-insensitively.
	IsSanctioned(ctx context.Context, addr string) (bool, *Entry, error)
}

// Store is a Postgres-backed Lookup over a pre-populated sanctions table.
// It never writes; the import pipeline that populates the table is out of
// scope (§1).
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB connection. The sanctions table is
// created, if absent, by this repo's migration 0003; its rows come from an
// external import (§1: "it queries a pre-populated watchlist").
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsSanctioned performs a case-insensitive exact match against the
// watchlist's wallet_address column, returning the matching entry if one
// exists and is active. A lookup failure is surfaced as PersistenceTransient
// so the Risk Engine can fall back to a partial score rather than block
// the Observer (§4.5, §7 AnalysisIncomplete).
func (s *Store) IsSanctioned(ctx context.Context, addr string) (bool, *Entry, error) {
	if addr == "" {
		return false, nil, nil
	}
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))

	const query = `
		SELECT source, entity_name, wallet_address, chain, risk_level, is_active
		FROM sanctions_entries
		WHERE lower(wallet_address) = $1 AND is_active = true
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, addr)
	var e Entry
	var wallet, chain sql.NullString
	err := row.Scan(&e.Source, &e.EntityName, &wallet, &chain, &e.RiskLevel, &e.IsActive)
	switch {
	case err == sql.ErrNoRows:
		return false, nil, nil
	case err != nil:
		return false, nil, obserr.Wrapf(err, obserr.KindPersistenceTransient, "sanctions lookup for %s", addr)
	}
	if wallet.Valid {
		e.WalletAddress = &wallet.String
	}
	if chain.Valid {
		e.Chain = &chain.String
	}
	return true, &e, nil
}

// StaticLookup is an in-memory Lookup for tests and small deployments
// seeded directly from configuration rather than a database.
type StaticLookup struct {
	byAddress map[string]Entry
}

// NewStaticLookup builds a StaticLookup from a slice of entries, indexing
// by lowercased wallet address.
func NewStaticLookup(entries []Entry) *StaticLookup {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.WalletAddress == nil || !e.IsActive {
			continue
		}
		m[strings.ToLower(strings.TrimPrefix(*e.WalletAddress, "0x"))] = e
	}
	return &StaticLookup{byAddress: m}
}

func (l *StaticLookup) IsSanctioned(_ context.Context, addr string) (bool, *Entry, error) {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if e, ok := l.byAddress[addr]; ok {
		return true, &e, nil
	}
	return false, nil, nil
}
