// Package correlator implements the Cross-Chain Correlator (§4.4):
// matching a newly inserted PENDING transfer against its counterpart on
// the opposite side of the bridge, within a time window, and atomically
// marking both COMPLETED with mutual linkedTransferId references.
//
// Grounded on the teacher's pkg/consensus (intent.go, validator_block.go):
// a matching/linking algorithm over candidate sets with an explicit
// "nearest wins, never merge more than two" tie-break, re-purposed here
// from BFT intent matching to cross-chain transfer matching. The atomic
// conditional update is grounded on the teacher's repository_batch.go
// pattern of a `WHERE status = $n` guard making retries idempotent.
package correlator

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/bridge-observer/pkg/transfer"
)

// Fingerprint is the matching key described in §4.4: protocol, an
// unordered address pair, token address, and exact amount.
type Fingerprint struct {
	Protocol     transfer.Protocol
	AddrLow      string
	AddrHigh     string
	TokenAddress string
	Amount       string
}

// normalizeAddresses produces an unordered pair so that either side
// matches regardless of which one is source vs. destination on each leg.
func normalizeAddresses(a, b *string) (string, string) {
	var sa, sb string
	if a != nil {
		sa = strings.ToLower(*a)
	}
	if b != nil {
		sb = strings.ToLower(*b)
	}
	if sa > sb {
		sa, sb = sb, sa
	}
	return sa, sb
}

// FingerprintOf derives the matching key for a transfer record.
func FingerprintOf(t *transfer.CrossChainTransfer) Fingerprint {
	low, high := normalizeAddresses(t.SourceAddress, t.DestinationAddress)
	var token string
	if t.TokenAddress != nil {
		token = strings.ToLower(*t.TokenAddress)
	}
	return Fingerprint{
		Protocol:     t.Protocol,
		AddrLow:      low,
		AddrHigh:     high,
		TokenAddress: token,
		Amount:       t.Amount.String(),
	}
}

// DefaultWindow is the ±30 minute temporal window from §4.4.
const DefaultWindow = 30 * time.Minute

// Store is the store-side contract the Correlator needs: find PENDING
// candidates sharing a fingerprint within the window, and perform the
// atomic, conditional link. Implemented by pkg/database against the
// relational store; defined here so the Correlator can be tested without
// a database.
type Store interface {
	// FindCandidates returns PENDING transfers matching fp, excluding
	// subjectID, whose timestamp lies within [since, until].
	FindCandidates(ctx context.Context, fp Fingerprint, subjectID uuid.UUID, since, until time.Time) ([]*transfer.CrossChainTransfer, error)

	// Link atomically sets both rows to COMPLETED with mutual
	// linkedTransferId references, conditioned on both currently being
	// PENDING. It returns linked=false (not an error) if either row was
	// no longer PENDING by the time the update ran — the idempotent,
	// no-unlink no-op required by §4.4.
	Link(ctx context.Context, subjectID, peerID uuid.UUID) (linked bool, err error)
}

// GraphLinker emits the LINKED edge between two transfer nodes once a
// match is committed (§4.4 step 2). Optional: a nil GraphLinker simply
// skips the graph-side edge, matching the "graph write is best-effort,
// non-gating" policy of §4.6 applied to this edge too.
type GraphLinker interface {
	LinkTransfers(ctx context.Context, subjectID, peerID uuid.UUID) error
}

// Correlator matches PENDING transfers against their cross-chain
// counterpart.
type Correlator struct {
	store  Store
	graph  GraphLinker
	window time.Duration
}

// Option configures a Correlator at construction time.
type Option func(*Correlator)

// WithWindow overrides the default ±30 minute matching window.
func WithWindow(d time.Duration) Option {
	return func(c *Correlator) { c.window = d }
}

// WithGraphLinker attaches the graph-edge sink.
func WithGraphLinker(g GraphLinker) Option {
	return func(c *Correlator) { c.graph = g }
}

// New builds a Correlator over store.
func New(store Store, opts ...Option) *Correlator {
	c := &Correlator{store: store, window: DefaultWindow}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mirrors reports whether subject and candidate form a valid mirror pair:
// each side's known chain, if set on both records, must be the other's
// opposite (candidate.source == subject.destination or vice versa). Half
// -sided records with an unset chain on one side are treated as
// compatible — absence is not a mismatch (§4.2 half-sided events are
// legal).
func mirrors(subject, candidate *transfer.CrossChainTransfer) bool {
	sameChain := func(a, b *transfer.ChainTag) bool {
		if a == nil || b == nil {
			return true
		}
		return *a == *b
	}
	// candidate's source chain should equal subject's destination chain,
	// and candidate's destination chain should equal subject's source
	// chain, when both sides declare a chain.
	return sameChain(candidate.SourceChain, subject.DestinationChain) &&
		sameChain(candidate.DestinationChain, subject.SourceChain)
}

// Correlate runs the §4.4 algorithm for one newly inserted PENDING
// transfer: find candidates, pick nearest-in-time on multiple matches,
// and commit the atomic link. It returns the matched peer id, or nil if
// no candidate was found (CorrelationNoMatch — not an error, §7).
func (c *Correlator) Correlate(ctx context.Context, subject *transfer.CrossChainTransfer) (*uuid.UUID, error) {
	if subject.Status != transfer.StatusPending {
		return nil, nil
	}
	fp := FingerprintOf(subject)
	since := subject.Timestamp.Add(-c.window)
	until := subject.Timestamp.Add(c.window)

	candidates, err := c.store.FindCandidates(ctx, fp, subject.ID, since, until)
	if err != nil {
		return nil, err
	}

	var eligible []*transfer.CrossChainTransfer
	for _, cand := range candidates {
		if mirrors(subject, cand) {
			eligible = append(eligible, cand)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	// Nearest-in-time wins; never merge more than two (§4.4 step 4).
	sort.Slice(eligible, func(i, j int) bool {
		di := absDuration(eligible[i].Timestamp.Sub(subject.Timestamp))
		dj := absDuration(eligible[j].Timestamp.Sub(subject.Timestamp))
		return di < dj
	})
	peer := eligible[0]

	linked, err := c.store.Link(ctx, subject.ID, peer.ID)
	if err != nil {
		return nil, err
	}
	if !linked {
		// Peer was claimed by a concurrent Observer first; idempotent no-op.
		return nil, nil
	}

	if c.graph != nil {
		_ = c.graph.LinkTransfers(ctx, subject.ID, peer.ID)
	}

	peerID := peer.ID
	return &peerID, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
