package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/bridge-observer/pkg/transfer"
)

type fakeStore struct {
	candidates map[uuid.UUID][]*transfer.CrossChainTransfer
	linked     map[uuid.UUID]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		candidates: make(map[uuid.UUID][]*transfer.CrossChainTransfer),
		linked:     make(map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeStore) FindCandidates(_ context.Context, _ Fingerprint, subjectID uuid.UUID, _, _ time.Time) ([]*transfer.CrossChainTransfer, error) {
	return f.candidates[subjectID], nil
}

func (f *fakeStore) Link(_ context.Context, subjectID, peerID uuid.UUID) (bool, error) {
	if _, already := f.linked[subjectID]; already {
		return false, nil
	}
	if _, already := f.linked[peerID]; already {
		return false, nil
	}
	f.linked[subjectID] = peerID
	f.linked[peerID] = subjectID
	return true, nil
}

func chainPtr(c transfer.ChainTag) *transfer.ChainTag { return &c }
func strPtr(s string) *string                         { return &s }

func sampleTransfer(srcChain, dstChain *transfer.ChainTag, ts time.Time) *transfer.CrossChainTransfer {
	t := transfer.New(transfer.ProtocolStargate, transfer.EventSend, "0xaa01", 1000)
	t.SourceAddress = strPtr("abc0000000000000000000000000000000000001")
	t.DestinationAddress = strPtr("def0000000000000000000000000000000000002")
	t.TokenAddress = strPtr("111000000000000000000000000000000000000t")
	t.Amount = decimal.RequireFromString("100.0")
	t.SourceChain = srcChain
	t.DestinationChain = dstChain
	t.Timestamp = ts
	return t
}

func TestCorrelate_SingleMatch(t *testing.T) {
	now := time.Now()
	subject := sampleTransfer(chainPtr(transfer.ChainEthereum), chainPtr(transfer.ChainPolygon), now)
	peer := sampleTransfer(chainPtr(transfer.ChainPolygon), chainPtr(transfer.ChainEthereum), now.Add(60*time.Second))

	store := newFakeStore()
	store.candidates[subject.ID] = []*transfer.CrossChainTransfer{peer}

	c := New(store)
	linkedID, err := c.Correlate(context.Background(), subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linkedID == nil || *linkedID != peer.ID {
		t.Fatalf("expected link to peer %s, got %v", peer.ID, linkedID)
	}
}

func TestCorrelate_NoCandidates(t *testing.T) {
	subject := sampleTransfer(chainPtr(transfer.ChainEthereum), chainPtr(transfer.ChainPolygon), time.Now())
	store := newFakeStore()

	c := New(store)
	linkedID, err := c.Correlate(context.Background(), subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linkedID != nil {
		t.Fatalf("expected no match, got %v", linkedID)
	}
}

func TestCorrelate_MultipleCandidatesPicksNearest(t *testing.T) {
	now := time.Now()
	subject := sampleTransfer(chainPtr(transfer.ChainEthereum), chainPtr(transfer.ChainPolygon), now)
	near := sampleTransfer(chainPtr(transfer.ChainPolygon), chainPtr(transfer.ChainEthereum), now.Add(1*time.Minute))
	far := sampleTransfer(chainPtr(transfer.ChainPolygon), chainPtr(transfer.ChainEthereum), now.Add(20*time.Minute))

	store := newFakeStore()
	store.candidates[subject.ID] = []*transfer.CrossChainTransfer{far, near}

	c := New(store)
	linkedID, err := c.Correlate(context.Background(), subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linkedID == nil || *linkedID != near.ID {
		t.Fatalf("expected nearest-in-time match %s, got %v", near.ID, linkedID)
	}
}

// Idempotence: running correlation against an already-linked subject is a
// no-op (§4.4, §8).
func TestCorrelate_AlreadyLinkedIsNoOp(t *testing.T) {
	subject := sampleTransfer(chainPtr(transfer.ChainEthereum), chainPtr(transfer.ChainPolygon), time.Now())
	subject.Status = transfer.StatusCompleted

	store := newFakeStore()
	c := New(store)
	linkedID, err := c.Correlate(context.Background(), subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linkedID != nil {
		t.Fatalf("expected no-op for already-completed subject, got %v", linkedID)
	}
}

// Half-sided events with no declared chain on one side must not be
// rejected by the mirror check (§4.2).
func TestMirrors_HalfSidedIsCompatible(t *testing.T) {
	subject := sampleTransfer(chainPtr(transfer.ChainEthereum), nil, time.Now())
	candidate := sampleTransfer(nil, chainPtr(transfer.ChainEthereum), time.Now())
	if !mirrors(subject, candidate) {
		t.Fatal("expected half-sided records with unset chains to be treated as compatible")
	}
}
