package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/bridge-observer/pkg/sanctions"
	"github.com/certen/bridge-observer/pkg/transfer"
)

type fakeActivity struct {
	counts map[string]int
	err    error
}

func (f *fakeActivity) CountRecent(_ context.Context, address string, _ time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[address], nil
}

func newTransfer(amount string, src, dst *string) *transfer.CrossChainTransfer {
	t := transfer.New(transfer.ProtocolStargate, transfer.EventSend, "0xaa01", 1000)
	t.Amount = decimal.RequireFromString(amount)
	t.SourceAddress = src
	t.DestinationAddress = dst
	t.Timestamp = time.Now()
	return t
}

func ptr(s string) *string { return &s }

// Scenario A-ish: clean transfer, no signals triggered.
func TestScore_NoSignals(t *testing.T) {
	e := New(sanctions.NewStaticLookup(nil), &fakeActivity{}, DefaultThresholds())
	tr := newTransfer("100.0", ptr("abc0000000000000000000000000000000000001"), ptr("def0000000000000000000000000000000000002"))

	score, flags := e.Score(context.Background(), tr)
	if score != 0 {
		t.Fatalf("expected score 0, got %f", score)
	}
	if len(flags) != 0 {
		t.Fatalf("expected no flags, got %+v", flags)
	}
}

// Scenario B: sanctions hit on destination.
func TestScore_SanctionsHit(t *testing.T) {
	sanctioned := "dead0000000000000000000000000000000000ad"
	lookup := sanctions.NewStaticLookup([]sanctions.Entry{
		{Source: "OFAC", EntityName: "Test Entity", WalletAddress: &sanctioned, IsActive: true},
	})
	e := New(lookup, &fakeActivity{}, DefaultThresholds())
	tr := newTransfer("100.0", ptr("abc0000000000000000000000000000000000001"), &sanctioned)

	score, flags := e.Score(context.Background(), tr)
	if score != 0.8 {
		t.Fatalf("expected score 0.8, got %f", score)
	}
	if len(flags) != 1 || flags[0].Type != FlagSanctionsMatch || flags[0].Severity != transfer.SeverityHigh {
		t.Fatalf("expected single SANCTIONS_MATCH/HIGH flag, got %+v", flags)
	}
}

// Scenario C: high value + frequent bridging combine, capped correctly.
func TestScore_HighValueAndFrequent(t *testing.T) {
	src := "abc0000000000000000000000000000000000001"
	activity := &fakeActivity{counts: map[string]int{src: 12}}
	e := New(sanctions.NewStaticLookup(nil), activity, DefaultThresholds())
	tr := newTransfer("250000", &src, nil)

	score, flags := e.Score(context.Background(), tr)
	if score != 0.7 {
		t.Fatalf("expected score 0.7, got %f", score)
	}
	var hasHighValue, hasFrequent bool
	for _, f := range flags {
		switch f.Type {
		case FlagHighValueTransfer:
			hasHighValue = true
		case FlagFrequentBridgeUse:
			hasFrequent = true
		}
	}
	if !hasHighValue || !hasFrequent {
		t.Fatalf("expected both HIGH_VALUE_TRANSFER and FREQUENT_BRIDGE_USAGE flags, got %+v", flags)
	}
}

// Score must never exceed 1.0 even when every signal fires.
func TestScore_CappedAtOne(t *testing.T) {
	sanctioned := "dead0000000000000000000000000000000000ad"
	lookup := sanctions.NewStaticLookup([]sanctions.Entry{
		{Source: "OFAC", EntityName: "Test", WalletAddress: &sanctioned, IsActive: true},
	})
	activity := &fakeActivity{counts: map[string]int{sanctioned: 99}}
	e := New(lookup, activity, DefaultThresholds())
	tr := newTransfer("999999", &sanctioned, nil)

	score, _ := e.Score(context.Background(), tr)
	if score != 1.0 {
		t.Fatalf("expected capped score 1.0, got %f", score)
	}
}

// A failing lookup degrades to a partial score plus ANALYSIS_INCOMPLETE,
// never an error returned to the Observer (§4.5, §7).
func TestScore_AnalysisIncompleteOnLookupFailure(t *testing.T) {
	activity := &fakeActivity{err: errFake{}}
	e := New(sanctions.NewStaticLookup(nil), activity, DefaultThresholds())
	tr := newTransfer("100.0", ptr("abc0000000000000000000000000000000000001"), nil)

	_, flags := e.Score(context.Background(), tr)
	found := false
	for _, f := range flags {
		if f.Type == FlagAnalysisIncomplete {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ANALYSIS_INCOMPLETE flag, got %+v", flags)
	}
}

type errFake struct{}

func (errFake) Error() string { return "lookup unavailable" }
