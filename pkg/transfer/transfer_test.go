package transfer

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNew_DefaultsArePending(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xABC123", 42)
	if tr.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", tr.Status)
	}
	if tr.TransactionHash != "0xabc123" {
		t.Fatalf("expected lowercased tx hash, got %s", tr.TransactionHash)
	}
	if tr.Metadata == nil {
		t.Fatal("expected non-nil metadata bag")
	}
}

func TestValidate_RejectsUnknownProtocol(t *testing.T) {
	tr := New(Protocol("not-a-protocol"), EventSend, "0xabc", 1)
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestValidate_RejectsNegativeAmount(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xabc", 1)
	tr.Amount = decimal.NewFromInt(-5)
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestValidate_RejectsOutOfRangeRiskScore(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xabc", 1)
	tr.RiskScore = 1.5
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for risk score outside [0,1]")
	}
}

func TestValidate_RejectsMalformedAddress(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xabc", 1)
	bad := "not-an-address"
	tr.SourceAddress = &bad
	if err := tr.Validate(); err == nil {
		t.Fatal("expected error for malformed source address")
	}
}

func TestIsHalfSided(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xabc", 1)
	if tr.IsHalfSided() {
		t.Fatal("expected false when neither side is populated")
	}

	src := "aaaa000000000000000000000000000000000001"
	tr.SourceAddress = &src
	if !tr.IsHalfSided() {
		t.Fatal("expected true when only source is populated")
	}

	dst := "bbbb000000000000000000000000000000000002"
	tr.DestinationAddress = &dst
	if tr.IsHalfSided() {
		t.Fatal("expected false when both sides are populated")
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0xAAAA000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "aaaa000000000000000000000000000000000001"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	if _, err := NormalizeAddress("too-short"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestChainTagFromID(t *testing.T) {
	if got := ChainTagFromID(1); got != ChainEthereum {
		t.Fatalf("expected ethereum, got %s", got)
	}
	if got := ChainTagFromID(999999); got != ChainTag("chain-999999") {
		t.Fatalf("expected chain-999999 escape hatch, got %s", got)
	}
}

func TestAddFlagAndHasFlag(t *testing.T) {
	tr := New(ProtocolStargate, EventSend, "0xabc", 1)
	if tr.HasFlag("SANCTIONS_MATCH") {
		t.Fatal("expected no flags on a fresh transfer")
	}
	tr.AddFlag(RiskFlag{Type: "SANCTIONS_MATCH", Severity: SeverityHigh})
	if !tr.HasFlag("SANCTIONS_MATCH") {
		t.Fatal("expected flag to be present after AddFlag")
	}
	if tr.HasFlag("HIGH_VALUE_TRANSFER") {
		t.Fatal("expected unrelated flag type to be absent")
	}
}
