package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// pack ABI-encodes vals the way a real log's non-indexed data would be laid
// out, exercising the same abi.Arguments.Unpack path Decode calls.
func pack(t *testing.T, args abi.Arguments, vals ...interface{}) []byte {
	t.Helper()
	data, err := args.Pack(vals...)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return data
}

// TestStargateDecode_SourceSide exercises Scenario A's Log-1: a Stargate
// Swap event on ethereum bound for polygon.
func TestStargateDecode_SourceSide(t *testing.T) {
	d := NewStargateDecoder()
	from := common.HexToAddress("0xabc0000000000000000000000000000000000001")
	amount := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	args := abi.Arguments{
		{Type: mustType("uint16")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
	}
	data := pack(t, args, uint16(137), big.NewInt(0), big.NewInt(0), from, amount, big.NewInt(0))

	raw := chain.RawLog{
		Address:     common.HexToAddress("0x1100000000000000000000000000000000000000"),
		Topics:      []common.Hash{Topic0("Swap(uint16,uint256,uint256,address,uint256,uint256)")},
		Data:        data,
		TxHash:      common.HexToHash("0xaa01"),
		BlockNumber: 1000,
	}

	tr, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a decoded transfer, got nil")
	}
	if tr.Protocol != transfer.ProtocolStargate {
		t.Errorf("protocol = %s, want stargate", tr.Protocol)
	}
	if tr.EventType != transfer.EventSwap {
		t.Errorf("eventType = %s, want Swap", tr.EventType)
	}
	if tr.SourceAddress == nil || *tr.SourceAddress != "abc0000000000000000000000000000000000001" {
		t.Errorf("sourceAddress = %v, want abc...01", tr.SourceAddress)
	}
	if tr.DestinationAddress != nil {
		t.Errorf("destinationAddress should be unset on a half-sided source event, got %v", *tr.DestinationAddress)
	}
	if tr.DestinationChain == nil || *tr.DestinationChain != transfer.ChainPolygon {
		t.Errorf("destinationChain = %v, want polygon", tr.DestinationChain)
	}
	if !tr.Amount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("amount = %s, want 100", tr.Amount.String())
	}
	if !tr.IsHalfSided() {
		t.Error("expected source-only Swap to be half-sided")
	}
	if got := tr.Metadata["eventSide"]; got != "source" {
		t.Errorf("metadata eventSide = %v, want source", got)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("decoded transfer fails invariants: %v", err)
	}
}

// TestStargateDecode_DestinationSide exercises Scenario A's Log-2.
func TestStargateDecode_DestinationSide(t *testing.T) {
	d := NewStargateDecoder()
	to := common.HexToAddress("0xdef0000000000000000000000000000000000002")
	amount := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	args := abi.Arguments{
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
	}
	data := pack(t, args, amount, big.NewInt(0), big.NewInt(0))

	raw := chain.RawLog{
		Address: common.HexToAddress("0x1100000000000000000000000000000000000000"),
		Topics: []common.Hash{
			Topic0("SwapRemote(address,uint256,uint256,uint256)"),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0xbb02"),
		BlockNumber: 2000,
	}

	tr, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a decoded transfer, got nil")
	}
	if tr.DestinationAddress == nil || *tr.DestinationAddress != "def0000000000000000000000000000000000002" {
		t.Errorf("destinationAddress = %v, want def...02", tr.DestinationAddress)
	}
	if !tr.Amount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("amount = %s, want 100", tr.Amount.String())
	}
	if got := tr.Metadata["eventSide"]; got != "destination" {
		t.Errorf("metadata eventSide = %v, want destination", got)
	}
}

// TestDecode_UnknownTopicDropped covers §4.2: an unrecognized topic0 returns
// nil, not an error — the Observer drops it silently.
func TestDecode_UnknownTopicDropped(t *testing.T) {
	d := NewStargateDecoder()
	raw := chain.RawLog{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
		TxHash: common.HexToHash("0xcc03"),
	}
	tr, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error on unknown topic: %v", err)
	}
	if tr != nil {
		t.Fatalf("expected nil for unrecognized topic, got %+v", tr)
	}
}

// TestDecode_NoTopicsDropped covers a log with zero topics (malformed or
// anonymous event), which must not panic on raw.Topics[0].
func TestDecode_NoTopicsDropped(t *testing.T) {
	d := NewStargateDecoder()
	tr, err := d.Decode(chain.RawLog{})
	if err != nil || tr != nil {
		t.Fatalf("expected (nil, nil) for a topic-less log, got (%+v, %v)", tr, err)
	}
}

// TestDecode_MalformedDataDropped ensures an undersized data payload for a
// recognized topic surfaces as a DecodeDropped error, not a panic.
func TestDecode_MalformedDataDropped(t *testing.T) {
	d := NewStargateDecoder()
	raw := chain.RawLog{
		Topics: []common.Hash{Topic0("Swap(uint16,uint256,uint256,address,uint256,uint256)")},
		Data:   []byte{0x01, 0x02},
		TxHash: common.HexToHash("0xdd04"),
	}
	tr, err := d.Decode(raw)
	if err == nil {
		t.Fatal("expected a decode error for truncated data")
	}
	if tr != nil {
		t.Fatalf("expected nil transfer alongside the error, got %+v", tr)
	}
}

// TestRegistry_AllProtocolsResolve ensures every closed-set protocol has a
// registered decoder, per §9's "adding a protocol is data, not code".
func TestRegistry_AllProtocolsResolve(t *testing.T) {
	for p := range transfer.ValidProtocols {
		d := For(p)
		if d == nil {
			t.Errorf("no decoder registered for protocol %s", p)
			continue
		}
		if d.Protocol() != p {
			t.Errorf("decoder for %s reports protocol %s", p, d.Protocol())
		}
		if len(d.Topics()) == 0 {
			t.Errorf("decoder for %s recognizes zero topics", p)
		}
	}
}

func TestRegistry_UnknownProtocolNil(t *testing.T) {
	if d := For(transfer.Protocol("not-a-real-protocol")); d != nil {
		t.Fatalf("expected nil decoder for unknown protocol, got %+v", d)
	}
}
