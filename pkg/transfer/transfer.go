// Package transfer defines the CrossChainTransfer record — the central
// entity normalized from every decoded bridge event, scored by the risk
// engine, and linked by the correlator.
package transfer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Protocol is the closed set of bridge protocols this fleet understands.
type Protocol string

const (
	ProtocolStargate     Protocol = "stargate"
	ProtocolCelerCBridge Protocol = "celer_cbridge"
	ProtocolWormhole     Protocol = "wormhole"
	ProtocolSynapse      Protocol = "synapse"
	ProtocolHop          Protocol = "hop"
	ProtocolDeBridge     Protocol = "debridge"
	ProtocolAcross       Protocol = "across"
	ProtocolOrbiter      Protocol = "orbiter"
	ProtocolXBridge      Protocol = "xbridge"
	ProtocolMultichain   Protocol = "multichain"
)

// ValidProtocols enumerates the closed set for boundary validation.
var ValidProtocols = map[Protocol]bool{
	ProtocolStargate: true, ProtocolCelerCBridge: true, ProtocolWormhole: true,
	ProtocolSynapse: true, ProtocolHop: true, ProtocolDeBridge: true,
	ProtocolAcross: true, ProtocolOrbiter: true, ProtocolXBridge: true,
	ProtocolMultichain: true,
}

// ChainTag is the closed vocabulary for source/destination chains, with a
// chain-<id> escape hatch for unrecognized numeric chain ids.
type ChainTag string

const (
	ChainEthereum ChainTag = "ethereum"
	ChainBSC      ChainTag = "bsc"
	ChainPolygon  ChainTag = "polygon"
	ChainArbitrum ChainTag = "arbitrum"
	ChainOptimism ChainTag = "optimism"
	ChainAvalanche ChainTag = "avalanche"
	ChainFantom   ChainTag = "fantom"
	ChainZkSync   ChainTag = "zksync"
	ChainLinea    ChainTag = "linea"
	ChainBase     ChainTag = "base"
)

var knownChainByID = map[uint64]ChainTag{
	1:     ChainEthereum,
	56:    ChainBSC,
	137:   ChainPolygon,
	42161: ChainArbitrum,
	10:    ChainOptimism,
	43114: ChainAvalanche,
	250:   ChainFantom,
	324:   ChainZkSync,
	59144: ChainLinea,
	8453:  ChainBase,
}

// ChainTagFromID maps a numeric chain id to its tag, falling back to the
// literal "chain-<id>" form for ids outside the known vocabulary.
func ChainTagFromID(id uint64) ChainTag {
	if tag, ok := knownChainByID[id]; ok {
		return tag
	}
	return ChainTag(fmt.Sprintf("chain-%d", id))
}

// Status is the lifecycle status of a transfer record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// EventType is the decoder-assigned tag describing which bridge event
// produced this record.
type EventType string

const (
	EventDeposit        EventType = "Deposit"
	EventSend           EventType = "Send"
	EventTransferTokens EventType = "TransferTokens"
	EventRedeem         EventType = "Redeem"
	EventSwap           EventType = "Swap"
	EventReceive        EventType = "Receive"
)

// Severity tags the importance of a risk flag.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// RiskFlag is one reason contributing to a transfer's risk score.
type RiskFlag struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

var addressPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// NormalizeAddress lowercases and strips an optional 0x prefix, returning
// an error if the remaining 40-hex-character invariant does not hold.
func NormalizeAddress(addr string) (string, error) {
	a := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if !addressPattern.MatchString(a) {
		return "", fmt.Errorf("address %q does not match 40-hex pattern", addr)
	}
	return a, nil
}

// ZeroAddress is the EVM placeholder address. It only names the value:
// neither the decoders nor Validate reject a zero address.
const ZeroAddress = "0000000000000000000000000000000000000000"

// CrossChainTransfer is the central, normalized record produced by every
// protocol decoder and mutated at most twice after creation: once by the
// Risk Engine, once by the Correlator.
type CrossChainTransfer struct {
	ID                 uuid.UUID
	Protocol           Protocol
	SourceChain        *ChainTag
	DestinationChain   *ChainTag
	SourceAddress      *string
	DestinationAddress *string
	TokenAddress       *string
	TokenSymbol        string
	Amount             decimal.Decimal
	RawAmount          string // native-unit integer string when token decimals are unknown
	TransactionHash    string
	BlockNumber        uint64
	Timestamp          time.Time
	EventType          EventType
	Status             Status
	LinkedTransferID   *uuid.UUID
	RiskScore          float64
	RiskFlags          []RiskFlag
	AnalyzedAt         *time.Time
	Metadata           map[string]interface{}
}

// New constructs a CrossChainTransfer with the invariant defaults: a fresh
// id, PENDING status, and an empty metadata bag. Decoders call this instead
// of building the struct literal directly so every record starts valid.
// Timestamp is left zero; the Observer fills it in from the Chain Client's
// block-timestamp lookup (§4.3 step 3), never re-derived by the decoder,
// which performs no I/O.
func New(protocol Protocol, eventType EventType, txHash string, blockNumber uint64) *CrossChainTransfer {
	return &CrossChainTransfer{
		ID:              uuid.New(),
		Protocol:        protocol,
		TokenSymbol:     "UNKNOWN",
		TransactionHash: strings.ToLower(txHash),
		BlockNumber:     blockNumber,
		EventType:       eventType,
		Status:          StatusPending,
		Metadata:        make(map[string]interface{}),
	}
}

// Validate enforces the §3 invariants that do not require store access:
// amount non-negative, score range, address shape.
func (t *CrossChainTransfer) Validate() error {
	if !ValidProtocols[t.Protocol] {
		return fmt.Errorf("unknown protocol %q", t.Protocol)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("amount %s is negative", t.Amount.String())
	}
	if t.RiskScore < 0 || t.RiskScore > 1 {
		return fmt.Errorf("riskScore %f out of [0,1]", t.RiskScore)
	}
	if t.SourceAddress != nil && !addressPattern.MatchString(*t.SourceAddress) {
		return fmt.Errorf("sourceAddress %q malformed", *t.SourceAddress)
	}
	if t.DestinationAddress != nil && !addressPattern.MatchString(*t.DestinationAddress) {
		return fmt.Errorf("destinationAddress %q malformed", *t.DestinationAddress)
	}
	return nil
}

// IsHalfSided reports whether only one side of the transfer (source xor
// destination) is populated — a legal decode outcome, not an error.
func (t *CrossChainTransfer) IsHalfSided() bool {
	return (t.SourceAddress == nil) != (t.DestinationAddress == nil)
}

// AddFlag appends a risk flag, keeping the ordered-list contract the risk
// engine relies on.
func (t *CrossChainTransfer) AddFlag(f RiskFlag) {
	t.RiskFlags = append(t.RiskFlags, f)
}

// HasFlag reports whether a flag of the given type is already present.
func (t *CrossChainTransfer) HasFlag(flagType string) bool {
	for _, f := range t.RiskFlags {
		if f.Type == flagType {
			return true
		}
	}
	return false
}
