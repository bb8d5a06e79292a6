// Package risk implements the Risk Scoring Engine (§4.5): a pure scoring
// function over a CrossChainTransfer plus three lookups, producing a
// score in [0,1] and an ordered list of risk flags. It never blocks the
// Observer: a failing lookup degrades to a partial score plus an
// ANALYSIS_INCOMPLETE flag rather than propagating an error.
//
// Grounded on the teacher's pkg/verification package (a pure decision
// function consuming several independent signal sources, each optional)
// and pkg/attestation/strategy (additive scoring with named thresholds).
package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/bridge-observer/pkg/sanctions"
	"github.com/certen/bridge-observer/pkg/transfer"
)

const (
	FlagSanctionsMatch     = "SANCTIONS_MATCH"
	FlagHighValueTransfer  = "HIGH_VALUE_TRANSFER"
	FlagFrequentBridgeUse  = "FREQUENT_BRIDGE_USAGE"
	FlagAnalysisIncomplete = "ANALYSIS_INCOMPLETE"
	FlagCorrelationTimeout = "CORRELATION_TIMEOUT"
)

const (
	sanctionsWeight  = 0.8
	highValueWeight  = 0.3
	frequentWeight   = 0.4
)

// ActivityLookup counts transfers touching an address within a recent
// window, backing the "frequent bridging" signal (§4.5). Defined here
// rather than depending on pkg/database directly, so the engine can be
// tested against a fake and so pkg/database need not be imported by
// pkg/risk (it is the other way around, in the Supervisor's wiring).
type ActivityLookup interface {
	CountRecent(ctx context.Context, address string, since time.Time) (int, error)
}

// Thresholds configures the engine's signal boundaries (§6 inbound config).
type Thresholds struct {
	HighValueAmount     decimal.Decimal
	FrequentBridgeCount int
	ActivityWindow      time.Duration
}

// DefaultThresholds matches the §4.5 defaults: 100,000 token units and 10
// transfers in 24 hours.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighValueAmount:     decimal.NewFromInt(100000),
		FrequentBridgeCount: 10,
		ActivityWindow:      24 * time.Hour,
	}
}

// Engine scores CrossChainTransfer records against sanctions and
// behavioral signals. It holds no per-transfer state; every Score call is
// independent and deterministic given the same lookup responses (§4.5).
type Engine struct {
	sanctions  sanctions.Lookup
	activity   ActivityLookup
	thresholds Thresholds
}

// New builds a scoring Engine. activity may be nil if no behavioral
// history source is wired yet; the frequent-bridging signal is then
// skipped rather than errored, and no ANALYSIS_INCOMPLETE flag is added
// (unlike a lookup failure).
func New(sanctionsLookup sanctions.Lookup, activity ActivityLookup, thresholds Thresholds) *Engine {
	return &Engine{sanctions: sanctionsLookup, activity: activity, thresholds: thresholds}
}

// Score evaluates a transfer and returns the additive score (capped at
// 1.0) plus the ordered flags that justify it. It mutates nothing on t;
// the caller (Observer pipeline) is responsible for writing RiskScore,
// RiskFlags, and AnalyzedAt back onto the record (§3 lifecycle: the Risk
// Engine "writes" those fields, but only the Observer commits the
// mutation after Score returns).
func (e *Engine) Score(ctx context.Context, t *transfer.CrossChainTransfer) (float64, []transfer.RiskFlag) {
	var score float64
	var flags []transfer.RiskFlag
	incomplete := false

	if hit, entry, err := e.checkSanctions(ctx, t); err != nil {
		incomplete = true
	} else if hit {
		score += sanctionsWeight
		details := map[string]any{}
		if entry != nil {
			details["source"] = entry.Source
			details["entityName"] = entry.EntityName
		}
		flags = append(flags, transfer.RiskFlag{
			Type:        FlagSanctionsMatch,
			Severity:    transfer.SeverityHigh,
			Description: "address matches an active sanctions watchlist entry",
			Details:     details,
		})
	}

	if e.isHighValue(t) {
		score += highValueWeight
		flags = append(flags, transfer.RiskFlag{
			Type:        FlagHighValueTransfer,
			Severity:    transfer.SeverityMedium,
			Description: "transfer amount exceeds the configured high-value threshold",
			Details: map[string]any{
				"amount":    t.Amount.String(),
				"threshold": e.thresholds.HighValueAmount.String(),
			},
		})
	}

	if count, err := e.checkFrequency(ctx, t); err != nil {
		incomplete = true
	} else if count > e.thresholds.FrequentBridgeCount {
		score += frequentWeight
		flags = append(flags, transfer.RiskFlag{
			Type:        FlagFrequentBridgeUse,
			Severity:    transfer.SeverityMedium,
			Description: "endpoint address exceeds the configured bridging frequency threshold",
			Details: map[string]any{
				"count":     count,
				"threshold": e.thresholds.FrequentBridgeCount,
				"window":    e.thresholds.ActivityWindow.String(),
			},
		})
	}

	if incomplete {
		flags = append(flags, transfer.RiskFlag{
			Type:        FlagAnalysisIncomplete,
			Severity:    transfer.SeverityLow,
			Description: "one or more risk signals could not be evaluated; score is partial",
		})
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, flags
}

// checkSanctions consults the watchlist for either endpoint; a hit on
// either side is sufficient (§4.5).
func (e *Engine) checkSanctions(ctx context.Context, t *transfer.CrossChainTransfer) (bool, *sanctions.Entry, error) {
	if e.sanctions == nil {
		return false, nil, nil
	}
	if t.SourceAddress != nil {
		if hit, entry, err := e.sanctions.IsSanctioned(ctx, *t.SourceAddress); err != nil {
			return false, nil, err
		} else if hit {
			return true, entry, nil
		}
	}
	if t.DestinationAddress != nil {
		if hit, entry, err := e.sanctions.IsSanctioned(ctx, *t.DestinationAddress); err != nil {
			return false, nil, err
		} else if hit {
			return true, entry, nil
		}
	}
	return false, nil, nil
}

func (e *Engine) isHighValue(t *transfer.CrossChainTransfer) bool {
	return t.Amount.GreaterThan(e.thresholds.HighValueAmount)
}

// checkFrequency counts transfers touching either endpoint within the
// configured window, taking the higher of the two counts (either address
// being "hot" is sufficient to flag, per §4.5's "either endpoint").
func (e *Engine) checkFrequency(ctx context.Context, t *transfer.CrossChainTransfer) (int, error) {
	if e.activity == nil {
		return 0, nil
	}
	since := t.Timestamp.Add(-e.thresholds.ActivityWindow)
	best := 0
	if t.SourceAddress != nil {
		n, err := e.activity.CountRecent(ctx, *t.SourceAddress, since)
		if err != nil {
			return 0, err
		}
		if n > best {
			best = n
		}
	}
	if t.DestinationAddress != nil {
		n, err := e.activity.CountRecent(ctx, *t.DestinationAddress, since)
		if err != nil {
			return 0, err
		}
		if n > best {
			best = n
		}
	}
	return best, nil
}
