// Package supervisor implements the Supervisor (§4.7): constructing the
// observer fleet from configuration, starting/monitoring/stopping it,
// aggregating status, and running the periodic rescoring and correlation
// sweeps.
//
// Grounded on the teacher's main.go fleet-construction pattern (one
// component per configured concern, a HealthStatus aggregate updated as
// components come up) and pkg/batch/scheduler.go (ticker-driven periodic
// maintenance loops with their own cancellation). Per §9's redesign note,
// the Supervisor owns the only registry of constructed Chain
// Clients/Observers — there is no process-wide mutable singleton map.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/addrvalidate"
	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/config"
	"github.com/certen/bridge-observer/pkg/correlator"
	"github.com/certen/bridge-observer/pkg/database"
	"github.com/certen/bridge-observer/pkg/decoder"
	"github.com/certen/bridge-observer/pkg/graphstore"
	"github.com/certen/bridge-observer/pkg/metrics"
	"github.com/certen/bridge-observer/pkg/obserr"
	"github.com/certen/bridge-observer/pkg/observer"
	"github.com/certen/bridge-observer/pkg/risk"
	"github.com/certen/bridge-observer/pkg/transfer"
)

// key identifies one fleet entry the way §4.7's start/stop operations
// address it: by (protocol, chain).
type key struct {
	protocol transfer.Protocol
	chain    transfer.ChainTag
}

// entry is the Supervisor's registry record for one configured observer.
type entry struct {
	spec     config.ObserverSpec
	obs      *observer.Observer
	cancel   context.CancelFunc
	runErr   error
	disabled bool
	disabledReason string
	mu       sync.Mutex
}

// Deps bundles the shared collaborators every Observer's pipeline is
// wired against (§5: shared relational/graph pools, shared risk engine
// and correlator — not per-Observer).
type Deps struct {
	DB          *database.Client // for pool health reporting in Status()
	Transfers   *database.TransferRepository
	DeadLetters *database.DeadLetterRepository
	Graph       *graphstore.Store // optional
	Risk        *risk.Engine
	Correlator  *correlator.Correlator
	Metrics     *metrics.Collectors
	Pool        *observer.WorkerPool
	RPCTimeout  time.Duration
}

// Supervisor constructs, starts, monitors, and stops the Bridge Observer
// fleet, and runs its periodic maintenance sweeps.
type Supervisor struct {
	deps   Deps
	logger *log.Logger

	mu      sync.RWMutex
	entries map[key]*entry

	thresholds config.EngineThresholds
}

// New constructs a Supervisor from a parsed Fleet topology. Per-tuple
// validation failures (zero address, unknown protocol) are recorded as
// disabled entries rather than aborting construction of the rest of the
// fleet (§7 ConfigInvalid is per-observer).
func New(fleet *config.Fleet, deps Deps, thresholds config.EngineThresholds) *Supervisor {
	s := &Supervisor{
		deps:       deps,
		logger:     log.New(log.Writer(), "[Supervisor] ", log.LstdFlags),
		entries:    make(map[key]*entry),
		thresholds: thresholds,
	}
	for _, spec := range fleet.Observers {
		s.register(spec)
	}
	return s
}

func (s *Supervisor) register(spec config.ObserverSpec) {
	k := key{protocol: transfer.Protocol(spec.Protocol), chain: transfer.ChainTag(spec.Chain)}
	e := &entry{spec: spec}

	if _, ok := transfer.ValidProtocols[k.protocol]; !ok {
		e.disabled = true
		e.disabledReason = fmt.Sprintf("unknown protocol %q", spec.Protocol)
		s.logger.Printf("disabling %s/%s: %s", spec.Protocol, spec.Chain, e.disabledReason)
	} else if _, err := addrvalidate.ValidateContract(spec.ContractAddress); err != nil {
		// Per §9's open question: zero-address placeholders are disabled
		// observers, never valid targets — not a startup failure.
		e.disabled = true
		e.disabledReason = err.Error()
		s.logger.Printf("disabling %s/%s: %s", spec.Protocol, spec.Chain, e.disabledReason)
	}

	s.mu.Lock()
	s.entries[k] = e
	s.mu.Unlock()
}

// StartAllResult is the §4.7 startAll() return shape.
type StartAllResult struct {
	Running int
	Failed  int
}

// StartAll concurrently initializes every registered, non-disabled
// Observer (§4.7, §5: Observers run concurrently with each other).
func (s *Supervisor) StartAll(ctx context.Context) StartAllResult {
	s.mu.RLock()
	keys := make([]key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k key) {
			defer wg.Done()
			if err := s.start(ctx, k); err != nil {
				s.logger.Printf("observer %s/%s failed to start: %v", k.protocol, k.chain, err)
			}
		}(k)
	}
	wg.Wait()

	return s.aggregateStart()
}

func (s *Supervisor) aggregateStart() StartAllResult {
	status := s.Status()
	return StartAllResult{Running: status.TotalRunning, Failed: status.TotalFailed}
}

// Start constructs (if needed) and runs the Observer for (protocol, chain)
// in its own goroutine. It is also the per-protocol/chain control entry
// point named in §4.7.
func (s *Supervisor) Start(protocol transfer.Protocol, chainTag transfer.ChainTag) error {
	return s.start(context.Background(), key{protocol: protocol, chain: chainTag})
}

func (s *Supervisor) start(ctx context.Context, k key) error {
	s.mu.Lock()
	e, ok := s.entries[k]
	s.mu.Unlock()
	if !ok {
		return obserr.ConfigInvalid(string(k.protocol)+"/"+string(k.chain), "not registered")
	}
	if e.disabled {
		return obserr.ConfigInvalid(string(k.protocol)+"/"+string(k.chain), e.disabledReason)
	}

	dec := decoder.For(k.protocol)
	if dec == nil {
		return obserr.ConfigInvalid(string(k.protocol), "no decoder registered")
	}

	contract := common.HexToAddress(e.spec.ContractAddress)
	client, err := chain.Dial(ctx, e.spec.ChainID, e.spec.RPCPrimary, e.spec.RPCFallbacks)
	if err != nil {
		return err
	}

	pipe := observer.Pipeline{
		Risk:        s.deps.Risk,
		Correlator:  s.deps.Correlator,
		Transfers:   s.deps.Transfers,
		DeadLetters: s.deps.DeadLetters,
		Metrics:     s.deps.Metrics,
		Pool:        s.deps.Pool,
		Retry:       obserr.DefaultRetryPolicy(),
	}
	if s.deps.Graph != nil {
		pipe.Graph = s.deps.Graph
	}

	obs := observer.New(k.protocol, k.chain, contract, client, dec, pipe)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.obs = obs
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		err := obs.Run(runCtx)
		e.mu.Lock()
		e.runErr = err
		e.mu.Unlock()
		if err != nil {
			s.logger.Printf("observer %s/%s entered FAILED: %v", k.protocol, k.chain, err)
		}
	}()

	s.awaitRunning(obs)

	return nil
}

// awaitRunning blocks, bounded by the configured RPC timeout (default
// 30s), for a freshly spawned Observer to leave StateInit for a running
// or terminal state. Without this, start() would return the instant the
// goroutine above is scheduled — not once it has run — so StartAll's
// wg.Wait() could observe every entry still at its StateInit zero value
// and report zero running observers even though every dial already
// succeeded, tripping cmd/bridge-observer's "exit non-zero iff zero
// observers are running" check on a pure scheduling race. Polls the way
// pkg/observer/observer_test.go's TestRun_StopIsBounded does.
func (s *Supervisor) awaitRunning(obs *observer.Observer) {
	timeout := s.deps.RPCTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		st := obs.State()
		if st.Running() || st.Terminal() {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Stop drives the Observer for (protocol, chain) to STOPPED (§4.7).
func (s *Supervisor) Stop(protocol transfer.Protocol, chainTag transfer.ChainTag) error {
	k := key{protocol: protocol, chain: chainTag}
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if !ok {
		return obserr.ConfigInvalid(string(protocol)+"/"+string(chainTag), "not registered")
	}

	e.mu.Lock()
	obs := e.obs
	cancel := e.cancel
	e.mu.Unlock()
	if obs == nil {
		return nil
	}
	obs.Stop()
	if cancel != nil {
		cancel()
	}
	return nil
}

// StopAll signals every Observer to stop, waiting up to timeout for
// acknowledgment before returning; in-flight work past that point is
// force-detached, not waited out (§5).
func (s *Supervisor) StopAll(timeout time.Duration) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		e.mu.Lock()
		obs := e.obs
		cancel := e.cancel
		e.mu.Unlock()
		if obs == nil {
			continue
		}
		wg.Add(1)
		go func(obs *observer.Observer, cancel context.CancelFunc) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				obs.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(timeout):
			}
			if cancel != nil {
				cancel()
			}
		}(obs, cancel)
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(timeout):
	}
}

// ObserverStatus is one row of the §4.7 status() response.
type ObserverStatus struct {
	Protocol       transfer.Protocol
	Chain          transfer.ChainTag
	State          observer.State
	ActiveEndpoint string
	Disabled       bool
	DisabledReason string
}

// FleetStatus is the aggregate §4.7 status() response.
type FleetStatus struct {
	TotalRunning int
	TotalFailed  int
	ByObserver   []ObserverStatus
}

// Status reports the current state of every registered Observer.
func (s *Supervisor) Status() FleetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fs FleetStatus
	for k, e := range s.entries {
		e.mu.Lock()
		obs := e.obs
		disabled := e.disabled
		reason := e.disabledReason
		e.mu.Unlock()

		row := ObserverStatus{Protocol: k.protocol, Chain: k.chain, Disabled: disabled, DisabledReason: reason}
		if obs != nil {
			row.State = obs.State()
			row.ActiveEndpoint = obs.ActiveEndpoint()
			if row.State.Running() {
				fs.TotalRunning++
			}
			if row.State == observer.StateFailed {
				fs.TotalFailed++
			}
		}
		fs.ByObserver = append(fs.ByObserver, row)
	}
	return fs
}

// FleetHealth extends Status() with the dual-store connectivity checks the
// teacher's HealthStatus aggregate performs for its own subsystems
// (main.go), per §4.7's status() plus the supplemented health-reporting
// feature.
type FleetHealth struct {
	FleetStatus
	DatabaseHealthy bool
	GraphHealthy    bool
}

// Health reports fleet status plus a live connectivity check against the
// relational and (if configured) graph stores.
func (s *Supervisor) Health(ctx context.Context) FleetHealth {
	h := FleetHealth{FleetStatus: s.Status()}
	if s.deps.DB != nil {
		h.DatabaseHealthy = s.deps.DB.Health(ctx).Healthy
	}
	if s.deps.Graph != nil {
		h.GraphHealthy = s.deps.Graph.Health(ctx)
	}
	return h
}

// Run blocks, driving the periodic rescoring and correlation sweeps
// (§4.7) on their configured intervals until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	rescoreEvery := s.thresholds.RescoreSweepEvery
	if rescoreEvery <= 0 {
		rescoreEvery = 15 * time.Minute
	}
	correlateEvery := s.thresholds.CorrelationSweepEvery
	if correlateEvery <= 0 {
		correlateEvery = 5 * time.Minute
	}

	rescoreTicker := time.NewTicker(rescoreEvery)
	correlateTicker := time.NewTicker(correlateEvery)
	defer rescoreTicker.Stop()
	defer correlateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rescoreTicker.C:
			if err := s.RescoringSweep(ctx); err != nil {
				s.logger.Printf("rescoring sweep failed: %v", err)
			}
		case <-correlateTicker.C:
			if err := s.CorrelationSweep(ctx); err != nil {
				s.logger.Printf("correlation sweep failed: %v", err)
			}
		}
	}
}

// RescoringSweep re-runs the Risk Engine over recently updated transfers
// (§4.7), so a transfer whose counterpart arrived after scoring picks up a
// FREQUENT_BRIDGE_USAGE flag its initial score missed.
func (s *Supervisor) RescoringSweep(ctx context.Context) error {
	if s.deps.Transfers == nil || s.deps.Risk == nil {
		return nil
	}
	window := s.thresholds.RescoreSweepEvery
	if window <= 0 {
		window = 15 * time.Minute
	}
	rows, err := s.deps.Transfers.RecentlyUpdated(ctx, window, 500)
	if err != nil {
		return err
	}
	for _, t := range rows {
		score, flags := s.deps.Risk.Score(ctx, t)
		if err := s.deps.Transfers.UpdateRiskScore(ctx, t.ID, score, flags, time.Now().UTC()); err != nil {
			s.logger.Printf("rescoring update failed id=%s: %v", t.ID, err)
		}
	}
	return nil
}

// CorrelationSweep re-attempts correlation for PENDING transfers that
// missed their counterpart inside the real-time window (§4.4, §4.7), and
// flags (without blocking further matching) rows stale long enough to be
// considered abandoned.
func (s *Supervisor) CorrelationSweep(ctx context.Context) error {
	if s.deps.Transfers == nil || s.deps.Correlator == nil {
		return nil
	}
	staleAfter := s.thresholds.PendingStaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	timeoutAfter := s.thresholds.PendingTimeoutAfter
	if timeoutAfter <= 0 {
		timeoutAfter = 24 * time.Hour
	}

	rows, err := s.deps.Transfers.StalePending(ctx, staleAfter, 500)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, t := range rows {
		peerID, err := s.deps.Correlator.Correlate(ctx, t)
		if err != nil {
			s.logger.Printf("sweep correlation failed tx=%s: %v", t.TransactionHash, err)
			continue
		}
		if peerID != nil {
			continue
		}
		if now.Sub(t.Timestamp) > timeoutAfter {
			if err := s.deps.Transfers.MarkCorrelationTimeout(ctx, t.ID, transfer.RiskFlag{
				Type:        risk.FlagCorrelationTimeout,
				Severity:    transfer.SeverityLow,
				Description: "no counterpart observed within the correlation timeout window",
			}); err != nil {
				s.logger.Printf("mark correlation timeout failed id=%s: %v", t.ID, err)
			}
		}
	}
	return nil
}
