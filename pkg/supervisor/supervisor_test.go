package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bridge-observer/pkg/chain"
	"github.com/certen/bridge-observer/pkg/config"
	"github.com/certen/bridge-observer/pkg/observer"
	"github.com/certen/bridge-observer/pkg/transfer"
)

func testFleet() *config.Fleet {
	return &config.Fleet{
		Observers: []config.ObserverSpec{
			{
				Protocol:        string(transfer.ProtocolStargate),
				Chain:           string(transfer.ChainEthereum),
				ChainID:         1,
				ContractAddress: "0x8731d54E9D02c286767d56ac03e8037C07e01e98",
				RPCPrimary:      "https://eth.llamarpc.com",
			},
			{
				// Zero-address placeholder: disabled, not fatal (§9).
				Protocol:        string(transfer.ProtocolWormhole),
				Chain:           string(transfer.ChainPolygon),
				ChainID:         137,
				ContractAddress: "0x0000000000000000000000000000000000000000",
				RPCPrimary:      "https://polygon.llamarpc.com",
			},
			{
				Protocol:        "NotAProtocol",
				Chain:           string(transfer.ChainEthereum),
				ChainID:         1,
				ContractAddress: "0x8731d54E9D02c286767d56ac03e8037C07e01e98",
				RPCPrimary:      "https://eth.llamarpc.com",
			},
		},
	}
}

// A zero-address contract and an unknown protocol both register as
// disabled entries rather than failing construction of the rest of the
// fleet (§9 open question decision).
func TestNew_DisablesInvalidEntriesWithoutFailingOthers(t *testing.T) {
	s := New(testFleet(), Deps{}, config.EngineThresholds{})

	status := s.Status()
	if len(status.ByObserver) != 3 {
		t.Fatalf("expected 3 registered entries, got %d", len(status.ByObserver))
	}

	var disabledCount int
	for _, row := range status.ByObserver {
		if row.Disabled {
			disabledCount++
		}
	}
	if disabledCount != 2 {
		t.Fatalf("expected 2 disabled entries (zero address + unknown protocol), got %d", disabledCount)
	}
}

// Starting a disabled entry returns a ConfigInvalid error rather than
// dialing a Chain Client for it.
func TestStart_DisabledEntryReturnsError(t *testing.T) {
	s := New(testFleet(), Deps{}, config.EngineThresholds{})

	err := s.Start(transfer.ProtocolWormhole, transfer.ChainPolygon)
	if err == nil {
		t.Fatal("expected error starting a disabled (zero address) observer")
	}
}

// Starting an unregistered tuple is also an error, not a panic.
func TestStart_UnregisteredTupleReturnsError(t *testing.T) {
	s := New(testFleet(), Deps{}, config.EngineThresholds{})

	err := s.Start(transfer.ProtocolHop, transfer.ChainArbitrum)
	if err == nil {
		t.Fatal("expected error starting an unregistered (protocol, chain) tuple")
	}
}

// Status with no Observers constructed yet reports zero running, zero
// failed, and one row per registered (non-started) tuple.
func TestStatus_BeforeStart(t *testing.T) {
	s := New(testFleet(), Deps{}, config.EngineThresholds{})

	status := s.Status()
	if status.TotalRunning != 0 || status.TotalFailed != 0 {
		t.Fatalf("expected no running/failed observers before Start, got running=%d failed=%d",
			status.TotalRunning, status.TotalFailed)
	}
}

// StopAll on a fleet with no started Observers returns promptly rather
// than blocking on the timeout.
func TestStopAll_NoObservers(t *testing.T) {
	s := New(testFleet(), Deps{}, config.EngineThresholds{})
	s.StopAll(0)
}

// fakeChainClient is a no-op transport: Subscribe returns open channels
// that never deliver anything, which is enough for an Observer to reach
// LISTENING and sit there.
type fakeChainClient struct{}

func (fakeChainClient) Subscribe(context.Context, common.Address, [][]common.Hash) (<-chan chain.RawLog, <-chan error) {
	return make(chan chain.RawLog), make(chan error)
}
func (fakeChainClient) GetLogs(context.Context, common.Address, [][]common.Hash, uint64, uint64) ([]chain.RawLog, error) {
	return nil, nil
}
func (fakeChainClient) GetBlockTimestamp(context.Context, uint64) (int64, error) { return 0, nil }
func (fakeChainClient) GetLatestBlock(context.Context) (uint64, error)           { return 0, nil }
func (fakeChainClient) ActiveEndpoint() string                                   { return "fake" }
func (fakeChainClient) Close()                                                   {}

type fakeDecoder struct{}

func (fakeDecoder) Decode(chain.RawLog) (*transfer.CrossChainTransfer, error) { return nil, nil }
func (fakeDecoder) Topics() []common.Hash                                     { return nil }

// TestAwaitRunning_BlocksUntilObserverIsListening is the regression test
// for the StartAll startup race: start() spawns obs.Run in its own
// goroutine and must not return until the Observer has actually left
// StateInit, or Status() read immediately afterward can see every entry
// at its zero-value state despite a successful dial.
func TestAwaitRunning_BlocksUntilObserverIsListening(t *testing.T) {
	obs := observer.New(transfer.ProtocolStargate, transfer.ChainEthereum, common.Address{},
		fakeChainClient{}, fakeDecoder{}, observer.Pipeline{})

	if obs.State() != observer.StateInit {
		t.Fatalf("expected fresh Observer at StateInit, got %s", obs.State())
	}

	done := make(chan struct{})
	go func() {
		obs.Run(context.Background())
		close(done)
	}()

	s := &Supervisor{deps: Deps{RPCTimeout: 2 * time.Second}}
	s.awaitRunning(obs)

	if obs.State() != observer.StateListening {
		t.Fatalf("awaitRunning returned before the Observer reached LISTENING, state=%s", obs.State())
	}

	obs.Stop()
	<-done
}

// TestAwaitRunning_ReturnsOnTerminalState checks that awaitRunning does
// not hang past its bound on an Observer that has been stopped and so
// sits in the terminal STOPPED state.
func TestAwaitRunning_ReturnsOnTerminalState(t *testing.T) {
	obs := observer.New(transfer.ProtocolStargate, transfer.ChainEthereum, common.Address{},
		fakeChainClient{}, fakeDecoder{}, observer.Pipeline{})

	done := make(chan struct{})
	go func() {
		obs.Run(context.Background())
		close(done)
	}()
	obs.Stop()
	<-done

	s := &Supervisor{deps: Deps{RPCTimeout: 2 * time.Second}}
	start := time.Now()
	s.awaitRunning(obs)
	if time.Since(start) > time.Second {
		t.Fatalf("awaitRunning took too long on an already-terminal observer: %v", time.Since(start))
	}
	if !obs.State().Terminal() {
		t.Fatalf("expected a terminal state after Stop, got %s", obs.State())
	}
}
