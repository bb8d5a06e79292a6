// Package chain abstracts a single EVM JSON-RPC endpoint (plus ordered
// fallbacks) behind the read-only interface a Bridge Observer needs:
// subscription, bounded-range backfill, and block timestamp lookup.
//
// Grounded on the teacher's pkg/ethereum/client.go (ethclient wrapping,
// retry/backoff idiom) and pkg/anchor/event_watcher.go (range chunking,
// FilterLogs retry-with-sleep), generalized to support the §4.1 primary +
// ordered-fallback endpoint list, which the teacher does not itself model
// (its chain client is pinned to a single configured RPC URL).
package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/bridge-observer/pkg/obserr"
)

// RawLog is the chain-agnostic envelope handed to decoders: topics + data
// plus the coordinates needed to resolve a timestamp later.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func fromGethLog(l types.Log) RawLog {
	return RawLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}
}

// maxChunkBlocks is the starting per-request range; halved on "result too
// large" style provider errors per §4.1.
const maxChunkBlocks = uint64(500)

const defaultRPCTimeout = 30 * time.Second

// endpoint wraps a dialed client with its configured URL for logging and
// status reporting.
type endpoint struct {
	url    string
	client *ethclient.Client
}

// Client is a resilient read-only EVM client: it tries a primary endpoint
// first, rotating through an ordered fallback list on sustained or
// endpoint-level failure. Chain Clients are never shared across Observers;
// each Observer constructs and owns its own (§5).
type Client struct {
	mu          sync.Mutex
	endpoints   []endpoint
	activeIdx   int
	logger      *log.Logger
	tsCache     *lru.Cache[uint64, int64]
	chainID     uint64
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimestampCacheSize overrides the default LRU size for this Client's
// block timestamp cache. Each Client owns its own cache; it is not shared
// with other Clients.
func WithTimestampCacheSize(n int) Option {
	return func(c *Client) {
		cache, err := lru.New[uint64, int64](n)
		if err == nil {
			c.tsCache = cache
		}
	}
}

// Dial connects to primary, keeping fallbacks as dial-on-demand endpoints
// that are only actually dialed once rotation reaches them.
func Dial(ctx context.Context, chainID uint64, primary string, fallbacks []string, opts ...Option) (*Client, error) {
	cache, _ := lru.New[uint64, int64](4096)
	c := &Client{
		logger:  log.New(log.Writer(), "[ChainClient] ", log.LstdFlags),
		tsCache: cache,
		chainID: chainID,
	}
	for _, opt := range opts {
		opt(c)
	}

	urls := append([]string{primary}, fallbacks...)
	for _, u := range urls {
		c.endpoints = append(c.endpoints, endpoint{url: u})
	}

	dctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	cl, err := ethclient.DialContext(dctx, primary)
	if err != nil {
		return nil, obserr.Wrapf(err, obserr.KindTransientRpc, "dial primary endpoint %s", primary)
	}
	c.endpoints[0].client = cl
	c.logger.Printf("connected chainID=%d endpoint=%s", chainID, primary)
	return c, nil
}

// current returns the active endpoint, dialing it lazily if rotation has
// advanced to an endpoint that has never been used.
func (c *Client) current(ctx context.Context) (*ethclient.Client, string, error) {
	c.mu.Lock()
	idx := c.activeIdx
	ep := c.endpoints[idx]
	c.mu.Unlock()

	if ep.client != nil {
		return ep.client, ep.url, nil
	}

	dctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	cl, err := ethclient.DialContext(dctx, ep.url)
	if err != nil {
		return nil, ep.url, obserr.Wrapf(err, obserr.KindTransientRpc, "dial fallback endpoint %s", ep.url)
	}

	c.mu.Lock()
	c.endpoints[idx].client = cl
	c.mu.Unlock()
	return cl, ep.url, nil
}

// rotate advances to the next endpoint after an endpoint-level failure
// (timeout, 5xx, connection reset). It never wraps back below the current
// index implicitly; a successful scheduled health probe is required to
// reset to primary (no flap), which HealthProbe implements.
func (c *Client) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeIdx < len(c.endpoints)-1 {
		c.activeIdx++
		c.logger.Printf("rotating to fallback endpoint %s", c.endpoints[c.activeIdx].url)
	}
}

// ActiveEndpoint reports which URL is currently serving calls, used by
// Supervisor status reporting (Scenario F).
func (c *Client) ActiveEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.activeIdx].url
}

// HealthProbe is called on a schedule by the Observer; a successful call
// against the primary resets rotation, matching the "no flap" requirement.
func (c *Client) HealthProbe(ctx context.Context) {
	c.mu.Lock()
	primary := c.endpoints[0]
	c.mu.Unlock()
	if primary.client == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	if _, err := primary.client.BlockNumber(pctx); err == nil {
		c.mu.Lock()
		c.activeIdx = 0
		c.mu.Unlock()
	}
}

// isEndpointLevel classifies a transport error as warranting rotation, vs.
// a fatal/malformed-response error that should surface to the Observer
// without rotating (per §4.1/§7: FatalRpc does not rotate endpoints).
func isEndpointLevel(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "no such host", "eof", "502", "503", "504", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func classify(err error, endpointURL string) *obserr.ObserverError {
	if err == nil {
		return nil
	}
	if isEndpointLevel(err) {
		return obserr.TransientRpc(err, endpointURL)
	}
	return obserr.FatalRpc(err, endpointURL)
}

// GetLatestBlock returns the chain head.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	cl, url, err := c.current(ctx)
	if err != nil {
		return 0, err
	}
	rctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	n, err := cl.BlockNumber(rctx)
	if err != nil {
		oe := classify(err, url)
		if oe.Kind == obserr.KindTransientRpc {
			c.rotate()
		}
		return 0, oe
	}
	return n, nil
}

// GetBlockTimestamp resolves a block's unix-second timestamp, consulting
// this Client's LRU cache first (not shared with other Clients) (§5: "block-timestamp RPC calls;
// cached; cache miss may block").
func (c *Client) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	if ts, ok := c.tsCache.Get(blockNumber); ok {
		return ts, nil
	}
	cl, url, err := c.current(ctx)
	if err != nil {
		return 0, err
	}
	rctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	header, err := cl.HeaderByNumber(rctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		oe := classify(err, url)
		if oe.Kind == obserr.KindTransientRpc {
			c.rotate()
		}
		return 0, oe
	}
	ts := int64(header.Time)
	c.tsCache.Add(blockNumber, ts)
	return ts, nil
}

// GetLogs backfills a block range, chunking to stay under provider
// per-request limits and halving the chunk on "result too large" errors,
// per §4.1.
func (c *Client) GetLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]RawLog, error) {
	var out []RawLog
	chunk := maxChunkBlocks
	for from := fromBlock; from <= toBlock; {
		to := from + chunk - 1
		if to > toBlock {
			to = toBlock
		}

		cl, url, err := c.current(ctx)
		if err != nil {
			return out, err
		}

		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{contract},
			Topics:    topics,
		}

		rctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
		logs, err := cl.FilterLogs(rctx, q)
		cancel()

		if err != nil {
			if isResultTooLarge(err) && chunk > 1 {
				chunk /= 2
				c.logger.Printf("getLogs range too large, halving chunk to %d blocks", chunk)
				continue
			}
			oe := classify(err, url)
			if oe.Kind == obserr.KindTransientRpc {
				c.rotate()
			}
			return out, oe
		}

		for _, l := range logs {
			out = append(out, fromGethLog(l))
		}
		from = to + 1
	}
	return out, nil
}

func isResultTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too large") || strings.Contains(msg, "query returned more than") || strings.Contains(msg, "limit exceeded")
}

// Subscribe tails new logs live; the returned channel is closed and an
// error sent to errCh when the underlying subscription breaks (transport
// error), which the Observer interprets as a RECONNECTING trigger.
func (c *Client) Subscribe(ctx context.Context, contract common.Address, topics [][]common.Hash) (<-chan RawLog, <-chan error) {
	logCh := make(chan RawLog, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(logCh)

		cl, url, err := c.current(ctx)
		if err != nil {
			errCh <- err
			return
		}

		q := ethereum.FilterQuery{
			Addresses: []common.Address{contract},
			Topics:    topics,
		}

		sub, gethLogCh, err := subscribeFilterLogs(ctx, cl, q)
		if err != nil {
			oe := classify(err, url)
			if oe.Kind == obserr.KindTransientRpc {
				c.rotate()
			}
			errCh <- oe
			return
		}
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				errCh <- obserr.TransientRpc(err, url)
				return
			case l := <-gethLogCh:
				select {
				case logCh <- fromGethLog(l):
				default:
					c.logger.Printf("subscription channel full, dropping log tx=%s", l.TxHash.Hex())
				}
			}
		}
	}()

	return logCh, errCh
}

func subscribeFilterLogs(ctx context.Context, cl *ethclient.Client, q ethereum.FilterQuery) (ethereum.Subscription, chan types.Log, error) {
	logCh := make(chan types.Log, 256)
	sub, err := cl.SubscribeFilterLogs(ctx, q, logCh)
	if err != nil {
		return nil, nil, err
	}
	return sub, logCh, nil
}

// ChainID returns the chain id this client was constructed for.
func (c *Client) ChainID() uint64 { return c.chainID }

// Close releases all dialed endpoint connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.endpoints {
		if ep.client != nil {
			ep.client.Close()
		}
	}
}

// String implements fmt.Stringer for log lines.
func (c *Client) String() string {
	return fmt.Sprintf("chain=%d active=%s", c.chainID, c.ActiveEndpoint())
}
