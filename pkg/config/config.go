// Package config loads and validates the bridge observer fleet's
// configuration (§6 inbound configuration): env-derived operational
// settings plus a YAML fleet topology file listing the
// {protocol, chain, contractAddress, rpcPrimary, rpcFallbacks[]} tuples
// the Supervisor constructs Observers from.
//
// Grounded on the teacher's pkg/config/config.go getEnv* helper style and
// Load/Validate split; the fleet topology section has no teacher
// counterpart (the teacher pins one chain pair) and is instead loaded
// from YAML via gopkg.in/yaml.v3, already a teacher-adjacent dependency.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certen/bridge-observer/pkg/obserr"
)

// ObserverSpec is one configured (protocol, chain, contract) tuple, as
// named in §4.7 and §6.
type ObserverSpec struct {
	Protocol        string   `yaml:"protocol"`
	Chain           string   `yaml:"chain"`
	ChainID         uint64   `yaml:"chainId"`
	ContractAddress string   `yaml:"contractAddress"`
	RPCPrimary      string   `yaml:"rpcPrimary"`
	RPCFallbacks    []string `yaml:"rpcFallbacks"`
}

// Fleet is the top-level YAML document: a flat list of observer tuples.
type Fleet struct {
	Observers []ObserverSpec `yaml:"observers"`
}

// LoadFleet reads and parses the fleet topology file. Individual tuple
// validation (zero addresses, unknown protocols) happens at Supervisor
// construction time, not here, so that one bad tuple in the file does not
// prevent the rest of the fleet from starting (§7 ConfigInvalid is
// per-observer, not process-wide).
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, obserr.Wrapf(err, obserr.KindConfigInvalid, "read fleet topology %s", path)
	}
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, obserr.Wrapf(err, obserr.KindConfigInvalid, "parse fleet topology %s", path)
	}
	return &f, nil
}

// EngineThresholds are the Risk Scoring Engine's configured thresholds
// (§4.5, §6).
type EngineThresholds struct {
	HighValueAmount       string // decimal string, parsed by pkg/risk
	FrequentBridgeCount   int
	CorrelationWindow     time.Duration
	CorrelationSweepEvery time.Duration
	RescoreSweepEvery     time.Duration
	PendingStaleAfter     time.Duration
	PendingTimeoutAfter   time.Duration
}

// PoolConfig sizes the shared relational/graph connection pools and the
// per-event worker pool (§5).
type PoolConfig struct {
	WorkerPoolSize int
	RelationalSize int
	GraphSize      int
	RPCTimeout     time.Duration
	DBTimeout      time.Duration
}

// Config is the full process configuration: env-derived operational
// settings plus the path to the fleet topology file.
type Config struct {
	FleetTopologyPath string

	DatabaseURL string

	GraphURI      string
	GraphUser     string
	GraphPassword string

	Thresholds EngineThresholds
	Pools      PoolConfig

	LogLevel   string
	LogJSON    bool
	MetricsAddr string
}

// Load reads configuration from environment variables, applying the same
// safe-default-with-explicit-override idiom as the teacher's pkg/config.
func Load() (*Config, error) {
	cfg := &Config{
		FleetTopologyPath: getEnv("FLEET_TOPOLOGY_PATH", "fleet.yaml"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		GraphURI:      getEnv("GRAPH_URI", "bolt://localhost:7687"),
		GraphUser:     getEnv("GRAPH_USER", "neo4j"),
		GraphPassword: getEnv("GRAPH_PASSWORD", ""),

		Thresholds: EngineThresholds{
			HighValueAmount:       getEnv("RISK_HIGH_VALUE_AMOUNT", "100000"),
			FrequentBridgeCount:   getEnvInt("RISK_FREQUENT_BRIDGE_COUNT", 10),
			CorrelationWindow:     getEnvDuration("CORRELATION_WINDOW", 30*time.Minute),
			CorrelationSweepEvery: getEnvDuration("CORRELATION_SWEEP_INTERVAL", 5*time.Minute),
			RescoreSweepEvery:     getEnvDuration("RESCORE_SWEEP_INTERVAL", 15*time.Minute),
			PendingStaleAfter:     getEnvDuration("PENDING_STALE_AFTER", 1*time.Hour),
			PendingTimeoutAfter:   getEnvDuration("PENDING_TIMEOUT_AFTER", 24*time.Hour),
		},

		Pools: PoolConfig{
			WorkerPoolSize: getEnvInt("OBSERVER_WORKER_POOL_SIZE", 5),
			RelationalSize: getEnvInt("DATABASE_MAX_CONNS", 10),
			GraphSize:      getEnvInt("GRAPH_MAX_CONNS", 10),
			RPCTimeout:     getEnvDuration("RPC_TIMEOUT", 30*time.Second),
			DBTimeout:      getEnvDuration("DB_TIMEOUT", 10*time.Second),
		},

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getEnvBool("LOG_JSON", false),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}
	return cfg, nil
}

// Validate enforces the presence of the settings every deployment needs
// regardless of which observers are configured.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return obserr.ConfigInvalid("DATABASE_URL", "relational store connection is required")
	}
	if c.GraphURI == "" {
		return obserr.ConfigInvalid("GRAPH_URI", "graph store connection is required")
	}
	if c.Pools.WorkerPoolSize <= 0 {
		return obserr.ConfigInvalid("OBSERVER_WORKER_POOL_SIZE", "must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// MarshalFleetExample renders a starter fleet.yaml document; used by the
// CLI's --print-example-config flag and by tests constructing fixtures.
func MarshalFleetExample() ([]byte, error) {
	f := Fleet{Observers: []ObserverSpec{
		{
			Protocol:        "stargate",
			Chain:           "ethereum",
			ChainID:         1,
			ContractAddress: "0x8731d54E9D02c286767d56ac03e8037C07e01e98",
			RPCPrimary:      "https://eth.llamarpc.com",
			RPCFallbacks:    []string{"https://rpc.ankr.com/eth"},
		},
	}}
	return yaml.Marshal(f)
}
