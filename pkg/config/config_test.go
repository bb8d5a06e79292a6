package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFleet_ParsesObservers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	doc := `
observers:
  - protocol: stargate
    chain: ethereum
    chainId: 1
    contractAddress: "0x8731d54E9D02c286767d56ac03e8037C07e01e98"
    rpcPrimary: "https://eth.llamarpc.com"
    rpcFallbacks:
      - "https://rpc.ankr.com/eth"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fleet, err := LoadFleet(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fleet.Observers) != 1 {
		t.Fatalf("expected 1 observer, got %d", len(fleet.Observers))
	}
	o := fleet.Observers[0]
	if o.Protocol != "stargate" || o.ChainID != 1 || len(o.RPCFallbacks) != 1 {
		t.Fatalf("unexpected parsed observer: %+v", o)
	}
}

func TestLoadFleet_MissingFileIsConfigInvalid(t *testing.T) {
	_, err := LoadFleet(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing fleet file")
	}
}

func TestLoadFleet_MalformedYAMLIsConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte("observers: [this is not valid: yaml"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadFleet(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{
		DatabaseURL: "postgres://localhost/bridge",
		GraphURI:    "bolt://localhost:7687",
		Pools:       PoolConfig{WorkerPoolSize: 5},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}

	missingDB := *valid
	missingDB.DatabaseURL = ""
	if err := missingDB.Validate(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}

	missingGraph := *valid
	missingGraph.GraphURI = ""
	if err := missingGraph.Validate(); err == nil {
		t.Fatal("expected error for missing GRAPH_URI")
	}

	badPool := *valid
	badPool.Pools.WorkerPoolSize = 0
	if err := badPool.Validate(); err == nil {
		t.Fatal("expected error for non-positive worker pool size")
	}
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-override/bridge")
	t.Setenv("OBSERVER_WORKER_POOL_SIZE", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-override/bridge" {
		t.Fatalf("expected env override to take effect, got %s", cfg.DatabaseURL)
	}
	if cfg.Pools.WorkerPoolSize != 7 {
		t.Fatalf("expected worker pool size 7, got %d", cfg.Pools.WorkerPoolSize)
	}
}

func TestMarshalFleetExample_RoundTrips(t *testing.T) {
	doc, err := MarshalFleetExample()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("write example: %v", err)
	}
	fleet, err := LoadFleet(path)
	if err != nil {
		t.Fatalf("expected example document to parse, got %v", err)
	}
	if len(fleet.Observers) == 0 {
		t.Fatal("expected the example document to list at least one observer")
	}
}
