// Command bridge-observer is the CLI/environment surface (§6): it reads
// configuration and the fleet topology from the environment, constructs
// the Supervisor, starts every configured Observer, and blocks until an
// interrupt or termination signal, running the periodic sweeps in the
// background for as long as it is alive.
//
// Grounded on the teacher's main.go: flag-overridable env configuration,
// signal.Notify(syscall.SIGINT, syscall.SIGTERM) graceful shutdown, and a
// non-zero exit code on a degraded startup.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/certen/bridge-observer/pkg/config"
	"github.com/certen/bridge-observer/pkg/correlator"
	"github.com/certen/bridge-observer/pkg/database"
	"github.com/certen/bridge-observer/pkg/graphstore"
	"github.com/certen/bridge-observer/pkg/metrics"
	"github.com/certen/bridge-observer/pkg/observer"
	"github.com/certen/bridge-observer/pkg/risk"
	"github.com/certen/bridge-observer/pkg/sanctions"
	"github.com/certen/bridge-observer/pkg/supervisor"
)

func main() {
	fleetPath := flag.String("fleet", "", "path to the fleet topology YAML file (overrides FLEET_TOPOLOGY_PATH)")
	printExampleConfig := flag.Bool("print-example-config", false, "print a starter fleet.yaml document and exit")
	flag.Parse()

	if *printExampleConfig {
		doc, err := config.MarshalFleetExample()
		if err != nil {
			log.Fatalf("render example config: %v", err)
		}
		os.Stdout.Write(doc)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *fleetPath != "" {
		cfg.FleetTopologyPath = *fleetPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	fleet, err := config.LoadFleet(cfg.FleetTopologyPath)
	if err != nil {
		log.Fatalf("load fleet topology %s: %v", cfg.FleetTopologyPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL, database.PoolSettings{
		MaxOpenConns:    cfg.Pools.RelationalSize,
		MaxIdleConns:    cfg.Pools.RelationalSize,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("database client close error: %v", err)
		}
	}()

	if err := dbClient.MigrateUp(ctx); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	transfers := database.NewTransferRepository(dbClient)
	deadLetters := database.NewDeadLetterRepository(dbClient)
	sanctionsStore := sanctions.NewStore(dbClient.DB())

	var graphStore *graphstore.Store
	if cfg.GraphURI != "" {
		graphStore, err = graphstore.Connect(ctx, cfg.GraphURI, cfg.GraphUser, cfg.GraphPassword, cfg.Pools.GraphSize)
		if err != nil {
			log.Printf("graph store unavailable, continuing relational-only: %v", err)
			graphStore = nil
		} else {
			defer func() {
				if err := graphStore.Close(ctx); err != nil {
					log.Printf("graph store close error: %v", err)
				}
			}()
		}
	}

	highValue, err := riskHighValueAmount(cfg.Thresholds.HighValueAmount)
	if err != nil {
		log.Fatalf("invalid RISK_HIGH_VALUE_AMOUNT: %v", err)
	}
	riskThresholds := risk.Thresholds{
		HighValueAmount:     highValue,
		FrequentBridgeCount: cfg.Thresholds.FrequentBridgeCount,
		ActivityWindow:      24 * time.Hour,
	}
	riskEngine := risk.New(sanctionsStore, transfers, riskThresholds)

	corrOpts := []correlator.Option{}
	if cfg.Thresholds.CorrelationWindow > 0 {
		corrOpts = append(corrOpts, correlator.WithWindow(cfg.Thresholds.CorrelationWindow))
	}
	if graphStore != nil {
		corrOpts = append(corrOpts, correlator.WithGraphLinker(graphStore))
	}
	corr := correlator.New(transfers, corrOpts...)

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	pool := observer.NewWorkerPool(cfg.Pools.WorkerPoolSize)

	sup := supervisor.New(fleet, supervisor.Deps{
		DB:          dbClient,
		Transfers:   transfers,
		DeadLetters: deadLetters,
		Graph:       graphStore,
		Risk:        riskEngine,
		Correlator:  corr,
		Metrics:     collectors,
		Pool:        pool,
		RPCTimeout:  cfg.Pools.RPCTimeout,
	}, cfg.Thresholds)

	result := sup.StartAll(ctx)
	log.Printf("fleet started: running=%d failed=%d", result.Running, result.Failed)
	if result.Running == 0 {
		log.Println("no observers entered LISTENING state, exiting")
		os.Exit(1)
	}

	go sup.Run(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down fleet")
	cancel()
	sup.StopAll(10 * time.Second)
	log.Println("fleet stopped")
}

func riskHighValueAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return risk.DefaultThresholds().HighValueAmount, nil
	}
	return decimal.NewFromString(s)
}
