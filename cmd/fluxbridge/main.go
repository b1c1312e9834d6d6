// Package main implements the unified fluxbridge binary. It can run the
// action gate and the optimization engine together or individually based on
// the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/fluxbridge/fluxbridge/internal/app"
	"github.com/fluxbridge/fluxbridge/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		grpcAddr    string
		engineAddr  string
		bridgeAddr  string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, gate, engine")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address for the gate front door")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC server address")
	flag.StringVar(&engineAddr, "engine-addr", "", "Engine TCP listen address")
	flag.StringVar(&bridgeAddr, "bridge-addr", "", "Engine address the gate dials (defaults to engine-addr)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fluxbridge - optimization bridge for flux-balance models\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fluxbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  fluxbridge --data-dir /data/fluxbridge\n")
		fmt.Fprintf(os.Stderr, "  fluxbridge --mode engine --engine-addr :7777\n")
		fmt.Fprintf(os.Stderr, "  fluxbridge --mode gate --bridge-addr engine-host:7777\n")
		fmt.Fprintf(os.Stderr, "  fluxbridge --config /etc/fluxbridge/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_MODE          Service mode (all, gate, engine)\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_HTTP_ADDR     HTTP address of the gate\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_GRPC_ADDR     gRPC server address\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_ENGINE_ADDR   Engine TCP listen address\n")
		fmt.Fprintf(os.Stderr, "  FLUXBRIDGE_STORAGE_TYPE  Snapshot export storage (local, s3)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("fluxbridge version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr, grpcAddr, engineAddr, bridgeAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Blocks until a signal arrives or the gate's shutdown action fires.
	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers file, environment, and flags, highest priority last.
func loadConfig(configFile, dataDir, mode, httpAddr, grpcAddr, engineAddr, bridgeAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if engineAddr != "" {
		cfg.Engine.Addr = engineAddr
	}
	if bridgeAddr != "" {
		cfg.Engine.BridgeAddr = bridgeAddr
	}

	return cfg, nil
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("fluxbridge %s", version)
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)

	if cfg.ShouldRunGate() {
		log.Printf("Gate:")
		if cfg.HTTP.Enabled {
			log.Printf("  HTTP: %s", cfg.HTTP.Addr)
		}
		if cfg.GRPC.Enabled {
			log.Printf("  gRPC: %s", cfg.GRPC.Addr)
		}
		log.Printf("  Bridge: %s", cfg.Engine.BridgeAddr)
	}
	if cfg.ShouldRunEngine() {
		log.Printf("Engine:")
		log.Printf("  TCP: %s", cfg.Engine.Addr)
	}
	if cfg.Persist.ExportEnabled {
		log.Printf("Snapshot export: %s", cfg.Storage.Type)
	}
}
