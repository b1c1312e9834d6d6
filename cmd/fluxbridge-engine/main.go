// Package main implements the standalone optimization engine binary: the
// TCP server that assembles streamed table frames into LP problems and
// dispatches them to a solver backend.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fluxbridge/fluxbridge/internal/engine"
)

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":7777", "TCP listen address")
	flag.Parse()

	_ = godotenv.Load()
	if v := os.Getenv("FLUXBRIDGE_ENGINE_ADDR"); v != "" && addr == ":7777" {
		addr = v
	}

	log.Printf("Starting fluxbridge-engine...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := engine.NewServer(addr, nil)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	cancel()
	if err := srv.Close(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
