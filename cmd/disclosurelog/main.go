package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coffersTech/disclosurelog/internal/config"
	"github.com/coffersTech/disclosurelog/internal/logstore"
	"github.com/coffersTech/disclosurelog/internal/metrics"
	"github.com/coffersTech/disclosurelog/internal/server"
	"github.com/coffersTech/disclosurelog/internal/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Command-line flags override the config file.
	configPath := flag.String("config", "", "Path to a YAML config file")
	port := flag.Int("port", config.DefaultPort, "HTTP port to listen on")
	dataDir := flag.String("data", config.DefaultDir, "Directory to store daily log files")
	retentionStr := flag.String("retention", "", "Delete daily files older than this (e.g. 720h); empty disables")
	corsOrigin := flag.String("cors-origin", config.DefaultCORSOrigin, "Value of Access-Control-Allow-Origin")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "data":
			cfg.Storage.Dir = *dataDir
		case "retention":
			cfg.Storage.Retention = *retentionStr
		case "cors-origin":
			cfg.Security.CORSOrigin = *corsOrigin
		}
	})
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Log store
	store, err := logstore.NewStore(cfg.Storage.Dir, m)
	if err != nil {
		log.Fatalf("Failed to open log store: %v", err)
	}
	absDir, _ := filepath.Abs(store.Dir())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go store.RunCleaner(ctx, cfg.CleanInterval(), cfg.Retention())

	// 3. HTTP server
	hub := stream.NewHub(cfg.Stream.History, m)
	srv := server.NewLogServer(store, hub, m, server.Options{
		CORSOrigin:   cfg.Security.CORSOrigin,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Gzip:         cfg.GzipEnabled(),
		Gatherer:     reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		log.Printf("Logging service running on http://localhost%s", addr)
		log.Printf("Logs stored in: %s", absDir)
		if err := srv.Start(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	// 4. Graceful Shutdown Hook
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down...", sig)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Logging service exited gracefully.")
}
