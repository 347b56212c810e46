// Command meshd runs one delegation mesh node: it wires the journal,
// escrow, reputation, mesh membership and auction components into an
// orchestrator.Services, exposes them over PeerTransport's HTTP/JSON
// endpoints, and starts the peer sweep loop (it sends no heartbeats).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/delegation-mesh/internal/config"
	"github.com/ocx/delegation-mesh/internal/events"
	"github.com/ocx/delegation-mesh/internal/journal"
	"github.com/ocx/delegation-mesh/internal/metrics"
	"github.com/ocx/delegation-mesh/internal/orchestrator"
	"github.com/ocx/delegation-mesh/internal/transport"
)

func main() {
	cfg := config.Get()

	bus := events.NewEventBus()

	if cfg.Redis.Enabled {
		sink, err := events.NewRedisSink(cfg.Redis.Addr, "mesh:events:"+cfg.Mesh.NodeID)
		if err != nil {
			slog.Warn("redis event sink unavailable, falling back to in-process fan-out only", "addr", cfg.Redis.Addr, "error", err)
		} else {
			bus.AddSink(sink)
			defer sink.Close()
			slog.Info("redis event sink wired for cross-pod fan-out", "addr", cfg.Redis.Addr)
		}
	}

	j, err := journal.Open(journal.Config{
		Path:               cfg.Journal.Path,
		MaxSessionsIndexed: cfg.Journal.MaxSessionsIndexed,
		Fsync:              cfg.Journal.Fsync,
		Lock:               cfg.Journal.Lock,
		Redact:             cfg.Journal.Redact,
		Recovery:           journal.RecoveryMode(cfg.Journal.Recovery),
	}, bus)
	if err != nil {
		log.Fatalf("journal: failed to open: %v", err)
	}

	var collectors *metrics.Collectors
	if cfg.Metrics.Enabled {
		collectors = metrics.New()
	}

	services, err := orchestrator.New(cfg, j, bus, collectors, orchestrator.NoopExecutor{})
	if err != nil {
		log.Fatalf("orchestrator: failed to wire services: %v", err)
	}

	go services.Mesh.Run()
	defer services.Mesh.Stop()

	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writable, diskUsageBytes := j.Health()
		status := "healthy"
		if !writable {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":           status,
			"service":          "delegation-mesh",
			"node_id":          cfg.Mesh.NodeID,
			"journal_writable": writable,
			"journal_bytes":    diskUsageBytes,
			"active_peers":     len(services.Mesh.GetActivePeers()),
		})
	}).Methods(http.MethodGet)

	if cfg.Metrics.Enabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	peerServer := transport.NewServer(services)
	router.PathPrefix("/api/swarm/").Handler(peerServer.Router())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("delegation mesh node starting", "node_id", cfg.Mesh.NodeID, "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed to start: %v", err)
	}
	slog.Info("server stopped")
}
