package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bgpdata-consumer-go/internal/recovery"
	"bgpdata-consumer-go/internal/web"
)

// AdminServer exposes health, metrics and live stats for the engine.
type AdminServer struct {
	consumer        *Consumer
	hub             *web.Hub
	heartbeatMaxAge time.Duration
	statsInterval   time.Duration
	server          *http.Server
}

func NewAdminServer(consumer *Consumer, listen string, heartbeatMaxAge, statsInterval time.Duration) *AdminServer {
	a := &AdminServer{
		consumer:        consumer,
		hub:             web.NewHub(),
		heartbeatMaxAge: heartbeatMaxAge,
		statsInterval:   statsInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/ws/stats", a.hub.HandleWS)

	a.server = &http.Server{Addr: listen, Handler: mux}
	return a
}

// Start runs the listener, the hub and the broadcast loop until ctx is
// cancelled.
func (a *AdminServer) Start(ctx context.Context) {
	recovery.Go("stats-hub", func() {
		a.hub.Run(ctx)
	})

	recovery.Go("stats-broadcast", func() {
		ticker := time.NewTicker(a.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.hub.Broadcast(a.consumer.Stats())
			}
		}
	})

	recovery.Go("admin-server", func() {
		slog.Info("admin_server_listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin_server_failed", slog.String("error", err.Error()))
		}
	})
}

// Stop shuts the listener down.
func (a *AdminServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.server.Shutdown(ctx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.consumer.Healthy(a.heartbeatMaxAge) {
		http.Error(w, "stale", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.consumer.Stats()); err != nil {
		slog.Error("stats_encode_failed", slog.String("error", err.Error()))
	}
}
