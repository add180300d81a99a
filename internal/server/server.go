// Package server exposes the local HTTP admin endpoint: liveness, a
// status snapshot, and Prometheus metrics. It binds to loopback by
// default and carries no authentication — the mesh command surface is the
// only remote interface.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshboard/meshboard/internal/gateway"
	"github.com/meshboard/meshboard/internal/store"
)

// readHeaderTimeout bounds slow-loris style header dribbling on the admin
// socket.
const readHeaderTimeout = 5 * time.Second

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	LastRx  int64  `json:"last_rx_ts,omitempty"`
	LinkUp  bool   `json:"link_up"`
}

// statusResponse is the /statusz payload.
type statusResponse struct {
	healthResponse
	SyncEnabled bool         `json:"sync_enabled"`
	Counts      store.Counts `json:"counts"`
	Peers       []string     `json:"peers"`
}

// Options configures the admin server.
type Options struct {
	Addr    string
	Name    string
	Version string

	Gateway  *gateway.Gateway
	Store    *store.Store
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// New builds the admin HTTP server. The caller owns listening and
// shutdown.
func New(opts Options) *http.Server {
	logger := opts.Logger.With(slog.String("component", "httpadmin"))
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, health(opts))
	})

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		counts, err := opts.Store.TableCounts(r.Context())
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}
		peers, err := opts.Store.Peers(r.Context())
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, statusResponse{
			healthResponse: health(opts),
			SyncEnabled:    opts.Gateway.SyncEnabled(),
			Counts:         counts,
			Peers:          peers,
		})
	})

	return &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func health(opts Options) healthResponse {
	resp := healthResponse{
		Status:  "ok",
		Name:    opts.Name,
		Version: opts.Version,
		UptimeS: int64(opts.Gateway.Uptime().Seconds()),
		LinkUp:  opts.Gateway.LinkUp(),
	}
	if last := opts.Gateway.LastRx(); !last.IsZero() {
		resp.LastRx = last.Unix()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encode failed", slog.String("error", err.Error()))
	}
}
