package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshboard/meshboard/internal/config"
	"github.com/meshboard/meshboard/internal/gateway"
	boardmetrics "github.com/meshboard/meshboard/internal/metrics"
	"github.com/meshboard/meshboard/internal/radio"
	"github.com/meshboard/meshboard/internal/server"
	"github.com/meshboard/meshboard/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.DB = filepath.Join(t.TempDir(), "board.db")

	st, err := store.Open(cfg.DB, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.AddPeer(context.Background(), "!deadbeef"); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	collector := boardmetrics.NewCollector(reg)

	// A gateway that never opened its link still serves status.
	gw := gateway.New(cfg, st, collector, radio.NewBus(),
		func(context.Context) (radio.Link, error) { return nil, radio.ErrNoDevice },
		logger)

	srv := server.New(server.Options{
		Addr:     "127.0.0.1:0",
		Name:     cfg.Name,
		Version:  "test",
		Gateway:  gw,
		Store:    st,
		Registry: reg,
		Logger:   logger,
	})

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var doc struct {
		Status string `json:"status"`
		Name   string `json:"name"`
		LinkUp bool   `json:"link_up"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != "ok" || doc.Name != "MeshLink BBS" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.LinkUp {
		t.Error("link_up should be false before Start")
	}
}

func TestStatusz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/statusz")
	if err != nil {
		t.Fatalf("get statusz: %v", err)
	}
	defer resp.Body.Close()

	var doc struct {
		SyncEnabled bool     `json:"sync_enabled"`
		Peers       []string `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Peers) != 1 || doc.Peers[0] != "!deadbeef" {
		t.Errorf("peers = %v", doc.Peers)
	}
	// No engine wired in this harness.
	if doc.SyncEnabled {
		t.Error("sync_enabled should be false without an engine")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if want := "meshboard_gateway_frames_sent_total"; !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %s", want)
	}
}
