package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// healthDoc mirrors the daemon's /healthz payload.
type healthDoc struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	LastRx  int64  `json:"last_rx_ts"`
	LinkUp  bool   `json:"link_up"`
}

// statusDoc mirrors the daemon's /statusz payload.
type statusDoc struct {
	healthDoc
	SyncEnabled bool `json:"sync_enabled"`
	Counts      struct {
		Posts      int64
		PendingDMs int64
		Admins     int64
		Blacklist  int64
		Peers      int64
		Applied    int64
		RxBuffers  int64
	} `json:"counts"`
	Peers []string `json:"peers"`
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon liveness",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var doc healthDoc
			raw, err := fetch("/healthz", &doc)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				fmt.Println(string(raw))
				return nil
			}

			fmt.Printf("%-10s %s\n", "status:", doc.Status)
			fmt.Printf("%-10s %s\n", "name:", doc.Name)
			fmt.Printf("%-10s %s\n", "version:", doc.Version)
			fmt.Printf("%-10s %s\n", "uptime:", (time.Duration(doc.UptimeS) * time.Second).String())
			fmt.Printf("%-10s %v\n", "link up:", doc.LinkUp)
			if doc.LastRx > 0 {
				fmt.Printf("%-10s %s\n", "last rx:", time.Unix(doc.LastRx, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show board and replication status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var doc statusDoc
			raw, err := fetch("/statusz", &doc)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				fmt.Println(string(raw))
				return nil
			}

			fmt.Printf("%-14s %s (up %s)\n", doc.Name, doc.Status,
				(time.Duration(doc.UptimeS) * time.Second).String())
			fmt.Printf("%-14s %d\n", "posts:", doc.Counts.Posts)
			fmt.Printf("%-14s %d\n", "pending dms:", doc.Counts.PendingDMs)
			fmt.Printf("%-14s %d admins, %d blacklisted\n", "access:", doc.Counts.Admins, doc.Counts.Blacklist)
			fmt.Printf("%-14s enabled=%v buffers=%d applied=%d\n", "sync:",
				doc.SyncEnabled, doc.Counts.RxBuffers, doc.Counts.Applied)
			for _, p := range doc.Peers {
				fmt.Printf("%-14s %s\n", "peer:", p)
			}
			return nil
		},
	}
}

// fetch GETs path from the daemon and decodes it into v, returning the
// raw body for json passthrough.
func fetch(path string, v any) ([]byte, error) {
	resp, err := httpClient.Get("http://" + serverAddr + path)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}
