package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshboard/meshboard/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.DB != "board.db" {
		t.Errorf("DB = %q, want %q", cfg.DB, "board.db")
	}

	if cfg.Device != "auto" {
		t.Errorf("Device = %q, want %q", cfg.Device, "auto")
	}

	if cfg.Name != "MeshLink BBS" {
		t.Errorf("Name = %q, want %q", cfg.Name, "MeshLink BBS")
	}

	if cfg.Rate != 2 {
		t.Errorf("Rate = %d, want 2", cfg.Rate)
	}

	if cfg.MaxText != 140 {
		t.Errorf("MaxText = %d, want 140", cfg.MaxText)
	}

	if cfg.TXGapInterval() != time.Second {
		t.Errorf("TXGapInterval = %v, want 1s", cfg.TXGapInterval())
	}

	if !cfg.Sync || cfg.SyncInv != 15 || cfg.SyncPeriod != 300 || cfg.SyncChunk != 160 {
		t.Errorf("sync defaults = %v/%d/%d/%d, want true/15/300/160",
			cfg.Sync, cfg.SyncInv, cfg.SyncPeriod, cfg.SyncChunk)
	}

	if cfg.RxStaleSec != 240 || cfg.WatchTick != 10 {
		t.Errorf("watchdog defaults = %d/%d, want 240/10", cfg.RxStaleSec, cfg.WatchTick)
	}

	if cfg.TZ != "Pacific/Auckland" {
		t.Errorf("TZ = %q, want %q", cfg.TZ, "Pacific/Auckland")
	}

	if !cfg.UnknownReply {
		t.Error("UnknownReply should default to true")
	}

	if cfg.HealthPublic {
		t.Error("HealthPublic should default to false")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
db: "/var/lib/meshboard/board.db"
device: "/dev/ttyUSB0"
name: "Hilltop BBS"
admins: "!deadbeef, !00c0ffee"
peers: "!11223344"
rate: 5
max_text: 200
tx_gap: 2.5
sync: false
log:
  level: "debug"
  format: "json"
http:
  addr: ":9145"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.DB != "/var/lib/meshboard/board.db" {
		t.Errorf("DB = %q", cfg.DB)
	}

	if cfg.Device != "/dev/ttyUSB0" {
		t.Errorf("Device = %q", cfg.Device)
	}

	if cfg.Name != "Hilltop BBS" {
		t.Errorf("Name = %q", cfg.Name)
	}

	admins := cfg.AdminIDs()
	if len(admins) != 2 || admins[0] != "!deadbeef" || admins[1] != "!00c0ffee" {
		t.Errorf("AdminIDs = %v", admins)
	}

	peers := cfg.PeerIDs()
	if len(peers) != 1 || peers[0] != "!11223344" {
		t.Errorf("PeerIDs = %v", peers)
	}

	if cfg.Rate != 5 || cfg.MaxText != 200 {
		t.Errorf("Rate/MaxText = %d/%d", cfg.Rate, cfg.MaxText)
	}

	if cfg.TXGapInterval() != 2500*time.Millisecond {
		t.Errorf("TXGapInterval = %v, want 2.5s", cfg.TXGapInterval())
	}

	if cfg.Sync {
		t.Error("Sync should be disabled by the file")
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if cfg.HTTP.Addr != ":9145" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override the display name and log level.
	// Everything else should inherit from defaults.
	yamlContent := `
name: "Valley Relay"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Name != "Valley Relay" {
		t.Errorf("Name = %q, want %q", cfg.Name, "Valley Relay")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Inherited values.
	if cfg.DB != "board.db" {
		t.Errorf("DB = %q, want default", cfg.DB)
	}

	if cfg.MaxText != 140 {
		t.Errorf("MaxText = %d, want default 140", cfg.MaxText)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Not parallel: mutates process environment.
	t.Setenv("MESHBOARD_MAX_TEXT", "100")
	t.Setenv("MESHBOARD_LOG_LEVEL", "error")
	t.Setenv("MESHBOARD_DEVICE", "/dev/ttyACM1")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxText != 100 {
		t.Errorf("MaxText = %d, want 100", cfg.MaxText)
	}

	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "error")
	}

	if cfg.Device != "/dev/ttyACM1" {
		t.Errorf("Device = %q, want %q", cfg.Device, "/dev/ttyACM1")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"empty db", func(c *config.Config) { c.DB = "" }, config.ErrEmptyDB},
		{"empty device", func(c *config.Config) { c.Device = "" }, config.ErrEmptyDevice},
		{"mtu too small", func(c *config.Config) { c.MaxText = 11 }, config.ErrInvalidMaxText},
		{"negative rate", func(c *config.Config) { c.Rate = -1 }, config.ErrInvalidRate},
		{"negative tx gap", func(c *config.Config) { c.TXGap = -0.5 }, config.ErrInvalidTXGap},
		{"zero inventory", func(c *config.Config) { c.SyncInv = 0 }, config.ErrInvalidSyncInv},
		{"zero sync period", func(c *config.Config) { c.SyncPeriod = 0 }, config.ErrInvalidSyncPeriod},
		{"tiny sync chunk", func(c *config.Config) { c.SyncChunk = 8 }, config.ErrInvalidSyncChunk},
		{"zero watch tick", func(c *config.Config) { c.WatchTick = 0 }, config.ErrInvalidWatchTick},
		{"bad admin id", func(c *config.Config) { c.Admins = "!dead" }, config.ErrInvalidNodeID},
		{"bad peer id", func(c *config.Config) { c.Peers = "nope" }, config.ErrInvalidNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			err := config.Validate(cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meshboard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
