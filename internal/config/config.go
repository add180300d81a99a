// Package config manages meshboard daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/meshboard/meshboard/internal/mesh"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete meshboard configuration. Top-level keys match
// the documented tunable names (db, device, rate, max_text, ...); the log
// and http sections are nested.
type Config struct {
	// DB is the SQLite store path.
	DB string `koanf:"db"`

	// Device is the serial device path, or "auto" to probe the usual
	// candidates.
	Device string `koanf:"device"`

	// Name is the display name used in the menu and health output.
	Name string `koanf:"name"`

	// Admins is the initial admin node id list (CSV).
	Admins string `koanf:"admins"`

	// Peers is the initial sync peer node id list (CSV).
	Peers string `koanf:"peers"`

	// Rate is the per-sender command cooldown in seconds.
	Rate int `koanf:"rate"`

	// MaxText is the outbound frame MTU in bytes, used by the pager and
	// the menu shrinker.
	MaxText int `koanf:"max_text"`

	// TXGap is the minimum gap between radio sends in seconds.
	TXGap float64 `koanf:"tx_gap"`

	// HealthPublic opens the health command to non-admins when true.
	HealthPublic bool `koanf:"health_public"`

	// UnknownReply controls whether unrecognized commands get a reply.
	UnknownReply bool `koanf:"unknown_reply"`

	// Sync enables the peer replication engine.
	Sync bool `koanf:"sync"`

	// SyncInv is the inventory window size (most recent post ids advertised).
	SyncInv int `koanf:"sync_inv"`

	// SyncPeriod is the inventory broadcast period in seconds.
	SyncPeriod int `koanf:"sync_period"`

	// SyncChunk is the maximum PART chunk size in bytes.
	SyncChunk int `koanf:"sync_chunk"`

	// RxStaleSec is the receive-silence threshold that triggers a link
	// reconnect.
	RxStaleSec int `koanf:"rx_stale_sec"`

	// WatchTick is the watchdog poll period in seconds.
	WatchTick int `koanf:"watch_tick"`

	// TZ is the IANA zone used when formatting notice timestamps.
	TZ string `koanf:"tz"`

	// DMTTLHours hides undelivered DMs older than this from the flush.
	DMTTLHours int `koanf:"dm_ttl_hours"`

	// RxPartsTTLHours garbage-collects incomplete reassembly buffers
	// older than this.
	RxPartsTTLHours int `koanf:"rxparts_ttl_hours"`

	Log  LogConfig  `koanf:"log"`
	HTTP HTTPConfig `koanf:"http"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// HTTPConfig holds the admin HTTP endpoint configuration.
type HTTPConfig struct {
	// Addr is the listen address for /healthz, /statusz and /metrics.
	// Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// -------------------------------------------------------------------------
// Derived accessors
// -------------------------------------------------------------------------

// RateInterval returns the per-sender cooldown as a duration.
func (c *Config) RateInterval() time.Duration {
	return time.Duration(c.Rate) * time.Second
}

// TXGapInterval returns the minimum inter-send gap as a duration.
func (c *Config) TXGapInterval() time.Duration {
	return time.Duration(c.TXGap * float64(time.Second))
}

// SyncPeriodInterval returns the inventory tick period as a duration.
func (c *Config) SyncPeriodInterval() time.Duration {
	return time.Duration(c.SyncPeriod) * time.Second
}

// RxStale returns the watchdog receive-silence threshold as a duration.
func (c *Config) RxStale() time.Duration {
	return time.Duration(c.RxStaleSec) * time.Second
}

// WatchTickInterval returns the watchdog poll period as a duration.
func (c *Config) WatchTickInterval() time.Duration {
	return time.Duration(c.WatchTick) * time.Second
}

// AdminIDs returns the configured initial admins in canonical form.
// Entries that fail canonicalization are skipped; Validate has already
// rejected configs that contain any.
func (c *Config) AdminIDs() []string { return splitIDs(c.Admins) }

// PeerIDs returns the configured sync peers in canonical form.
func (c *Config) PeerIDs() []string { return splitIDs(c.Peers) }

// Location resolves the configured timezone, falling back to UTC for
// unknown zone names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// splitIDs parses a CSV of node ids, canonicalizing each entry.
func splitIDs(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := mesh.CanonicalID(part)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the documented defaults.
//
// The 1 s TX gap and 2 s command cooldown are the conservative starting
// points for LoRa duty-cycle compliance; operators on fast channel presets
// may lower them.
func DefaultConfig() *Config {
	return &Config{
		DB:              "board.db",
		Device:          "auto",
		Name:            "MeshLink BBS",
		Rate:            2,
		MaxText:         140,
		TXGap:           1.0,
		HealthPublic:    false,
		UnknownReply:    true,
		Sync:            true,
		SyncInv:         15,
		SyncPeriod:      300,
		SyncChunk:       160,
		RxStaleSec:      240,
		WatchTick:       10,
		TZ:              "Pacific/Auckland",
		DMTTLHours:      72,
		RxPartsTTLHours: 24,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:9144",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshboard configuration.
// Variables are named MESHBOARD_<key>, e.g., MESHBOARD_MAX_TEXT.
const envPrefix = "MESHBOARD_"

// Load reads configuration from a YAML file at path (optional; empty path
// skips the file layer), overlays environment variable overrides
// (MESHBOARD_ prefix), and merges on top of DefaultConfig(). Missing
// fields inherit defaults.
//
// Environment variable mapping:
//
//	MESHBOARD_DB          -> db
//	MESHBOARD_MAX_TEXT    -> max_text
//	MESHBOARD_LOG_LEVEL   -> log.level
//	MESHBOARD_HTTP_ADDR   -> http.addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms MESHBOARD_LOG_LEVEL -> log.level while keeping
// underscore-named top-level keys (MESHBOARD_MAX_TEXT -> max_text) intact.
// Only the log and http sections nest.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"log", "http"} {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"db":                d.DB,
		"device":            d.Device,
		"name":              d.Name,
		"admins":            d.Admins,
		"peers":             d.Peers,
		"rate":              d.Rate,
		"max_text":          d.MaxText,
		"tx_gap":            d.TXGap,
		"health_public":     d.HealthPublic,
		"unknown_reply":     d.UnknownReply,
		"sync":              d.Sync,
		"sync_inv":          d.SyncInv,
		"sync_period":       d.SyncPeriod,
		"sync_chunk":        d.SyncChunk,
		"rx_stale_sec":      d.RxStaleSec,
		"watch_tick":        d.WatchTick,
		"tz":                d.TZ,
		"dm_ttl_hours":      d.DMTTLHours,
		"rxparts_ttl_hours": d.RxPartsTTLHours,
		"log.level":         d.Log.Level,
		"log.format":        d.Log.Format,
		"http.addr":         d.HTTP.Addr,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyDB indicates the store path is empty.
	ErrEmptyDB = errors.New("db must not be empty")

	// ErrEmptyDevice indicates the serial device is empty.
	ErrEmptyDevice = errors.New("device must not be empty")

	// ErrInvalidMaxText indicates the MTU is too small to page anything.
	ErrInvalidMaxText = errors.New("max_text must be >= 12")

	// ErrInvalidRate indicates a negative cooldown.
	ErrInvalidRate = errors.New("rate must be >= 0")

	// ErrInvalidTXGap indicates a negative send gap.
	ErrInvalidTXGap = errors.New("tx_gap must be >= 0")

	// ErrInvalidSyncInv indicates a non-positive inventory window.
	ErrInvalidSyncInv = errors.New("sync_inv must be >= 1")

	// ErrInvalidSyncPeriod indicates a non-positive inventory period.
	ErrInvalidSyncPeriod = errors.New("sync_period must be >= 1")

	// ErrInvalidSyncChunk indicates a chunk size too small to carry text.
	ErrInvalidSyncChunk = errors.New("sync_chunk must be >= 16")

	// ErrInvalidWatchTick indicates a non-positive watchdog period.
	ErrInvalidWatchTick = errors.New("watch_tick must be >= 1")

	// ErrInvalidNodeID indicates a CSV entry that cannot be canonicalized.
	ErrInvalidNodeID = errors.New("invalid node id in list")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.DB == "" {
		return ErrEmptyDB
	}
	if cfg.Device == "" {
		return ErrEmptyDevice
	}
	if cfg.MaxText < 12 {
		return ErrInvalidMaxText
	}
	if cfg.Rate < 0 {
		return ErrInvalidRate
	}
	if cfg.TXGap < 0 {
		return ErrInvalidTXGap
	}
	if cfg.SyncInv < 1 {
		return ErrInvalidSyncInv
	}
	if cfg.SyncPeriod < 1 {
		return ErrInvalidSyncPeriod
	}
	if cfg.SyncChunk < 16 {
		return ErrInvalidSyncChunk
	}
	if cfg.WatchTick < 1 {
		return ErrInvalidWatchTick
	}

	for _, csv := range []string{cfg.Admins, cfg.Peers} {
		for _, part := range strings.Split(csv, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, err := mesh.CanonicalID(part); err != nil {
				return fmt.Errorf("%q: %w", part, ErrInvalidNodeID)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
