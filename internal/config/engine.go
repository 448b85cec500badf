// Package config loads the thread engine's tunables and relay sets from a
// JSON or YAML file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "20s"-style strings from JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ms int64
		if err2 := json.Unmarshal(b, &ms); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// RelaysConfig names the relay sets used by each escalation stage.
type RelaysConfig struct {
	Default  []string `json:"default" yaml:"default"`   // NARROW when the caller passes none
	Indexer  []string `json:"indexer" yaml:"indexer"`   // NIP-65 relay list lookups
	Fallback []string `json:"fallback" yaml:"fallback"` // added at WIDEST
}

// EngineConfig holds the thread engine's bounds and relay sets.
type EngineConfig struct {
	PageLimit          int          `json:"pageLimit" yaml:"pageLimit"`
	MaxDepth           int          `json:"maxDepth" yaml:"maxDepth"`
	MaxPages           int          `json:"maxPages" yaml:"maxPages"`
	MaxFilterIDs       int          `json:"maxFilterIDs" yaml:"maxFilterIDs"`
	QueryTimeout       Duration     `json:"queryTimeout" yaml:"queryTimeout"`
	MaxAttempts        int          `json:"maxAttempts" yaml:"maxAttempts"`
	RetryBackoff       Duration     `json:"retryBackoff" yaml:"retryBackoff"`
	RelaysPerAuthor    int          `json:"relaysPerAuthor" yaml:"relaysPerAuthor"`
	PositionalFallback string       `json:"positionalFallback" yaml:"positionalFallback"`
	Relays             RelaysConfig `json:"relays" yaml:"relays"`
}

var (
	engineConfig     *EngineConfig
	engineConfigMu   sync.RWMutex
	engineConfigOnce sync.Once
)

// Get returns the current engine configuration (thread-safe)
func Get() *EngineConfig {
	engineConfigOnce.Do(func() {
		engineConfigMu.Lock()
		defer engineConfigMu.Unlock()
		if engineConfig == nil {
			engineConfig = loadFromEnv()
		}
	})

	engineConfigMu.RLock()
	defer engineConfigMu.RUnlock()
	return engineConfig
}

// Reload re-reads the configuration file and environment.
func Reload() {
	newConfig := loadFromEnv()
	engineConfigMu.Lock()
	defer engineConfigMu.Unlock()
	engineConfig = newConfig
	slog.Info("engine configuration reloaded")
}

func loadFromEnv() *EngineConfig {
	configPath := os.Getenv("THREAD_CONFIG")
	if configPath == "" {
		configPath = "config/thread.json"
	}

	cfg, err := Load(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", configPath)
		} else {
			slog.Error("invalid config, using defaults", "path", configPath, "error", err)
		}
		cfg = Default()
	}
	applyEnv(cfg)
	cfg.normalize()
	return cfg
}

// Load reads a config file. Missing fields keep their defaults.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.normalize()

	slog.Info("loaded engine configuration",
		"path", path,
		"default", len(cfg.Relays.Default),
		"indexer", len(cfg.Relays.Indexer),
		"fallback", len(cfg.Relays.Fallback))
	return cfg, nil
}

// Default returns the embedded default configuration
func Default() *EngineConfig {
	return &EngineConfig{
		PageLimit:          100,
		MaxDepth:           8,
		MaxPages:           20,
		MaxFilterIDs:       100,
		QueryTimeout:       Duration(20 * time.Second),
		MaxAttempts:        3,
		RetryBackoff:       Duration(500 * time.Millisecond),
		RelaysPerAuthor:    3,
		PositionalFallback: "second",
		Relays: RelaysConfig{
			Default: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.primal.net",
			},
			Indexer: []string{
				"wss://purplepag.es",
				"wss://relay.nostr.band",
			},
			Fallback: []string{
				"wss://relay.nostr.band",
				"wss://nostr.mom",
				"wss://relay.snort.social",
			},
		},
	}
}

func applyEnv(cfg *EngineConfig) {
	if v, ok := envInt("THREAD_PAGE_LIMIT"); ok {
		cfg.PageLimit = v
	}
	if v, ok := envInt("THREAD_MAX_DEPTH"); ok {
		cfg.MaxDepth = v
	}
	if s := os.Getenv("THREAD_QUERY_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.QueryTimeout = Duration(d)
		} else {
			slog.Warn("ignoring THREAD_QUERY_TIMEOUT", "value", s, "error", err)
		}
	}
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("ignoring non-numeric env override", "name", name, "value", s)
		return 0, false
	}
	return v, true
}

// normalize replaces unusable values with defaults. Traversal depth is
// always bounded, so a non-positive MaxDepth also falls back.
func (c *EngineConfig) normalize() {
	def := Default()
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.PageLimit <= 0 {
		c.PageLimit = def.PageLimit
	}
	if c.MaxPages <= 0 {
		c.MaxPages = def.MaxPages
	}
	if c.MaxFilterIDs <= 0 {
		c.MaxFilterIDs = def.MaxFilterIDs
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.RelaysPerAuthor <= 0 {
		c.RelaysPerAuthor = def.RelaysPerAuthor
	}
	if c.PositionalFallback == "" {
		c.PositionalFallback = def.PositionalFallback
	}
	if len(c.Relays.Default) == 0 {
		c.Relays.Default = def.Relays.Default
	}
}
