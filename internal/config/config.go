// Package config loads the pipeline's closed, immutable configuration
// record (§9: "configuration is a closed enumerated record, loaded once
// per run"). Simple scalars come from the environment (mirroring the
// base config.Load pattern); the structured DAG/plugin settings that
// don't fit env vars come from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable, validated configuration for one process run.
type Config struct {
	DataDir   string
	ConfigDir string
	BindHost  string
	BindPort  string
	LogLevel  string

	BlobStoreBackend string // "local", "s3", "gcs"
	BlobTTLDays      int

	IdleStaleAfter       time.Duration // activity signal considered stale
	IdleDefaultActive    bool          // fail-closed default when signal missing/stale
	BurnDownEnterHours   float64
	BurnDownExitFraction float64 // exit threshold = enter * (1 - fraction)

	SpanWindowSeconds   int
	SpanBoundaryMode    string // "app_change_preferred" | "time_based"
	PredErrorBaseline   bool

	PopupQueryTimeout time.Duration
	BatchCallTimeout  time.Duration

	MaxCitationsDefault int
	MaxCitationsMax     int

	Plugins PluginsConfig `yaml:"plugins"`
}

// PluginsConfig is the enumerated, closed plugin/DAG configuration
// loaded from the YAML file named by PIPELINE_CONFIG (skipped when that
// variable is unset). Unknown keys are rejected by
// yaml.Decoder's KnownFields, matching the runtime's "unknown options
// are rejected" contract (§4.2, §9).
type PluginsConfig struct {
	Order     []string          `yaml:"order"`
	Allowlist []string          `yaml:"allowlist"`
	Hosting   map[string]string `yaml:"hosting"` // plugin_id -> "in_process"|"subprocess"|"wasm"
	OCRMinConf float64          `yaml:"ocr_min_conf"`
}

// Load reads environment variables and an optional YAML config file into
// a validated Config. It is called once per process; the result must be
// treated as immutable thereafter.
func Load() (*Config, error) {
	c := &Config{
		DataDir:   getenv("DATA_DIR", "./data"),
		ConfigDir: getenv("CONFIG_DIR", "./config"),
		BindHost:  "127.0.0.1",
		BindPort:  getenv("PORT", "8765"),
		LogLevel:  getenv("LOG_LEVEL", "INFO"),

		BlobStoreBackend: getenv("BLOB_STORE_BACKEND", "local"),
		BlobTTLDays:      60,

		IdleStaleAfter:    5 * time.Second,
		IdleDefaultActive: true,

		BurnDownEnterHours:   144,
		BurnDownExitFraction: 0.10,

		SpanWindowSeconds: 6,
		SpanBoundaryMode:  "app_change_preferred",
		PredErrorBaseline: true,

		PopupQueryTimeout: 12 * time.Second,
		BatchCallTimeout:  120 * time.Second,

		MaxCitationsDefault: 8,
		MaxCitationsMax:     32,
	}

	if host := os.Getenv("BIND_HOST"); host != "" && host != "127.0.0.1" {
		return nil, fmt.Errorf("config: non-localhost bind host %q refused by default", host)
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := c.loadPluginsFile(path); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadPluginsFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc struct {
		Plugins PluginsConfig `yaml:"plugins"`
	}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Plugins = doc.Plugins
	return nil
}

// Validate enforces the closed-record invariants: bind host must be
// localhost (§6 EXTERNAL INTERFACES), and burn-down hysteresis must
// actually narrow (exit fraction in (0,1)).
func (c *Config) Validate() error {
	if c.BindHost != "127.0.0.1" {
		return fmt.Errorf("config: bind host must be 127.0.0.1, got %q", c.BindHost)
	}
	if c.BurnDownExitFraction <= 0 || c.BurnDownExitFraction >= 1 {
		return fmt.Errorf("config: burn_down_exit_fraction must be in (0,1), got %v", c.BurnDownExitFraction)
	}
	if c.MaxCitationsDefault > c.MaxCitationsMax {
		return fmt.Errorf("config: max_citations_default exceeds max_citations_max")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
