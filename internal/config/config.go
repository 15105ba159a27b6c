package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfig is returned when a named download configuration does not
// exist.
var ErrUnknownConfig = errors.New("unknown download configuration")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for gapfill.
type Config struct {
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Polygon Polygon `yaml:"polygon"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`

	// Downloads holds the named download configurations: the built-in ones
	// overlaid with the file's "downloads" section.
	Downloads map[string]DownloadConfig `yaml:"-"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"` // datasets with backend: sqlite
	LedgerPath string `yaml:"ledger_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Polygon holds credentials for the Polygon REST API.
type Polygon struct {
	APIKey string `yaml:"api_key"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Metrics configures the end-of-run metrics export.
type Metrics struct {
	// Textfile, when set, receives the run's counters in the node_exporter
	// textfile format.
	Textfile string `yaml:"textfile"`
}

// DownloadConfig is one named dataset sync: what to fetch, from where, for
// which symbols and over which calendar.
type DownloadConfig struct {
	EntryType string `yaml:"entry_type"` // price | profile
	Source    string `yaml:"source"`     // alpaca | polygon
	Calendar  string `yaml:"calendar"`   // intraday | quarterly
	Backend   string `yaml:"backend"`    // parquet | sqlite
	Store     string `yaml:"store"`      // file under data_dir, or dataset name for sqlite

	Symbols          []string `yaml:"symbols"`
	SymbolsCSV       string   `yaml:"symbols_csv"`
	SymbolsLimit     int      `yaml:"symbols_limit"`
	UseExistingStore *bool    `yaml:"use_existing_store"`

	YearsExamined   float64 `yaml:"years_examined"`
	Exchange        string  `yaml:"exchange"`
	Timezone        string  `yaml:"timezone"`
	SessionStart    string  `yaml:"session_start"`
	EvaluationHours float64 `yaml:"evaluation_hours"`
	RecordFrequency float64 `yaml:"record_frequency"` // records per hour
	ResolveWindow   *int    `yaml:"resolve_window"`   // minutes

	IgnoredSymbols []string `yaml:"ignored_symbols"`
	IgnoredDates   []string `yaml:"ignored_dates"`

	Workers         int `yaml:"workers"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	MaxRetries      int `yaml:"max_retries"`
	FetchChunkDays  int `yaml:"fetch_chunk_days"`
}

// Window returns the resolve window in minutes.
func (d DownloadConfig) Window() int {
	if d.ResolveWindow == nil {
		return DefaultResolveWindow
	}
	return *d.ResolveWindow
}

// UseExisting reports whether persisted state should be loaded first.
func (d DownloadConfig) UseExisting() bool {
	return d.UseExistingStore == nil || *d.UseExistingStore
}

// Location returns the configured timezone.
func (d DownloadConfig) Location() (*time.Location, error) {
	return time.LoadLocation(d.Timezone)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// fileConfig is the on-disk shape. Downloads are kept as nodes so they can be
// decoded on top of the built-in configuration of the same name.
type fileConfig struct {
	Config    `yaml:",inline"`
	Downloads map[string]yaml.Node `yaml:"downloads"`
}

// ResolvePath picks the configuration file: the explicit path when given,
// then $GAPFILL_CONFIG, then DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("GAPFILL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, overlays it on
// the defaults and built-in downloads, applies environment variable overrides
// and validates the result. An empty path, or a missing file at DefaultPath,
// yields the defaults alone.
func Load(path string) (*Config, error) {
	fc := fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return nil, err
		}
	}

	cfg := &fc.Config
	cfg.Downloads = Builtins()
	for name, node := range fc.Downloads {
		d := cfg.Downloads[name]
		if err := node.Decode(&d); err != nil {
			return nil, fmt.Errorf("parsing downloads.%s: %w", name, err)
		}
		cfg.Downloads[name] = d
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Download returns the named download configuration.
func (c *Config) Download(name string) (DownloadConfig, error) {
	d, ok := c.Downloads[name]
	if !ok {
		return DownloadConfig{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownConfig, name, strings.Join(c.Names(), ", "))
	}
	return d, nil
}

// Names returns the download configuration names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Downloads))
	for n := range c.Downloads {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns p resolved against the data directory when relative.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.DataDir, p)
}

// StorePath returns where d's dataset lives: its Parquet file, or the SQLite
// database holding it.
func (c *Config) StorePath(d DownloadConfig) string {
	if d.Backend == "sqlite" {
		return c.Resolve(c.Storage.SQLitePath)
	}
	return c.Resolve(d.Store)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Polygon.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
