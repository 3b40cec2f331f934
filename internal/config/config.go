// Package config loads the catalog configuration: defaults, then an optional
// YAML file, then PCAPCAT_* environment variables, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/pcapcatalog/internal/logging"
	"github.com/Zerofisher/pcapcatalog/pkg/hashing"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PCAPCAT_"

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	// PcapDirectory is the capture root as seen by this process.
	PcapDirectory string `yaml:"pcap_directory"`
	// HostPcapDirectory is the same directory as seen by users, for display.
	HostPcapDirectory string `yaml:"host_pcap_directory"`
	// PublicBaseURL prefixes download links.
	PublicBaseURL string `yaml:"public_base_url"`

	Server  ServerConfig   `yaml:"server"`
	Store   StoreConfig    `yaml:"store"`
	Scan    ScanConfig     `yaml:"scan"`
	Watch   WatchConfig    `yaml:"watch"`
	Search  SearchConfig   `yaml:"search"`
	Logging logging.Config `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the index store.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig holds Redis connection settings. URL wins over Addr.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// ScanConfig holds scan, scheduling and extraction settings.
type ScanConfig struct {
	Mode        string          `yaml:"mode"`
	Hash        string          `yaml:"hash"`
	Extensions  []string        `yaml:"extensions"`
	Exclude     []string        `yaml:"exclude"`
	Interval    time.Duration   `yaml:"interval"`
	InitialScan bool            `yaml:"initial_scan"`
	Quick       QuickScanConfig `yaml:"quick"`
}

// QuickScanConfig holds the quick extraction parameters.
type QuickScanConfig struct {
	MinFileSize   int64  `yaml:"min_file_size"`
	PacketBudget  int    `yaml:"packet_budget"`
	ConfigVersion string `yaml:"config_version"`
}

// WatchConfig controls the filesystem watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	MaxLimit     int     `yaml:"max_limit"`
	SuggestLimit int     `yaml:"suggest_limit"`
	RateLimit    float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst    int     `yaml:"rate_burst"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		PcapDirectory: "/data/pcaps",
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendRedis,
			Redis:   RedisConfig{Addr: "localhost:6379"},
			SQLite:  SQLiteConfig{Path: "/data/pcapcatalog.db", WAL: true},
		},
		Scan: ScanConfig{
			Mode:        string(model.ModeFull),
			Hash:        hashing.SHA256,
			Extensions:  []string{".pcap", ".pcapng", ".cap"},
			Interval:    time.Hour,
			InitialScan: true,
			Quick: QuickScanConfig{
				MinFileSize:  100 << 20,
				PacketBudget: 10000,
			},
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Search: SearchConfig{
			MaxLimit:     100,
			SuggestLimit: 10,
			RateLimit:    20,
			RateBurst:    40,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

type lookupFunc func(key string) (string, bool)

func (c *Config) loadFromEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("PCAP_DIRECTORY", &c.PcapDirectory)
	env.str("HOST_PCAP_DIRECTORY", &c.HostPcapDirectory)
	env.str("PUBLIC_BASE_URL", &c.PublicBaseURL)

	env.str("ADDR", &c.Server.Addr)
	env.list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	env.str("STORE_BACKEND", &c.Store.Backend)
	env.str("REDIS_URL", &c.Store.Redis.URL)
	env.str("REDIS_ADDR", &c.Store.Redis.Addr)
	env.str("REDIS_PASSWORD", &c.Store.Redis.Password)
	env.int("REDIS_DB", &c.Store.Redis.DB)
	env.str("SQLITE_PATH", &c.Store.SQLite.Path)

	env.str("SCAN_MODE", &c.Scan.Mode)
	env.str("SCAN_HASH", &c.Scan.Hash)
	env.list("SCAN_EXCLUDE", &c.Scan.Exclude)
	env.duration("SCAN_INTERVAL", &c.Scan.Interval)
	env.bool("INITIAL_SCAN", &c.Scan.InitialScan)
	env.int64("QUICK_MIN_FILE_SIZE", &c.Scan.Quick.MinFileSize)
	env.int("QUICK_PACKET_BUDGET", &c.Scan.Quick.PacketBudget)
	env.str("CONFIG_VERSION", &c.Scan.Quick.ConfigVersion)

	env.bool("WATCH", &c.Watch.Enabled)
	env.duration("WATCH_DEBOUNCE", &c.Watch.Debounce)

	env.float("SEARCH_RATE_LIMIT", &c.Search.RateLimit)

	env.str("LOG_LEVEL", &c.Logging.Level)
	env.str("LOG_FORMAT", &c.Logging.Format)
	env.str("LOG_FILE", &c.Logging.FilePath)

	return env.err
}

// envReader applies PCAPCAT_* variables, keeping the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("90s", "1h") and bare seconds ("3600").
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (c *Config) validate() error {
	if c.PcapDirectory == "" {
		return fmt.Errorf("pcap_directory is required")
	}
	c.PcapDirectory = strings.TrimRight(c.PcapDirectory, "/")
	if c.PcapDirectory == "" {
		c.PcapDirectory = "/"
	}
	c.HostPcapDirectory = strings.TrimRight(c.HostPcapDirectory, "/")
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.URL == "" && c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis: url or addr is required")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if _, err := model.ParseMode(c.Scan.Mode); err != nil {
		return err
	}
	if _, err := hashing.New(c.Scan.Hash); err != nil {
		return err
	}
	if c.Scan.Interval < 0 {
		return fmt.Errorf("scan.interval must not be negative")
	}
	if c.Scan.Quick.PacketBudget <= 0 {
		return fmt.Errorf("scan.quick.packet_budget must be positive")
	}
	if c.Scan.Quick.MinFileSize < 0 {
		return fmt.Errorf("scan.quick.min_file_size must not be negative")
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 2 * time.Second
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 100
	}
	if c.Search.RateLimit < 0 {
		return fmt.Errorf("search.rate_limit must not be negative")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}

// ScanPolicy returns the extraction policy. When no config version is pinned
// it is derived from the quick parameters.
func (c *Config) ScanPolicy() model.ScanConfig {
	mode, _ := model.ParseMode(c.Scan.Mode) // checked by validate
	version := c.Scan.Quick.ConfigVersion
	if version == "" {
		version = model.DeriveConfigVersion(c.Scan.Quick.MinFileSize, c.Scan.Quick.PacketBudget)
	}
	return model.ScanConfig{
		Mode:                mode,
		MinFileSizeForQuick: c.Scan.Quick.MinFileSize,
		PacketBudget:        c.Scan.Quick.PacketBudget,
		ConfigVersion:       version,
	}
}
