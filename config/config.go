package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv  = "AUCTION_SCRAPER_CONFIG"
	databaseDSNEnv = "DATABASE_DSN"
	storeDriverEnv = "AUCTION_STORE"
	sqlitePathEnv  = "AUCTION_SQLITE_PATH"
	headlessEnv    = "AUCTION_HEADLESS"
	logLevelEnv    = "AUCTION_LOG_LEVEL"
)

type Config struct {
	SiteURL  string `yaml:"siteUrl"`
	APIURL   string `yaml:"apiUrl"`
	MediaURL string `yaml:"mediaUrl"`

	PageSize        int    `yaml:"pageSize"`
	MaxPages        int    `yaml:"maxPages"`
	PageConcurrency int    `yaml:"pageConcurrency"`
	FilterTypes     string `yaml:"filterTypes"`
	RadiusMiles     int    `yaml:"radiusMiles"`

	BootstrapTimeout time.Duration `yaml:"bootstrapTimeout"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	MinDelay         time.Duration `yaml:"minDelay"`
	MaxDelay         time.Duration `yaml:"maxDelay"`
	MaxRetries       int           `yaml:"maxRetries"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`

	Headless         bool `yaml:"headless"`
	CloudflareBypass bool `yaml:"cloudflareBypass"`

	CSVPath  string `yaml:"csvPath"`
	LogLevel string `yaml:"logLevel"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects the listings store. Driver is one of postgres, sqlite or memory.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlitePath"`
	DSN        string `yaml:"dsn"`
	DBHost     string `yaml:"dbHost"`
	DBPort     int    `yaml:"dbPort"`
	DBUser     string `yaml:"dbUser"`
	DBPassword string `yaml:"dbPassword"`
	DBName     string `yaml:"dbName"`
	DBSSLMode  string `yaml:"dbSslMode"`
}

func DefaultConfig() *Config {
	return &Config{
		SiteURL:          "https://www.storagetreasures.com",
		APIURL:           "https://api.st-prd-1.aws.storagetreasures.com/p/auctions",
		MediaURL:         "https://media.st-prd-1.aws.storagetreasures.com",
		PageSize:         15,
		MaxPages:         0,
		PageConcurrency:  1,
		FilterTypes:      "1,2,3,4",
		RadiusMiles:      50,
		BootstrapTimeout: 45 * time.Second,
		RequestTimeout:   20 * time.Second,
		MinDelay:         1 * time.Second,
		MaxDelay:         2 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   2 * time.Second,
		Headless:         true,
		CloudflareBypass: true,
		CSVPath:          "",
		LogLevel:         "info",
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/storage_scraper.db",
			DBHost:     "localhost",
			DBPort:     5432,
			DBUser:     "postgres",
			DBPassword: "postgres",
			DBName:     "storage_auctions",
			DBSSLMode:  "disable",
		},
	}
}

// Load starts from DefaultConfig, applies the YAML file at path (or the one
// named by AUCTION_SCRAPER_CONFIG) and then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Fields missing from the file keep their defaults.
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Override merges the non-zero fields of o into c. Used for CLI flags.
func (c *Config) Override(o Config) error {
	if err := mergo.Merge(c, o, mergo.WithOverride); err != nil {
		return fmt.Errorf("config: merge overrides: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(storeDriverEnv); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv(sqlitePathEnv); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(headlessEnv); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", headlessEnv, v, err)
		}
		c.Headless = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SiteURL == "" || c.APIURL == "" {
		return fmt.Errorf("config: siteUrl and apiUrl are required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("config: pageSize must be positive, got %d", c.PageSize)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("config: maxPages must not be negative, got %d", c.MaxPages)
	}
	if c.PageConcurrency < 1 || c.PageConcurrency > 4 {
		return fmt.Errorf("config: pageConcurrency must be between 1 and 4, got %d", c.PageConcurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("config: maxRetries must be at least 1, got %d", c.MaxRetries)
	}
	if c.BootstrapTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("config: bootstrapTimeout and requestTimeout must be positive")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("config: maxDelay (%v) is below minDelay (%v)", c.MaxDelay, c.MinDelay)
	}
	if _, err := ParseAuctionTypes(c.FilterTypes); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// PostgresDSN returns Store.DSN when set, otherwise a URL built from the parts.
func (s StoreConfig) PostgresDSN() string {
	if s.DSN != "" {
		return s.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.DBUser,
		s.DBPassword,
		s.DBHost,
		s.DBPort,
		s.DBName,
		s.DBSSLMode,
	)
}

var auctionTypeCodes = map[string]string{
	"lien":            "1",
	"1":               "1",
	"private":         "2",
	"private_seller":  "2",
	"non_lien":        "2",
	"2":               "2",
	"manager_special": "3",
	"manager special": "3",
	"3":               "3",
	"charity":         "4",
	"4":               "4",
}

// ParseAuctionTypes maps a comma separated list of auction type names or
// codes to the marketplace's filter_types value, e.g. "lien,charity" -> "1,4".
func ParseAuctionTypes(list string) (string, error) {
	seen := make(map[string]bool)
	for _, part := range strings.Split(list, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if key == "" {
			continue
		}
		code, ok := auctionTypeCodes[key]
		if !ok {
			return "", fmt.Errorf("config: unknown auction type %q", part)
		}
		seen[code] = true
	}
	if len(seen) == 0 {
		return "", fmt.Errorf("config: no auction types selected")
	}

	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return strings.Join(codes, ","), nil
}
