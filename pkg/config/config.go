package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string         `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig      `yaml:"log"`
	Market      MarketConfig   `yaml:"market"`
	Fetch       FetchConfig    `yaml:"fetch"`
	Provider    ProviderConfig `yaml:"provider"`
	Cache       CacheConfig    `yaml:"cache"`
	Sheet       SheetConfig    `yaml:"sheet"`
	Server      ServerConfig   `yaml:"server"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	History     HistoryConfig  `yaml:"history"`
	Publish     PublishConfig  `yaml:"publish"`
	Lock        LockConfig     `yaml:"lock"`
	Commands    CommandsConfig `yaml:"commands"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	// Errors repeated across cycles are folded and shipped to Kafka when set.
	CollectErrors bool          `yaml:"collect_errors"`
	CollectTopic  string        `yaml:"collect_topic" default:"pricesheet.logs"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
}

// MarketConfig is the local-time trading window.
type MarketConfig struct {
	OpenHour        int    `yaml:"open_hour" default:"9" validate:"gte=0,lte=23"`
	CloseHour       int    `yaml:"close_hour" default:"16" validate:"gte=1,lte=24"`
	IntervalMinutes int    `yaml:"interval_minutes" default:"10" validate:"gte=1,lte=60"`
	Timezone        string `yaml:"timezone" default:"Local"`
}

// Location resolves Timezone. "Local" and "" map to time.Local.
func (m MarketConfig) Location() (*time.Location, error) {
	if m.Timezone == "" || m.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(m.Timezone)
}

type FetchConfig struct {
	MaxRetries   int           `yaml:"max_retries" default:"3" validate:"gte=1,lte=10"`
	RetryDelay   time.Duration `yaml:"retry_delay" default:"5s"`
	Concurrency  int           `yaml:"concurrency" default:"1" validate:"gte=1,lte=32"`
	SkipTickers  []string      `yaml:"skip_tickers"`
	ExchangePair string        `yaml:"exchange_pair" default:"CAD=X"`
	// ErrorBackoff is the pause after an unexpected loop error.
	ErrorBackoff time.Duration `yaml:"error_backoff" default:"60s"`
}

type ProviderConfig struct {
	Type       string        `yaml:"type" default:"yahoo" validate:"oneof=yahoo finnhub"`
	YahooURL   string        `yaml:"yahoo_url" default:"https://query1.finance.yahoo.com"`
	FinnhubURL string        `yaml:"finnhub_url" default:"https://finnhub.io/api/v1"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout" default:"10s"`
	UserAgent  string        `yaml:"user_agent" default:"Mozilla/5.0 (compatible; PriceSheet/1.0)"`
	// RatePerMinute caps provider calls. 0 disables limiting.
	RatePerMinute int `yaml:"rate_per_minute" default:"60" validate:"gte=0"`
	Burst         int `yaml:"burst" default:"5" validate:"gte=0"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend" default:"memory" validate:"oneof=none memory redis layered"`
	TTL           time.Duration `yaml:"ttl" default:"30s"`
	MaxEntries    int           `yaml:"max_entries" default:"1000"`
	RedisAddr     string        `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix" default:"pricesheet"`
}

type SheetConfig struct {
	Backend         string `yaml:"backend" default:"google" validate:"oneof=google memory"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file" default:"credentials.json"`
	Worksheet       string `yaml:"worksheet" default:"Sheet1"`
	TickerRow       int    `yaml:"ticker_row" default:"1" validate:"gte=1"`
	PriceRow        int    `yaml:"price_row" default:"3" validate:"gte=1"`
	TimestampCell   string `yaml:"timestamp_cell" default:"A1"`
	ExchangeCell    string `yaml:"exchange_cell" default:"A100"`
	PricePrecision  int32  `yaml:"price_precision" default:"2" validate:"gte=0,lte=8"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig lets browser dashboards on other origins read the status API.
type CORSConfig struct {
	Enabled      bool          `yaml:"enabled" default:"true"`
	AllowOrigins []string      `yaml:"allow_origins" default:"[\"*\"]" validate:"dive,required"`
	AllowMethods []string      `yaml:"allow_methods" default:"[\"GET\",\"POST\",\"OPTIONS\"]" validate:"dive,oneof=GET POST OPTIONS"`
	MaxAge       time.Duration `yaml:"max_age" default:"10m"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type HistoryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"pricesheet"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	Table            string        `yaml:"table" default:"price_history"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"10s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type PublishConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic        string        `yaml:"topic" default:"pricesheet.cycles"`
	RequiredAcks int           `yaml:"required_acks" default:"1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

// LockConfig guards against two instances writing the same sheet at once.
type LockConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl" default:"5m"`
}

// CommandsConfig enables the Kafka topic that accepts remote refresh
// requests. It reads from publish.brokers.
type CommandsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic" default:"pricesheet.commands"`
	GroupID string `yaml:"group_id" default:"pricesheet"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Missing keys take their
// default tag values.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then applies
// environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Default returns a config populated only from default tags.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("SPREADSHEET_ID"); v != "" {
		c.Sheet.SpreadsheetID = v
	}
	if v := getenv("GOOGLE_CREDENTIALS_FILE"); v != "" {
		c.Sheet.CredentialsFile = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := getenv("QUOTE_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	if v := getenv("SKIP_TICKERS"); v != "" {
		c.Fetch.SkipTickers = splitList(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Publish.Brokers = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks field tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Market.OpenHour >= c.Market.CloseHour {
		return fmt.Errorf("market.open_hour (%d) must be before market.close_hour (%d)", c.Market.OpenHour, c.Market.CloseHour)
	}
	if _, err := c.Market.Location(); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	if c.Fetch.RetryDelay < 0 {
		return errors.New("fetch.retry_delay cannot be negative")
	}
	if c.Sheet.Backend == "google" && c.Sheet.SpreadsheetID == "" {
		return errors.New("sheet.spreadsheet_id is required for the google backend")
	}
	if c.Sheet.TickerRow == c.Sheet.PriceRow {
		return errors.New("sheet.ticker_row and sheet.price_row must differ")
	}
	if c.Provider.Type == "finnhub" && c.Provider.APIKey == "" {
		return errors.New("provider.api_key is required for finnhub")
	}
	if c.Publish.Enabled && len(c.Publish.Brokers) == 0 {
		return errors.New("publish.brokers cannot be empty when publishing is enabled")
	}
	if c.Commands.Enabled && len(c.Publish.Brokers) == 0 {
		return errors.New("commands require publish.brokers")
	}
	if c.Server.CORS.Enabled && len(c.Server.CORS.AllowOrigins) == 0 {
		return errors.New("server.cors.allow_origins cannot be empty when cors is enabled")
	}
	if c.Lock.Enabled && c.Cache.Backend != "redis" && c.Cache.Backend != "layered" {
		return errors.New("lock requires a redis or layered cache backend")
	}
	return nil
}

// SkipSet returns the configured skip list, upper-cased and trimmed.
func (f FetchConfig) SkipSet() map[string]struct{} {
	out := make(map[string]struct{}, len(f.SkipTickers))
	for _, s := range f.SkipTickers {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
