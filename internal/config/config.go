package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultTempDir          = "temp_files"
	DefaultThumbnailDir     = "thumbnails"
	DefaultMaxFileBytes     = 2000 * 1024 * 1024
	PublicAPIMaxFileBytes   = 20 * 1024 * 1024
	DefaultMaxThumbBytes    = 200 * 1024
	DefaultDailyLimitBytes  = 2 * 1024 * 1024 * 1024
	DefaultCooldownSeconds  = 30
	DefaultTimezone         = "UTC"
	DefaultCacheTTL         = "1h"
	DefaultPromptTTL        = "10m"
	DefaultProgressInterval = "5s"
	DefaultNormalizeMax     = 100 * 1024 * 1024
	DefaultRateLimitRetries = 5
	DefaultSweepSchedule    = "@every 1m"
	DefaultJoinCacheTTL     = "1m"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "renambot"
	DefaultPGSSLMode        = "disable"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Storage  StorageConfig  `toml:"storage"`
	Quota    QuotaConfig    `toml:"quota"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Postgres PostgresConfig `toml:"postgres"`
	Sweep    SweepConfig    `toml:"sweep"`
	Join     JoinConfig     `toml:"force_join"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	// Addr is the status HTTP listener. Empty disables the server.
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
	// APIEndpoint points at a self-hosted Bot API server, which lifts the
	// 20 MB download and 50 MB upload limits of the public endpoint.
	APIEndpoint   string  `toml:"api_endpoint"`
	AdminIDs      []int64 `toml:"admin_ids"`
	PollTimeout   int     `toml:"poll_timeout" validate:"gte=0"`
	SendPerSecond float64 `toml:"send_per_second" validate:"gte=0"`
}

type StorageConfig struct {
	TempDir       string `toml:"temp_dir" validate:"required"`
	ThumbnailDir  string `toml:"thumbnail_dir" validate:"required"`
	MaxThumbBytes int64  `toml:"max_thumb_bytes" validate:"gt=0"`
	// Driver selects where quota and preferences live: memory or postgres.
	Driver string `toml:"driver" validate:"oneof=memory postgres"`
}

type QuotaConfig struct {
	DailyLimitBytes int64  `toml:"daily_limit_bytes" validate:"gt=0"`
	CooldownSeconds int    `toml:"cooldown_seconds" validate:"gte=0"`
	Timezone        string `toml:"timezone" validate:"required"`
}

type PipelineConfig struct {
	MaxFileBytes     int64  `toml:"max_file_bytes" validate:"gt=0"`
	CacheTTL         string `toml:"cache_ttl" validate:"required"`
	PromptTTL        string `toml:"prompt_ttl" validate:"required"`
	ProgressInterval string `toml:"progress_interval" validate:"required"`
	NormalizeMaxSize int64  `toml:"normalize_max_bytes" validate:"gte=0"`
	RateLimitRetries int    `toml:"rate_limit_retries" validate:"gte=0"`
}

type PostgresConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns the connection string, preferring an explicit URL.
func (c PostgresConfig) DSN() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type SweepConfig struct {
	Schedule string `toml:"schedule" validate:"required"`
}

// JoinConfig lists the channels users must join. Channels saved with
// /addfsub take precedence; these apply while none are saved.
type JoinConfig struct {
	Channels []string `toml:"channels"`
	CacheTTL string   `toml:"cache_ttl"`
}

// CacheTTLDuration is how long a confirmed membership is reused. "0" or
// "off" disables the cache.
func (c JoinConfig) CacheTTLDuration() time.Duration {
	switch strings.TrimSpace(c.CacheTTL) {
	case "0", "off":
		return -1
	}
	return parseDurationOr(c.CacheTTL, time.Minute)
}

func (c PipelineConfig) CacheTTLDuration() time.Duration {
	return parseDurationOr(c.CacheTTL, time.Hour)
}

func (c PipelineConfig) PromptTTLDuration() time.Duration {
	return parseDurationOr(c.PromptTTL, 10*time.Minute)
}

func (c PipelineConfig) ProgressIntervalDuration() time.Duration {
	return parseDurationOr(c.ProgressInterval, 5*time.Second)
}

// MaxFileBytesLimit is the largest file the bot can accept. The public Bot
// API refuses downloads over 20 MB, so without APIEndpoint the configured
// limit is capped to that.
func (c Config) MaxFileBytesLimit() int64 {
	limit := c.Pipeline.MaxFileBytes
	if strings.TrimSpace(c.Telegram.APIEndpoint) == "" && limit > PublicAPIMaxFileBytes {
		limit = PublicAPIMaxFileBytes
	}
	return limit
}

func (c QuotaConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeout:   30,
			SendPerSecond: 25,
		},
		Storage: StorageConfig{
			TempDir:       DefaultTempDir,
			ThumbnailDir:  DefaultThumbnailDir,
			MaxThumbBytes: DefaultMaxThumbBytes,
			Driver:        StoreMemory,
		},
		Quota: QuotaConfig{
			DailyLimitBytes: DefaultDailyLimitBytes,
			CooldownSeconds: DefaultCooldownSeconds,
			Timezone:        DefaultTimezone,
		},
		Pipeline: PipelineConfig{
			MaxFileBytes:     DefaultMaxFileBytes,
			CacheTTL:         DefaultCacheTTL,
			PromptTTL:        DefaultPromptTTL,
			ProgressInterval: DefaultProgressInterval,
			NormalizeMaxSize: DefaultNormalizeMax,
			RateLimitRetries: DefaultRateLimitRetries,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Sweep: SweepConfig{
			Schedule: DefaultSweepSchedule,
		},
		Join: JoinConfig{
			CacheTTL: DefaultJoinCacheTTL,
		},
	}
}

// Load reads the TOML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need a subset of the
// settings such as the migrate command.
func Read(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := firstEnv(lookup, "BOT_TOKEN", "TOKEN"); ok {
		cfg.Telegram.BotToken = v
	}
	if v, ok := lookup("TELEGRAM_API_ENDPOINT"); ok {
		cfg.Telegram.APIEndpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("ADMIN_IDS"); ok {
		ids, err := ParseAdminIDs(v)
		if err != nil {
			return err
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v, ok := lookup("TEMP_DIR"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.TempDir = strings.TrimSpace(v)
	}
	if v, ok := lookup("THUMBNAIL_DIR"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.ThumbnailDir = strings.TrimSpace(v)
	}
	if v, ok := lookup("DAILY_LIMIT_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("DAILY_LIMIT_BYTES: %w", err)
		}
		cfg.Quota.DailyLimitBytes = n
	}
	if v, ok := lookup("COOLDOWN_SECONDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("COOLDOWN_SECONDS: %w", err)
		}
		cfg.Quota.CooldownSeconds = n
	}
	if v, ok := lookup("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		cfg.Postgres.URL = strings.TrimSpace(v)
		cfg.Storage.Driver = StorePostgres
	}
	if v, ok := firstEnv(lookup, "FORCE_JOIN_CHANNELS", "FORCE_JOIN_CHANNEL"); ok {
		cfg.Join.Channels = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

func firstEnv(lookup lookupFunc, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
}

// ParseAdminIDs parses a comma or space separated list of user ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	fields := splitList(raw)
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", field, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
