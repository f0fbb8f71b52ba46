// Package config читает YAML-конфигурацию, подставляет значения по умолчанию
// и переменные окружения, затем проверяет результат.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	yaml "go.yaml.in/yaml/v3"

	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
)

// Duration разбирается из строки вида "15m" или "24h".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseDurationField(fmt.Sprintf("line %d", node.Line), raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ParseDurationField разбирает длительность; пустая строка даёт ноль.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, errors.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Bot       BotConfig       `yaml:"bot"`
	HTTP      HTTPConfig      `yaml:"http"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Groups    GroupsConfig    `yaml:"groups"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TelegramConfig struct {
	APIID   int           `yaml:"api_id"`
	APIHash string        `yaml:"api_hash"`
	Proxy   *models.Proxy `yaml:"proxy"`
}

type SessionsConfig struct {
	Dir        string   `yaml:"dir"`
	Expiry     Duration `yaml:"expiry"`
	PendingTTL Duration `yaml:"pending_ttl"`
}

// RateLimit - не больше MaxCommands команд за Window.
type RateLimit struct {
	Window      Duration `yaml:"window"`
	MaxCommands int      `yaml:"max_commands"`
}

type BotConfig struct {
	Enabled        bool      `yaml:"enabled"`
	Token          string    `yaml:"token"`
	OwnerID        int64     `yaml:"owner_id"`
	PollTimeout    Duration  `yaml:"poll_timeout"`
	ConfirmTimeout Duration  `yaml:"confirm_timeout"`
	RateLimit      RateLimit `yaml:"rate_limit"`
}

type HTTPConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Addr      string    `yaml:"addr"`
	Token     string    `yaml:"token"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type BroadcastConfig struct {
	DefaultFormat    string `yaml:"default_format"`
	ParallelAccounts int    `yaml:"parallel_accounts"`
	HistorySize      int    `yaml:"history_size"`
}

type GroupsConfig struct {
	LeaveMuted    bool `yaml:"leave_muted"`
	LeaveReadOnly bool `yaml:"leave_read_only"`
}

// HistoryConfig задаёт необязательное хранилище журнала рассылок в БД.
// Пустой Driver означает, что журнал живёт только в памяти.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SchedulerConfig struct {
	Timezone       string `yaml:"timezone"`
	ReapPending    string `yaml:"reap_pending"`
	CleanupExpired string `yaml:"cleanup_expired"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigError - ошибка проверки одного поля.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() Config {
	return Config{
		Sessions: SessionsConfig{
			Dir:        "sessions",
			Expiry:     Duration(24 * time.Hour),
			PendingTTL: Duration(15 * time.Minute),
		},
		Bot: BotConfig{
			Enabled:        true,
			PollTimeout:    Duration(10 * time.Second),
			ConfirmTimeout: Duration(30 * time.Second),
			RateLimit:      RateLimit{Window: Duration(60 * time.Second), MaxCommands: 10},
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			RateLimit: RateLimit{Window: Duration(60 * time.Second), MaxCommands: 60},
		},
		Broadcast: BroadcastConfig{
			DefaultFormat:    string(conn.FormatMarkdown),
			ParallelAccounts: 1,
			HistorySize:      100,
		},
		Groups:    GroupsConfig{LeaveMuted: true, LeaveReadOnly: true},
		Scheduler: SchedulerConfig{Timezone: "UTC", ReapPending: "@every 1m"},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load читает файл поверх значений по умолчанию. Пустой path допустим:
// тогда конфигурация собирается из окружения.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnv подставляет переменные окружения поверх файла.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("API_ID"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "API_ID", Reason: "must be an integer"}
		}
		cfg.Telegram.APIID = id
	}
	if v, ok := get("API_HASH"); ok {
		cfg.Telegram.APIHash = v
	}
	if v, ok := get("BOT_TOKEN"); ok {
		cfg.Bot.Token = v
	}
	if v, ok := get("OWNER_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Field: "OWNER_ID", Reason: "must be an integer"}
		}
		cfg.Bot.OwnerID = id
	}
	if v, ok := get("SESSION_DIR"); ok {
		cfg.Sessions.Dir = v
	}
	if v, ok := get("HTTP_TOKEN"); ok {
		cfg.HTTP.Token = v
	}
	if v, ok := get("PORT"); ok {
		cfg.HTTP.Addr = ":" + v
	}
	return nil
}

// Validate проверяет обязательные поля и допустимые значения.
func (c Config) Validate() error {
	switch {
	case c.Telegram.APIID <= 0:
		return &ConfigError{Field: "telegram.api_id", Reason: "is required"}
	case c.Telegram.APIHash == "":
		return &ConfigError{Field: "telegram.api_hash", Reason: "is required"}
	case c.Sessions.Dir == "":
		return &ConfigError{Field: "sessions.dir", Reason: "is required"}
	case c.Sessions.Expiry <= 0:
		return &ConfigError{Field: "sessions.expiry", Reason: "must be positive"}
	case c.Sessions.PendingTTL <= 0:
		return &ConfigError{Field: "sessions.pending_ttl", Reason: "must be positive"}
	}
	if !c.Bot.Enabled && !c.HTTP.Enabled {
		return &ConfigError{Field: "bot.enabled", Reason: "bot or http surface must be enabled"}
	}
	if c.Bot.Enabled {
		if c.Bot.Token == "" {
			return &ConfigError{Field: "bot.token", Reason: "is required"}
		}
		if c.Bot.OwnerID == 0 {
			return &ConfigError{Field: "bot.owner_id", Reason: "is required"}
		}
		if err := c.Bot.RateLimit.validate("bot.rate_limit"); err != nil {
			return err
		}
	}
	if c.HTTP.Enabled {
		if c.HTTP.Token == "" {
			return &ConfigError{Field: "http.token", Reason: "is required"}
		}
		if err := c.HTTP.RateLimit.validate("http.rate_limit"); err != nil {
			return err
		}
	}
	if _, err := conn.ParseFormat(c.Broadcast.DefaultFormat); err != nil {
		return &ConfigError{Field: "broadcast.default_format", Reason: err.Error()}
	}
	if c.Broadcast.ParallelAccounts < 1 {
		return &ConfigError{Field: "broadcast.parallel_accounts", Reason: "must be at least 1"}
	}
	if c.Broadcast.HistorySize < 1 {
		return &ConfigError{Field: "broadcast.history_size", Reason: "must be at least 1"}
	}
	switch c.History.Driver {
	case "":
	case "postgres", "sqlite":
		if c.History.DSN == "" {
			return &ConfigError{Field: "history.dsn", Reason: "is required for driver " + c.History.Driver}
		}
	default:
		return &ConfigError{Field: "history.driver", Reason: fmt.Sprintf("unsupported driver %q", c.History.Driver)}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return &ConfigError{Field: "scheduler.timezone", Reason: err.Error()}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return &ConfigError{Field: "logging.format", Reason: "must be console or json"}
	}
	return nil
}

func (r RateLimit) validate(field string) error {
	if r.Window <= 0 {
		return &ConfigError{Field: field + ".window", Reason: "must be positive"}
	}
	if r.MaxCommands < 1 {
		return &ConfigError{Field: field + ".max_commands", Reason: "must be at least 1"}
	}
	return nil
}
