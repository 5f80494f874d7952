package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath  = "config.toml"
	DefaultHTTPAddr    = ":8080"
	DefaultPGHost      = "127.0.0.1"
	DefaultPGPort      = 5432
	DefaultPGUser      = "postgres"
	DefaultPGDatabase  = "replydesk"
	DefaultPGSSLMode   = "disable"
	DefaultPlatformURL = "https://graph.chat-platform.example/v19.0"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Platform   PlatformConfig   `toml:"platform"`
	Completion CompletionConfig `toml:"completion"`
	Bot        BotConfig        `toml:"bot"`
	Ingest     IngestConfig     `toml:"ingest"`
	Resilience ResilienceConfig `toml:"resilience"`
	Cache      CacheConfig      `toml:"cache"`
	Template   TemplateConfig   `toml:"template"`
	Escalation EscalationConfig `toml:"escalation"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"min=1,max=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns a libpq-style connection string accepted by both pgxpool
// and golang-migrate.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// PlatformConfig configures the chat-platform HTTP client and the
// webhook handshake.
type PlatformConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	VerifyToken    string `toml:"verify_token" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
	// SessionWindowHours is how long after the last inbound message a
	// free-form outbound send is accepted by the platform. Beyond it,
	// outbound content must go through a pre-approved template.
	SessionWindowHours int `toml:"session_window_hours" validate:"min=1"`
}

func (c PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c PlatformConfig) SessionWindow() time.Duration {
	return time.Duration(c.SessionWindowHours) * time.Hour
}

type CompletionConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1"`
}

func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type BotConfig struct {
	// HistoryLimit is the number of recent messages included in the prompt.
	HistoryLimit int `toml:"history_limit" validate:"min=1,max=10"`
	// ReplyDeadlineSeconds bounds one full orchestrator run. The run is off
	// the ack path, but an unbounded run would pile up workers.
	ReplyDeadlineSeconds int `toml:"reply_deadline_seconds" validate:"min=1"`
}

func (c BotConfig) ReplyDeadline() time.Duration {
	return time.Duration(c.ReplyDeadlineSeconds) * time.Second
}

type IngestConfig struct {
	Workers   int `toml:"workers" validate:"min=1"`
	QueueSize int `toml:"queue_size" validate:"min=1"`
}

type ResilienceConfig struct {
	FailureThreshold   int `toml:"failure_threshold" validate:"min=1"`
	OpenDurationSecs   int `toml:"open_duration_seconds" validate:"min=1"`
	RetryAttempts      int `toml:"retry_attempts" validate:"min=1"`
	RetryBaseDelayMsec int `toml:"retry_base_delay_ms" validate:"min=1"`
}

func (c ResilienceConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenDurationSecs) * time.Second
}

func (c ResilienceConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMsec) * time.Millisecond
}

type CacheConfig struct {
	AccountTTLSeconds      int `toml:"account_ttl_seconds" validate:"min=1"`
	KnowledgeTTLSeconds    int `toml:"knowledge_ttl_seconds" validate:"min=1"`
	ConversationTTLSeconds int `toml:"conversation_ttl_seconds" validate:"min=1"`
}

func (c CacheConfig) AccountTTL() time.Duration {
	return time.Duration(c.AccountTTLSeconds) * time.Second
}

func (c CacheConfig) KnowledgeTTL() time.Duration {
	return time.Duration(c.KnowledgeTTLSeconds) * time.Second
}

func (c CacheConfig) ConversationTTL() time.Duration {
	return time.Duration(c.ConversationTTLSeconds) * time.Second
}

type TemplateConfig struct {
	LookbackDays      int `toml:"lookback_days" validate:"min=1"`
	SpamWindowMinutes int `toml:"spam_window_minutes" validate:"min=1"`
	SpamThreshold     int `toml:"spam_threshold" validate:"min=1"`
	// PollIntervalMinutes is how often pending template submissions are
	// re-checked against the chat platform for approval.
	PollIntervalMinutes int `toml:"poll_interval_minutes" validate:"min=1"`
}

func (c TemplateConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

func (c TemplateConfig) SpamWindow() time.Duration {
	return time.Duration(c.SpamWindowMinutes) * time.Minute
}

type EscalationConfig struct {
	// BackupContact is the peer identifier of the human operator who
	// receives escalation summaries over the chat channel.
	BackupContact string `toml:"backup_contact"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Platform: PlatformConfig{
			BaseURL:            DefaultPlatformURL,
			VerifyToken:        "change-me",
			TimeoutSeconds:     10,
			SessionWindowHours: 24,
		},
		Completion: CompletionConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 20,
		},
		Bot: BotConfig{
			HistoryLimit:         10,
			ReplyDeadlineSeconds: 25,
		},
		Ingest: IngestConfig{
			Workers:   8,
			QueueSize: 1024,
		},
		Resilience: ResilienceConfig{
			FailureThreshold:   5,
			OpenDurationSecs:   30,
			RetryAttempts:      3,
			RetryBaseDelayMsec: 1000,
		},
		Cache: CacheConfig{
			AccountTTLSeconds:      60,
			KnowledgeTTLSeconds:    300,
			ConversationTTLSeconds: 60,
		},
		Template: TemplateConfig{
			LookbackDays:        90,
			SpamWindowMinutes:   60,
			SpamThreshold:       10,
			PollIntervalMinutes: 15,
		},
	}
}

// Load reads the TOML config at path (or $CONFIG_PATH when path is
// empty), falling back to compiled-in defaults when the file does not
// exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks structural constraints on the loaded configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
