// Package config loads the service configuration: struct defaults, then an
// optional YAML file, then environment variables (a .env file is honoured),
// then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-signalv1/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Service     string `yaml:"service" default:"signald" validate:"required"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=debug info warn warning error"`
	HTTPAddr    string `yaml:"http_addr" default:":8080" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`

	Signal      Signal             `yaml:"signal"`
	Instruments []model.Instrument `yaml:"instruments" validate:"dive"`
	Advisory    Advisory           `yaml:"advisory"`
	MarketData  MarketData         `yaml:"market_data"`
	Redis       Redis              `yaml:"redis"`
	Notify      Notify             `yaml:"notify"`
	Gateway     Gateway            `yaml:"gateway"`
}

// Signal configures the pipeline and its timing.
type Signal struct {
	Instrument    string        `yaml:"instrument" default:"BTCUSDT" validate:"required"`
	Timeframe     string        `yaml:"timeframe" default:"1m" validate:"oneof=1m 3m 5m"`
	TriggerSecond int           `yaml:"trigger_second" default:"45" validate:"min=0,max=59"`
	CandlePeriod  time.Duration `yaml:"candle_period" default:"60s" validate:"gt=0"`
	HistoryLimit  int           `yaml:"history_limit" default:"50" validate:"min=1,max=1000"`
	QuotaCoolDown time.Duration `yaml:"quota_cool_down" default:"60s" validate:"gt=0"`
	Paused        bool          `yaml:"paused"`
}

// Advisory configures the Gemini-backed advisory service. Without an API
// key the service runs on the fallback rules alone.
type Advisory struct {
	Enabled bool          `yaml:"enabled" default:"true"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model" default:"gemini-3-flash-preview" validate:"required"`
	Timeout time.Duration `yaml:"timeout" default:"8s" validate:"gt=0"`
}

// MarketData configures the live and simulated sources.
type MarketData struct {
	BinanceREST       string        `yaml:"binance_rest" default:"https://api.binance.com" validate:"url"`
	BinanceWS         string        `yaml:"binance_ws" default:"wss://stream.binance.com:9443/ws" validate:"url"`
	TickServerURL     string        `yaml:"tick_server_url" validate:"omitempty,url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" default:"10s"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"2s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"30s"`
	SimInterval       time.Duration `yaml:"sim_interval" default:"1s" validate:"gt=0"`
}

// Redis configures state publishing.
type Redis struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"min=0"`
	Prefix    string        `yaml:"prefix" default:"signal"`
	LatestTTL time.Duration `yaml:"latest_ttl" default:"30m"`
}

// Notify configures degraded-mode alerts. Alerts are always logged.
type Notify struct {
	WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
	QueueSize      int    `yaml:"queue_size" default:"32" validate:"min=1"`
}

// Gateway configures the presentation API.
type Gateway struct {
	RefreshLimit  int           `yaml:"refresh_limit" default:"6" validate:"min=1"`
	RefreshPeriod time.Duration `yaml:"refresh_period" default:"60s" validate:"gt=0"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if len(c.Instruments) == 0 {
		c.Instruments = model.DefaultInstruments()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and that the default instrument is in
// the catalogue.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for _, in := range c.Instruments {
		if in.Symbol == c.Signal.Instrument {
			return nil
		}
	}
	return fmt.Errorf("signal.instrument %q is not in the instrument catalogue", c.Signal.Instrument)
}

// AdvisoryActive reports whether advisory calls should be made.
func (c *Config) AdvisoryActive() bool {
	return c.Advisory.Enabled && c.Advisory.APIKey != ""
}

// Timeframe returns the configured default timeframe.
func (c *Config) Timeframe() model.Timeframe {
	return model.Timeframe(c.Signal.Timeframe)
}

func (c *Config) applyEnv() error {
	c.Service = getEnv("SERVICE_NAME", c.Service)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.Signal.Instrument = getEnv("SIGNAL_INSTRUMENT", c.Signal.Instrument)
	c.Signal.Timeframe = getEnv("SIGNAL_TIMEFRAME", c.Signal.Timeframe)

	c.Advisory.APIKey = getEnv("GEMINI_API_KEY", getEnv("API_KEY", c.Advisory.APIKey))
	c.Advisory.Model = getEnv("ADVISORY_MODEL", c.Advisory.Model)

	c.MarketData.TickServerURL = getEnv("TICK_SERVER_URL", c.MarketData.TickServerURL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)

	var errs []error
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"ADVISORY_ENABLED", &c.Advisory.Enabled},
		{"REDIS_ENABLED", &c.Redis.Enabled},
		{"SIGNAL_PAUSED", &c.Signal.Paused},
	} {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
				continue
			}
			*b.dst = parsed
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		} else {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("SIGNAL_INSTRUMENTS"); v != "" {
		c.Instruments = ParseInstruments(v)
	}
	return errors.Join(errs...)
}

// ParseInstruments parses "SYMBOL[=Name],..." into a catalogue.
func ParseInstruments(s string) []model.Instrument {
	var out []model.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, name, _ := strings.Cut(part, "=")
		sym = strings.TrimSpace(sym)
		name = strings.TrimSpace(name)
		if name == "" {
			name = sym
		}
		out = append(out, model.Instrument{Symbol: sym, Name: name})
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
