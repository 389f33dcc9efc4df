package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Alpaca   AlpacaConfig   `yaml:"alpaca"`
	Yahoo    YahooConfig    `yaml:"yahoo"`
	Poll     PollConfig     `yaml:"poll"`
	WSFeed   WSFeedConfig   `yaml:"wsfeed"`
	Redis    RedisConfig    `yaml:"redis"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Strategy StrategyConfig `yaml:"strategy"`
	Watch    WatchConfig    `yaml:"watch"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	// MetricsAddr serves /metrics and /healthz on a separate listener
	// when set; otherwise they share the API port.
	MetricsAddr string `yaml:"metrics_addr"`

	// Request defaults for the REST and websocket endpoints.
	Interval string `yaml:"interval" default:"1d"`
	Period   string `yaml:"period" default:"90d"`
	Warmup   string `yaml:"warmup" default:"2d"`
}

// ProviderConfig selects where history and live bars come from.
type ProviderConfig struct {
	History string `yaml:"history" default:"yahoo" validate:"oneof=yahoo alpaca sqlite"`
	Live    string `yaml:"live" default:"poll" validate:"oneof=none poll alpaca ws redis"`
}

type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Feed      string `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
}

type YahooConfig struct {
	BaseURL string `yaml:"base_url" default:"https://query1.finance.yahoo.com" validate:"url"`
	Proxy   string `yaml:"proxy"`
}

type PollConfig struct {
	Every       time.Duration `yaml:"every" default:"30s"`
	Lookback    time.Duration `yaml:"lookback"`
	MaxFailures int           `yaml:"max_failures" default:"5" validate:"gte=1"`
}

type WSFeedConfig struct {
	URL string `yaml:"url" default:"ws://localhost:9001/ws"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"data/bars.db"`
}

type FanoutConfig struct {
	BufferSize      int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
	StopTimeout     time.Duration `yaml:"stop_timeout" default:"2s"`
	BreakerFailures int           `yaml:"breaker_failures" default:"3" validate:"gte=1"`
	BreakerCoolDown time.Duration `yaml:"breaker_cool_down" default:"30s"`
}

// StrategyConfig holds the default strategy parameters. Requests may
// override them.
type StrategyConfig struct {
	Kind             string  `yaml:"kind" default:"break_retest" validate:"oneof=break_retest ma_crossover"`
	Lookback         int     `yaml:"lookback" default:"20" validate:"gte=2"`
	Tolerance        float64 `yaml:"tolerance" default:"0.003" validate:"gt=0,lt=0.333"`
	ConfirmationBars int     `yaml:"confirmation_bars" default:"1" validate:"gte=1"`
	Fast             string  `yaml:"fast" default:"MA10"`
	Slow             string  `yaml:"slow" default:"MA30" validate:"nefield=Fast"`
}

type WatchConfig struct {
	Tickers         []string `yaml:"tickers" validate:"dive,required"`
	Interval        string   `yaml:"interval" default:"5m"`
	Period          string   `yaml:"period" default:"5d"`
	Schedule        string   `yaml:"schedule" default:"@every 1m"`
	MarketHoursOnly bool     `yaml:"market_hours_only"`
}

type NotifyConfig struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Webhook struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"webhook"`
	Kafka struct {
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic" default:"daisy.alerts"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"kafka"`
}

var validate = validator.New()

// Load reads the YAML file at path, fills defaults, applies environment
// overrides and validates the result. A missing file or an empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Alpaca.APISecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Notify.Webhook.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	return nil
}

// Validate runs the struct rules and the checks that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	usesAlpaca := c.Provider.History == "alpaca" || c.Provider.Live == "alpaca"
	if usesAlpaca && (c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "") {
		return fmt.Errorf("alpaca provider needs ALPACA_API_KEY and ALPACA_SECRET_KEY")
	}
	if (c.Notify.Telegram.Token == "") != (c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("telegram needs both a bot token and a chat id")
	}
	return nil
}

// ServerAddr returns the API listen address.
func (c *Config) ServerAddr() string { return ":" + strconv.Itoa(c.Server.Port) }

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
