package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"StockSense/internal/domain/models"
)

// Artifact store backends.
const (
	ArtifactsMemory   = "memory"
	ArtifactsRedis    = "redis"
	ArtifactsLayered  = "layered"
	ArtifactsPostgres = "postgres"
)

// Market data sources.
const (
	SourceClickHouse = "clickhouse"
	SourceHTTP       = "http"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"5m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// TrainPerMinute limits POST /api/train per client IP. Zero disables.
		TrainPerMinute int `yaml:"train_per_minute" default:"6"`
		// AllowedOrigins for CORS and the websocket stream. Empty accepts any origin.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		Level     string `yaml:"level" default:"info"`
		Format    string `yaml:"format" default:"json"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"stocksense.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Warnings  bool          `yaml:"warnings"`
		} `yaml:"collector"`
	} `yaml:"logger"`
	Pipeline struct {
		MinHistory     int     `yaml:"min_history" default:"100"`
		HorizonDays    int     `yaml:"horizon_days" default:"7"`
		HistoryLimit   int     `yaml:"history_limit" default:"1500"`
		CVFolds        int     `yaml:"cv_folds" default:"5"`
		MinFoldSamples int     `yaml:"min_fold_samples" default:"20"`
		Workers        int     `yaml:"workers" default:"4"`
		RidgeAlpha     float64 `yaml:"ridge_alpha" default:"1.0"`
		RegimeWindow   int     `yaml:"regime_window" default:"252"`
		RegimeBand     float64 `yaml:"regime_band" default:"0.10"`
		TrainOnStart   bool    `yaml:"train_on_start"`
		// Candidates override the leaf-wise booster grid when set.
		Candidates []models.BoosterParams `yaml:"candidates"`
		Weights    map[string]float64     `yaml:"weights"`
	} `yaml:"pipeline"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		PredictionsTopic string   `yaml:"predictions_topic" default:"stocksense.predictions"`
		RetrainTopic     string   `yaml:"retrain_topic" default:"stocksense.retrain-requests"`
		RequiredAcks     int      `yaml:"required_acks" default:"1"`
		Compression      string   `yaml:"compression" default:"snappy"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"stocksense-retrain"`
			StartOffset string        `yaml:"start_offset" default:"latest"`
			Workers     int           `yaml:"workers" default:"2"`
			BufferSize  int           `yaml:"buffer_size" default:"64"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"stocksense"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
		StorePredictions bool          `yaml:"store_predictions" default:"true"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN            string `yaml:"dsn"`
		MaxConnections int32  `yaml:"max_connections" default:"10"`
		KeepVersions   int    `yaml:"keep_versions" default:"5"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"stocksense"`
	} `yaml:"redis"`
	Artifacts struct {
		Backend       string        `yaml:"backend" default:"memory"`
		TTL           time.Duration `yaml:"ttl"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1024"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"30s"`
	} `yaml:"artifacts"`
	MarketData struct {
		Source        string        `yaml:"source" default:"clickhouse"`
		BaseURL       string        `yaml:"base_url"`
		APIKey        string        `yaml:"api_key"`
		Timeout       time.Duration `yaml:"timeout" default:"10s"`
		RatePerMinute int           `yaml:"rate_per_minute" default:"120"`
		Retries       int           `yaml:"retries" default:"3"`
	} `yaml:"market_data"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Name       string        `yaml:"name" default:"retrain"`
		Workers    int           `yaml:"workers" default:"1"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		// RecoverOnStart requeues jobs a crashed process left unfinished.
		// Only safe with a single consuming process.
		RecoverOnStart bool `yaml:"recover_on_start"`
	} `yaml:"queue"`
	Tickers []string `yaml:"tickers"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("STOCKSENSE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("STOCKSENSE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("STOCKSENSE_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := getenv("STOCKSENSE_TICKERS"); v != "" {
		c.Tickers = strings.Split(v, ",")
	}
	if v := getenv("STOCKSENSE_HORIZON_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.Pipeline.HorizonDays = d
		}
	}
	if v := getenv("STOCKSENSE_ARTIFACTS_BACKEND"); v != "" {
		c.Artifacts.Backend = v
	}
	if v := getenv("STOCKSENSE_MARKET_DATA_URL"); v != "" {
		c.MarketData.Source = SourceHTTP
		c.MarketData.BaseURL = v
	}
	if v := getenv("MARKET_DATA_API_KEY"); v != "" {
		c.MarketData.APIKey = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Pipeline.HorizonDays < 1 || c.Pipeline.HorizonDays > 30 {
		return fmt.Errorf("pipeline.horizon_days must be within 1..30, got %d", c.Pipeline.HorizonDays)
	}
	if c.Pipeline.MinHistory < 50 {
		return fmt.Errorf("pipeline.min_history must be at least 50, got %d", c.Pipeline.MinHistory)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if c.Pipeline.CVFolds < 2 {
		return fmt.Errorf("pipeline.cv_folds must be at least 2")
	}
	switch c.Artifacts.Backend {
	case ArtifactsMemory, ArtifactsRedis, ArtifactsLayered:
	case ArtifactsPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for artifacts.backend=postgres")
		}
	default:
		return fmt.Errorf("artifacts.backend must be one of memory|redis|layered|postgres, got '%s'", c.Artifacts.Backend)
	}
	switch c.MarketData.Source {
	case SourceClickHouse:
	case SourceHTTP:
		if c.MarketData.BaseURL == "" {
			return fmt.Errorf("market_data.base_url is required for source=http")
		}
	default:
		return fmt.Errorf("market_data.source must be 'clickhouse' or 'http', got '%s'", c.MarketData.Source)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
