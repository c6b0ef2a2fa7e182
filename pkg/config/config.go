package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	xutil "FinScan/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
		// Per-client token bucket on POST endpoints; burst 0 disables it.
		RateLimit struct {
			Burst     float64 `yaml:"burst" default:"10" validate:"gte=0"`
			PerSecond float64 `yaml:"per_second" default:"1" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logger struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"finscan.logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
			IncludeWarn    bool          `yaml:"include_warn"`
		} `yaml:"collector"`
	} `yaml:"logger"`
	ClickHouse struct {
		Host             string        `yaml:"host" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finscan" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"4"`
		Timeout      time.Duration `yaml:"timeout" default:"5s"`
		Prefix       string        `yaml:"prefix" default:"finscan"`
		// L1 in-process layer in front of Redis.
		MemorySize int           `yaml:"memory_size" default:"1000"`
		MemoryTTL  time.Duration `yaml:"memory_ttl" default:"1m"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		CandlesTopic string   `yaml:"candles_topic" default:"finscan.candles"`
		EventsTopic  string   `yaml:"events_topic" default:"finscan.aggregation"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finscan-candles"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"finscan.candles.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		JobTimeout time.Duration `yaml:"job_timeout" default:"30m"`
		KeyPrefix  string        `yaml:"key_prefix" default:"finscan:queue"`
	} `yaml:"queue"`
	Scheduler struct {
		Enabled      bool          `yaml:"enabled"`
		TickInterval time.Duration `yaml:"tick_interval" default:"30s"`
		LockPrefix   string        `yaml:"lock_prefix" default:"finscan:scheduler"`
		Aggregation  DailyJob      `yaml:"aggregation"`
		Precompute   DailyJob      `yaml:"precompute"`
		Cleanup      struct {
			Interval time.Duration `yaml:"interval" default:"1h"`
		} `yaml:"cleanup"`
	} `yaml:"scheduler"`
	Scan struct {
		RangeLookback   int           `yaml:"range_lookback" default:"60" validate:"gte=2"`
		DetectionWindow int           `yaml:"detection_window" default:"10" validate:"gte=3"`
		MinRangePct     float64       `yaml:"min_range_pct" default:"5" validate:"gte=0"`
		MaxRangePct     float64       `yaml:"max_range_pct" default:"30" validate:"gtfield=MinRangePct"`
		ResultTTL       time.Duration `yaml:"result_ttl" default:"24h"`
		ProviderTimeout time.Duration `yaml:"provider_timeout" default:"10s"`
		Precompute      struct {
			Timeframes    []string   `yaml:"timeframes" validate:"omitempty,dive,oneof=5m 15m 1h 1d"`
			Confidences   []int      `yaml:"confidences" validate:"omitempty,dive,gte=0,lte=100"`
			PhaseSets     [][]string `yaml:"phase_sets"`
			UniverseLimit int        `yaml:"universe_limit" default:"500" validate:"gte=1"`
			BatchSize     int        `yaml:"batch_size" default:"20" validate:"gte=1"`
		} `yaml:"precompute"`
	} `yaml:"scan"`
	Aggregation struct {
		CatchUpDays     int           `yaml:"catch_up_days" default:"3" validate:"gte=1"`
		BackupRetention time.Duration `yaml:"backup_retention" default:"720h"`
		HistoryBars     int           `yaml:"history_bars" default:"250" validate:"gte=1"`
		StoreTimeout    time.Duration `yaml:"store_timeout" default:"30s"`
	} `yaml:"aggregation"`
	Calendar struct {
		MIC string `yaml:"mic" default:"xnys"`
	} `yaml:"calendar"`
	Instruments []Instrument `yaml:"instruments" validate:"dive"`
}

// DailyJob is a scheduler entry that fires once per day in exchange time.
type DailyJob struct {
	At      string        `yaml:"at" validate:"datetime=15:04"`
	Timeout time.Duration `yaml:"timeout" default:"2h"`
}

// Clock returns the hour and minute of At.
func (j DailyJob) Clock() (int, int) {
	t, err := time.Parse("15:04", j.At)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// Instrument seeds the instruments table at startup.
type Instrument struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	Name     string `yaml:"name"`
	Exchange string `yaml:"exchange"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if c.Scheduler.Aggregation.At == "" {
		c.Scheduler.Aggregation.At = "17:30"
	}
	if c.Scheduler.Precompute.At == "" {
		c.Scheduler.Precompute.At = "18:15"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
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
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitCSV(v)
	}
	if v := getenv("KAFKA_CANDLES_TOPIC"); v != "" {
		c.Kafka.CandlesTopic = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = strings.ToLower(v)
	}
	if v := getenv("SERVER_PORT"); v != "" {
		c.Server.Port = xutil.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Instruments = c.Instruments[:0]
		for _, s := range xutil.SplitCSV(v) {
			c.Instruments = append(c.Instruments, Instrument{Symbol: strings.ToUpper(s)})
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Scan.ResultTTL <= 0 {
		return fmt.Errorf("scan.result_ttl must be positive")
	}
	for _, set := range c.Scan.Precompute.PhaseSets {
		for _, p := range set {
			if p != "C" && p != "D" {
				return fmt.Errorf("scan.precompute.phase_sets: unknown phase %q", p)
			}
		}
	}
	return nil
}
