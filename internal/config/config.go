package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither an explicit path nor SKYNET_CONFIG_PATH is set.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		HTTPAddr string   `yaml:"http_addr"`
		GRPCAddr string   `yaml:"grpc_addr"`
		APIKeys  []string `yaml:"api_keys"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Booking struct {
		LeadTimeHours       int `yaml:"lead_time_hours"`
		EscalationLeadHours int `yaml:"escalation_lead_hours"`
		DefaultPageSize     int `yaml:"default_page_size"`
		MaxPageSize         int `yaml:"max_page_size"`
	} `yaml:"booking"`

	Jobs struct {
		PollIntervalSeconds      int   `yaml:"poll_interval_seconds"`
		BatchSize                int   `yaml:"batch_size"`
		MaxAttempts              int   `yaml:"max_attempts"`
		RetryDelaysSeconds       []int `yaml:"retry_delays_seconds"`
		LeaseSeconds             int   `yaml:"lease_seconds"`
		ReconcileIntervalMinutes int   `yaml:"reconcile_interval_minutes"`
	} `yaml:"jobs"`

	Notifications struct {
		Telegram struct {
			BotToken    string             `yaml:"bot_token"`
			TenantChats map[string][]int64 `yaml:"tenant_chats"`
		} `yaml:"telegram"`
		NATS struct {
			URL     string `yaml:"url"`
			Subject string `yaml:"subject"`
		} `yaml:"nats"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notifications"`

	Cache struct {
		EscalationsTTLSeconds int `yaml:"escalations_ttl_seconds"`
	} `yaml:"cache"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"logging"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("SKYNET_CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes raw YAML, expanding ${ENV_VAR} placeholders and applying defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/skynet.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Notifications.NATS.Subject == "" {
		c.Notifications.NATS.Subject = "skynet.escalations"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) BookingLeadTime() time.Duration {
	if c.Booking.LeadTimeHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.Booking.LeadTimeHours) * time.Hour
}

func (c *Config) EscalationLead() time.Duration {
	if c.Booking.EscalationLeadHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(c.Booking.EscalationLeadHours) * time.Hour
}

func (c *Config) DefaultPageSize() int {
	if c.Booking.DefaultPageSize <= 0 {
		return 10
	}
	return c.Booking.DefaultPageSize
}

func (c *Config) MaxPageSize() int {
	if c.Booking.MaxPageSize <= 0 {
		return 100
	}
	return c.Booking.MaxPageSize
}

func (c *Config) JobPollInterval() time.Duration {
	if c.Jobs.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Jobs.PollIntervalSeconds) * time.Second
}

func (c *Config) JobBatchSize() int {
	if c.Jobs.BatchSize <= 0 {
		return 50
	}
	return c.Jobs.BatchSize
}

func (c *Config) JobMaxAttempts() int {
	if c.Jobs.MaxAttempts <= 0 {
		return 5
	}
	return c.Jobs.MaxAttempts
}

func (c *Config) JobRetryDelays() []time.Duration {
	if len(c.Jobs.RetryDelaysSeconds) == 0 {
		return []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}
	}
	delays := make([]time.Duration, 0, len(c.Jobs.RetryDelaysSeconds))
	for _, s := range c.Jobs.RetryDelaysSeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	return delays
}

func (c *Config) JobLease() time.Duration {
	if c.Jobs.LeaseSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Jobs.LeaseSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	if c.Jobs.ReconcileIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Jobs.ReconcileIntervalMinutes) * time.Minute
}

func (c *Config) EscalationsCacheTTL() time.Duration {
	return time.Duration(c.Cache.EscalationsTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
