package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	External  ExternalAPIConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Notifier  NotifierConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ExternalAPIConfig points at the search and analysis services
type ExternalAPIConfig struct {
	SearchURL      string
	AnalysisURL    string
	APIKey         string
	Timeout        int // seconds
	RequestsPerSec int
}

type RedisConfig struct {
	URL string
}

// SchedulerConfig controls the two tick families
type SchedulerConfig struct {
	BatchSpec      string // cron spec for due batch jobs
	MonitoringSpec string // cron spec for due watches
	BatchSize      int
	Timezone       string
	JobTimeout     time.Duration
	// TickTimeout bounds a whole tick; 0 derives it from BatchSize and JobTimeout
	TickTimeout      time.Duration
	InterruptedAfter time.Duration
	WatchStaleAfter  time.Duration
	EnableLocking    bool
}

type NotifierConfig struct {
	Channel    string
	RatePerSec int
}

// Load reads configuration from the environment, applying defaults
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Host: v.GetString("HOST"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		External: ExternalAPIConfig{
			SearchURL:      v.GetString("SEARCH_API_URL"),
			AnalysisURL:    v.GetString("ANALYSIS_API_URL"),
			APIKey:         v.GetString("EXTERNAL_API_KEY"),
			Timeout:        v.GetInt("EXTERNAL_API_TIMEOUT"),
			RequestsPerSec: v.GetInt("EXTERNAL_API_RPS"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Scheduler: SchedulerConfig{
			BatchSpec:        v.GetString("SCHEDULER_BATCH_SPEC"),
			MonitoringSpec:   v.GetString("SCHEDULER_MONITORING_SPEC"),
			BatchSize:        v.GetInt("SCHEDULER_BATCH_SIZE"),
			Timezone:         v.GetString("SCHEDULER_TIMEZONE"),
			JobTimeout:       v.GetDuration("SCHEDULER_JOB_TIMEOUT"),
			TickTimeout:      v.GetDuration("SCHEDULER_TICK_TIMEOUT"),
			InterruptedAfter: v.GetDuration("SCHEDULER_INTERRUPTED_AFTER"),
			WatchStaleAfter:  v.GetDuration("MONITORING_STALE_AFTER"),
			EnableLocking:    v.GetBool("SCHEDULER_ENABLE_LOCKING"),
		},
		Notifier: NotifierConfig{
			Channel:    v.GetString("NOTIFY_CHANNEL"),
			RatePerSec: v.GetInt("NOTIFY_RPS"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("HOST", "localhost")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "leadwatch")
	v.SetDefault("DB_PASSWORD", "leadwatch")
	v.SetDefault("DB_NAME", "leadwatch")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("SEARCH_API_URL", "")
	v.SetDefault("ANALYSIS_API_URL", "")
	v.SetDefault("EXTERNAL_API_KEY", "")
	v.SetDefault("EXTERNAL_API_TIMEOUT", 30)
	v.SetDefault("EXTERNAL_API_RPS", 5)

	v.SetDefault("REDIS_URL", "")

	v.SetDefault("SCHEDULER_BATCH_SPEC", "@every 1m")
	v.SetDefault("SCHEDULER_MONITORING_SPEC", "@every 1h")
	v.SetDefault("SCHEDULER_BATCH_SIZE", 10)
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	v.SetDefault("SCHEDULER_JOB_TIMEOUT", 30*time.Minute)
	v.SetDefault("SCHEDULER_TICK_TIMEOUT", 0)
	v.SetDefault("SCHEDULER_INTERRUPTED_AFTER", 2*time.Hour)
	v.SetDefault("MONITORING_STALE_AFTER", 365*24*time.Hour)
	v.SetDefault("SCHEDULER_ENABLE_LOCKING", true)

	v.SetDefault("NOTIFY_CHANNEL", "EMAIL_OUTBOUND")
	v.SetDefault("NOTIFY_RPS", 10)
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"SCHEDULER_BATCH_SPEC":      c.Scheduler.BatchSpec,
		"SCHEDULER_MONITORING_SPEC": c.Scheduler.MonitoringSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return errors.Wrapf(err, "invalid %s %q", name, spec)
		}
	}

	if c.Scheduler.BatchSize < 1 {
		return errors.Newf("SCHEDULER_BATCH_SIZE must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.JobTimeout <= 0 {
		return errors.New("SCHEDULER_JOB_TIMEOUT must be positive")
	}
	if c.Scheduler.TickTimeout < 0 {
		return errors.New("SCHEDULER_TICK_TIMEOUT must not be negative")
	}
	if c.Scheduler.InterruptedAfter < c.Scheduler.JobTimeout {
		return errors.Newf("SCHEDULER_INTERRUPTED_AFTER (%s) must not be shorter than SCHEDULER_JOB_TIMEOUT (%s)",
			c.Scheduler.InterruptedAfter, c.Scheduler.JobTimeout)
	}
	return nil
}

// TickBudget is how long one tick may keep starting work. By default it
// leaves room for every job of a full batch to use its own timeout.
func (s SchedulerConfig) TickBudget() time.Duration {
	if s.TickTimeout > 0 {
		return s.TickTimeout
	}
	return time.Duration(s.BatchSize) * s.JobTimeout
}

// Location returns the fixed reference timezone for schedule calculations
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid SCHEDULER_TIMEZONE %q", c.Scheduler.Timezone)
	}
	return loc, nil
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
