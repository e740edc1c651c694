package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Media      MediaConfig      `mapstructure:"media"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Portals    PortalsConfig    `mapstructure:"portals"`
	Automation AutomationConfig `mapstructure:"automation"`
	Logs       LogsConfig       `mapstructure:"logs"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// StorageConfig configures the optional S3-compatible photo mirror.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type MediaConfig struct {
	Dir               string        `mapstructure:"dir"`
	Concurrency       int           `mapstructure:"concurrency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBytes          int64         `mapstructure:"max_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
}

type AutomationConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	ActionDelay time.Duration `mapstructure:"action_delay"`
}

// LogsConfig controls retention of the persisted audit log.
type LogsConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("browser.exec_path", "CHROME_PATH")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.environment", "APP_ENV")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Probe.Source = cfg.Probe.Source.withDefaults(DefaultSourceProfile())
	cfg.Probe.Target = cfg.Probe.Target.withDefaults(DefaultTargetProfile())
	cfg.Portals.Source = cfg.Portals.Source.withDefaults(DefaultSourcePortal())
	cfg.Portals.Target = cfg.Portals.Target.withDefaults(DefaultTargetPortal())

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/listingsync.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "listing-photos")
	v.SetDefault("media.dir", "./data/media")
	v.SetDefault("media.concurrency", 4)
	v.SetDefault("media.timeout", 30*time.Second)
	v.SetDefault("media.max_bytes", 15<<20)
	v.SetDefault("media.requests_per_second", 5.0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.action_timeout", 10*time.Second)
	v.SetDefault("automation.max_attempts", 3)
	v.SetDefault("automation.action_delay", time.Second)
	v.SetDefault("logs.retention_days", 30)
	v.SetDefault("logs.sweep_interval", 6*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
}
