package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"barberbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Shop          ShopConfig          `yaml:"shop"`
	Barbers       []models.Barber     `yaml:"barbers"`
	Waitlist      WaitlistConfig      `yaml:"waitlist"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Exports       ExportConfig        `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"` // e.g. "24h"
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ShopConfig struct {
	Timezone    string         `yaml:"timezone"`
	ClosedDates []string       `yaml:"closed_dates"`
	ClosedDays  []time.Weekday `yaml:"closed_days"`
}

// Location returns the shop time zone; UTC when it cannot be loaded.
func (s ShopConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type WaitlistConfig struct {
	OfferTTL      string `yaml:"offer_ttl"`
	HotOfferTTL   string `yaml:"hot_offer_ttl"`
	SweepInterval string `yaml:"sweep_interval"`
	LockTTL       string `yaml:"lock_ttl"`
}

type ReconcilerConfig struct {
	Enabled        bool                     `yaml:"enabled"`
	Interval       string                   `yaml:"interval"`
	WindowDays     int                      `yaml:"window_days"`
	ProtectedDates []string                 `yaml:"protected_dates"`
	AutoClosures   []models.AutoClosureRule `yaml:"auto_closures"`
}

type NotificationsConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
	Days int    `yaml:"days"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	durations := map[string]string{
		"waitlist.offer_ttl":          c.Waitlist.OfferTTL,
		"waitlist.hot_offer_ttl":      c.Waitlist.HotOfferTTL,
		"waitlist.sweep_interval":     c.Waitlist.SweepInterval,
		"waitlist.lock_ttl":           c.Waitlist.LockTTL,
		"reconciler.interval":         c.Reconciler.Interval,
		"notifications.initial_delay": c.Notifications.InitialDelay,
		"notifications.max_delay":     c.Notifications.MaxDelay,
		"database.backup.schedule":    c.Database.Backup.Schedule,
	}
	for name, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if _, err := time.LoadLocation(c.Shop.Timezone); err != nil {
		return fmt.Errorf("shop.timezone: %w", err)
	}
	for _, raw := range c.Shop.ClosedDates {
		if _, err := models.ParseDate(raw); err != nil {
			return fmt.Errorf("shop.closed_dates: %w", err)
		}
	}
	if err := validateWeekdays("shop.closed_days", c.Shop.ClosedDays); err != nil {
		return err
	}

	if err := ValidateBarbers(c.Barbers); err != nil {
		return err
	}

	for _, raw := range c.Reconciler.ProtectedDates {
		if _, err := models.ParseDate(raw); err != nil {
			return fmt.Errorf("reconciler.protected_dates: %w", err)
		}
	}
	for i, rule := range c.Reconciler.AutoClosures {
		if strings.TrimSpace(rule.BarberID) == "" {
			return fmt.Errorf("reconciler.auto_closures[%d]: barber_id is required", i)
		}
		if !rule.Type.Valid() {
			return fmt.Errorf("reconciler.auto_closures[%d]: unknown closure type %q", i, rule.Type)
		}
		if err := validateWeekdays(fmt.Sprintf("reconciler.auto_closures[%d].weekdays", i), rule.Weekdays); err != nil {
			return err
		}
	}

	return nil
}

func ValidateBarbers(barbers []models.Barber) error {
	ids := make(map[string]bool)
	for _, b := range barbers {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("barber '%s' has empty ID", b.Name)
		}
		if ids[b.ID] {
			return fmt.Errorf("duplicate barber ID found: %s", b.ID)
		}
		ids[b.ID] = true
		if err := validateWeekdays("barbers."+b.ID+".closed_weekdays", b.ClosedWeekdays); err != nil {
			return err
		}
	}
	return nil
}

func validateWeekdays(field string, days []time.Weekday) error {
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%s: weekday %d outside 0..6", field, d)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "barberbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Shop.Timezone == "" {
		c.Shop.Timezone = models.DefaultTimezone
	}

	if c.Waitlist.OfferTTL == "" {
		c.Waitlist.OfferTTL = models.DefaultOfferTTL.String()
	}
	if c.Waitlist.HotOfferTTL == "" {
		c.Waitlist.HotOfferTTL = models.DefaultHotOfferTTL.String()
	}
	if c.Waitlist.SweepInterval == "" {
		c.Waitlist.SweepInterval = "1m"
	}
	if c.Waitlist.LockTTL == "" {
		c.Waitlist.LockTTL = "10s"
	}

	if c.Reconciler.Interval == "" {
		c.Reconciler.Interval = "24h"
	}
	if c.Reconciler.WindowDays == 0 {
		c.Reconciler.WindowDays = models.DefaultReconcileWindowDays
	}

	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.InitialDelay == "" {
		c.Notifications.InitialDelay = "2s"
	}
	if c.Notifications.MaxDelay == "" {
		c.Notifications.MaxDelay = "1m"
	}

	if c.Database.Backup.Schedule == "" {
		c.Database.Backup.Schedule = "24h"
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "backups"
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Exports.Days == 0 {
		c.Exports.Days = 14
	}
}

// Duration parses a duration field that Validate already accepted.
func Duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
