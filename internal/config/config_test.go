package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"barberbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("BARBERBOOK_DB", filepath.Join(tmpDir, "shop.db"))

	yamlContent := `
database:
  path: "${BARBERBOOK_DB}"
barbers:
  - id: fabio
    name: Fabio
    active: true
    closed_weekdays: [1]
  - id: michele
    name: Michele
    active: true
waitlist:
  offer_ttl: "12h"
reconciler:
  enabled: true
  protected_dates: ["2025-12-24"]
  auto_closures:
    - barber_id: michele
      weekdays: [6]
      type: afternoon
      reason: "Saturday afternoons off"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "shop.db"), cfg.Database.Path)
	require.Len(t, cfg.Barbers, 2)
	assert.Equal(t, "fabio", cfg.Barbers[0].ID)
	assert.Equal(t, []time.Weekday{time.Monday}, cfg.Barbers[0].ClosedWeekdays)
	assert.Equal(t, "12h", cfg.Waitlist.OfferTTL)
	assert.Equal(t, models.DefaultHotOfferTTL.String(), cfg.Waitlist.HotOfferTTL)
	require.Len(t, cfg.Reconciler.AutoClosures, 1)
	assert.Equal(t, []time.Weekday{time.Saturday}, cfg.Reconciler.AutoClosures[0].Weekdays)
	assert.Equal(t, models.ClosureAfternoon, cfg.Reconciler.AutoClosures[0].Type)
	assert.Equal(t, 12*time.Hour, Duration(cfg.Waitlist.OfferTTL, models.DefaultOfferTTL))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "shop.db"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad offer ttl", mutate: func(c *Config) { c.Waitlist.OfferTTL = "tomorrow" }, wantErr: true},
		{name: "negative sweep interval", mutate: func(c *Config) { c.Waitlist.SweepInterval = "-1m" }, wantErr: true},
		{name: "bad protected date", mutate: func(c *Config) { c.Reconciler.ProtectedDates = []string{"24/12/2025"} }, wantErr: true},
		{name: "bad backup schedule", mutate: func(c *Config) { c.Database.Backup.Schedule = "nightly" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Shop.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "bad closed day", mutate: func(c *Config) { c.Shop.ClosedDays = []time.Weekday{7} }, wantErr: true},
		{
			name: "unknown auto closure type",
			mutate: func(c *Config) {
				c.Reconciler.AutoClosures = []models.AutoClosureRule{{BarberID: "fabio", Type: "evening"}}
			},
			wantErr: true,
		},
		{
			name: "auto closure without barber",
			mutate: func(c *Config) {
				c.Reconciler.AutoClosures = []models.AutoClosureRule{{Type: models.ClosureMorning}}
			},
			wantErr: true,
		},
		{
			name: "duplicate barber id",
			mutate: func(c *Config) {
				c.Barbers = []models.Barber{{ID: "fabio"}, {ID: "fabio"}}
			},
			wantErr: true,
		},
		{
			name: "barber closed weekday out of range",
			mutate: func(c *Config) {
				c.Barbers = []models.Barber{{ID: "fabio", ClosedWeekdays: []time.Weekday{9}}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, models.DefaultTimezone, cfg.Shop.Timezone)
	assert.Equal(t, "24h0m0s", cfg.Waitlist.OfferTTL)
	assert.Equal(t, "15m0s", cfg.Waitlist.HotOfferTTL)
	assert.Equal(t, models.DefaultReconcileWindowDays, cfg.Reconciler.WindowDays)
	assert.Equal(t, 5, cfg.Notifications.MaxRetries)
	assert.Equal(t, 0, cfg.Monitoring.PrometheusPort)
	assert.Equal(t, "24h", cfg.Database.Backup.Schedule)
	assert.False(t, cfg.Database.Backup.Enabled)

	cfg = &Config{Monitoring: MonitoringConfig{PrometheusEnabled: true}}
	cfg.applyDefaults()
	assert.Equal(t, 9090, cfg.Monitoring.PrometheusPort)
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("-5s", time.Minute))
	assert.Equal(t, 15*time.Minute, Duration("15m", time.Minute))
}
