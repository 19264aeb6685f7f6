// Package config loads pulse configuration from, in order of
// precedence: the store's config table, environment variables
// (PULSE_*), an optional config file, and built-in defaults.
package config

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/projectpulse/pulse/internal/storage"
)

// GitHub holds source-control integration settings.
type GitHub struct {
	Token    string
	Endpoint string // empty = api.github.com
}

// Configured reports whether commit sync can run.
func (g GitHub) Configured() bool { return g.Token != "" }

// Jira holds issue-tracker integration settings.
type Jira struct {
	BaseURL  string
	Email    string
	APIToken string
}

// Configured reports whether status sync can run.
func (j Jira) Configured() bool { return j.BaseURL != "" && j.APIToken != "" }

// Config is the resolved pulse configuration.
type Config struct {
	DBPath       string
	Workers      int
	SyncInterval time.Duration
	HTTPAddr     string
	LogFormat    string // "text" or "json"
	PolicyFile   string // optional escalation policy YAML

	GitHub GitHub
	Jira   Jira

	TelemetryEnabled  bool
	TelemetryExporter string // "stdout" or "otlp"
}

// storeKeys maps viper keys to the store's config table keys. Store
// values win over env/file so `pulse config set` takes effect without a
// restart of anything but the next cycle.
var storeKeys = []string{
	"github.token",
	"github.endpoint",
	"jira.url",
	"jira.email",
	"jira.token",
	"sync.workers",
	"sync.interval",
	"escalation.policy_file",
}

// NewViper returns a viper instance with pulse defaults and PULSE_* env
// binding. cfgFile may be empty.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("db.path", "pulse.db")
	v.SetDefault("sync.workers", 5)
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load resolves the final configuration. st may be nil (before the store
// is open); pass it to let the config table override env/file values.
func Load(ctx context.Context, v *viper.Viper, st storage.Storage) (*Config, error) {
	if st != nil {
		stored, err := st.GetAllConfig(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range storeKeys {
			if val, ok := stored[key]; ok && val != "" {
				v.Set(key, val)
			}
		}
	}

	return &Config{
		DBPath:       v.GetString("db.path"),
		Workers:      v.GetInt("sync.workers"),
		SyncInterval: v.GetDuration("sync.interval"),
		HTTPAddr:     v.GetString("http.addr"),
		LogFormat:    v.GetString("log.format"),
		PolicyFile:   v.GetString("escalation.policy_file"),
		GitHub: GitHub{
			Token:    v.GetString("github.token"),
			Endpoint: v.GetString("github.endpoint"),
		},
		Jira: Jira{
			BaseURL:  v.GetString("jira.url"),
			Email:    v.GetString("jira.email"),
			APIToken: v.GetString("jira.token"),
		},
		TelemetryEnabled:  v.GetBool("telemetry.enabled"),
		TelemetryExporter: v.GetString("telemetry.exporter"),
	}, nil
}
