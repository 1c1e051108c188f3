// Package config loads runtime configuration from an optional
// databridge.yaml, overridden by DATABRIDGE_* environment variables.
// Secrets (the OAuth client credentials) are environment-only.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Geo configures the GEO feature service connection.
type Geo struct {
	Host          string `mapstructure:"host"`
	FeaturePath   string `mapstructure:"feature_path"`
	IncidentLayer string `mapstructure:"incident_layer"`
	HistoryLayer  string `mapstructure:"history_layer"`
	TimeoutSecs   int    `mapstructure:"timeout_secs"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// CMS configures the case-management API connection and OAuth endpoints.
type CMS struct {
	BaseURL      string `mapstructure:"base_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	CallbackURL  string `mapstructure:"callback_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
	RetryCount   int    `mapstructure:"retry_count"`
}

// Entities names the CMS reference entities provisioned by bootstrap.
type Entities struct {
	ClientName       string `mapstructure:"client_name"`
	GroupName        string `mapstructure:"group_name"`
	PracticeAreaName string `mapstructure:"practice_area_name"`
	CalendarName     string `mapstructure:"calendar_name"`
}

// Logging configures the structured log output.
type Logging struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Daemon configures the long-running watch mode.
type Daemon struct {
	FetchIntervalSecs int `mapstructure:"fetch_interval_secs"`
}

// Auth configures the local OAuth callback server.
type Auth struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the full runtime configuration.
type Config struct {
	DataDir  string   `mapstructure:"data_dir"`
	Geo      Geo      `mapstructure:"geo"`
	CMS      CMS      `mapstructure:"cms"`
	Entities Entities `mapstructure:"entities"`
	Logging  Logging  `mapstructure:"logging"`
	Daemon   Daemon   `mapstructure:"daemon"`
	Auth     Auth     `mapstructure:"auth"`
}

// GeoTimeout returns the GEO request timeout as a duration.
func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.Geo.TimeoutSecs) * time.Second
}

// CMSTimeout returns the CMS request timeout as a duration.
func (c *Config) CMSTimeout() time.Duration {
	return time.Duration(c.CMS.TimeoutSecs) * time.Second
}

// FetchInterval returns the daemon fetch cadence as a duration.
func (c *Config) FetchInterval() time.Duration {
	return time.Duration(c.Daemon.FetchIntervalSecs) * time.Second
}

// QueueDir returns the staging directory for the named queue.
func (c *Config) QueueDir(name string) string {
	return filepath.Join(c.DataDir, "queued", name)
}

// Load reads configuration from the given file, or from databridge.yaml
// in the working directory and ~/.config/databridge when path is empty.
// A missing config file is fine; defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DATABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("databridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "databridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")

	v.SetDefault("geo.host", "https://mapviewtest.memphistn.gov")
	v.SetDefault("geo.feature_path", "arcgis/rest/services/AGO_Code/Code_Memphis_Fights_Blight/FeatureServer")
	v.SetDefault("geo.incident_layer", "2")
	v.SetDefault("geo.history_layer", "6")
	v.SetDefault("geo.timeout_secs", 60)
	v.SetDefault("geo.retry_count", 3)

	v.SetDefault("cms.base_url", "https://app.clio.com/api/v4")
	v.SetDefault("cms.auth_url", "https://app.clio.com/oauth/authorize")
	v.SetDefault("cms.token_url", "https://app.clio.com/oauth/token")
	v.SetDefault("cms.callback_url", "http://localhost:8385/callback")
	v.SetDefault("cms.timeout_secs", 60)
	v.SetDefault("cms.retry_count", 3)

	v.SetDefault("entities.client_name", "NP Clinic Client")
	v.SetDefault("entities.group_name", "NP Clinic")
	v.SetDefault("entities.practice_area_name", "Neighborhood Preservation")
	v.SetDefault("entities.calendar_name", "NP Clinic Calendar")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("daemon.fetch_interval_secs", 300)

	v.SetDefault("auth.listen_addr", ":8385")
}
