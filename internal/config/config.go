package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

// Valid configuration values
var (
	validTimeResolutions = map[string]bool{
		"1m": true, "5m": true, "1h": true,
	}
	validTimeAlignments = map[string]bool{
		"floor": true, "ceil": true, "round": true,
	}
	validStepModes = map[string]bool{
		"auto": true, "timestamp": true, "sequence": true,
	}
	validLogLevels = map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	validLogFormats = map[string]bool{
		"console": true, "json": true,
	}
)

type Config struct {
	TrackingURI     string
	ExperimentID    string
	TimeResolution  string
	TimeAlignment   string
	StepMode        string
	DatabricksHost  string
	DatabricksToken string
	StagingDir      string
	LogLevel        string
	LogFormat       string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tracking_uri", "http://localhost:5000")
	v.SetDefault("time_resolution", "1m")
	v.SetDefault("time_alignment", "floor")
	v.SetDefault("step_mode", "auto")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("staging_dir", "")
}

func New() *Config {
	return FromViper(viper.GetViper())
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		TrackingURI:     v.GetString("tracking_uri"),
		ExperimentID:    v.GetString("experiment_id"),
		TimeResolution:  v.GetString("time_resolution"),
		TimeAlignment:   v.GetString("time_alignment"),
		StepMode:        v.GetString("step_mode"),
		DatabricksHost:  v.GetString("databricks_host"),
		DatabricksToken: v.GetString("databricks_token"),
		StagingDir:      v.GetString("staging_dir"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
	}
}

func (c *Config) Validate() error {
	if c.TrackingURI == "" {
		return fmt.Errorf("tracking URI is required")
	}
	if err := c.validateTrackingURI(); err != nil {
		return err
	}

	if !validTimeResolutions[c.TimeResolution] {
		return fmt.Errorf("invalid time resolution: %s (valid: 1m, 5m, 1h)", c.TimeResolution)
	}

	if !validTimeAlignments[c.TimeAlignment] {
		return fmt.Errorf("invalid time alignment: %s (valid: floor, ceil, round)", c.TimeAlignment)
	}

	if !validStepModes[c.StepMode] {
		return fmt.Errorf("invalid step mode: %s (valid: auto, timestamp, sequence)", c.StepMode)
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "" && !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (valid: console, json)", c.LogFormat)
	}

	return nil
}

// validateTrackingURI checks the structure of the tracking URI only; the
// server is not contacted.
func (c *Config) validateTrackingURI() error {
	if c.TrackingURI == "databricks" {
		return nil
	}

	if filepath.IsAbs(c.TrackingURI) {
		return nil
	}

	u, err := url.Parse(c.TrackingURI)
	if err != nil {
		return fmt.Errorf("invalid tracking URI %q: %w", c.TrackingURI, err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid tracking URI %q: missing host", c.TrackingURI)
		}
	case "databricks":
		if c.GetDatabricksProfile() == "" {
			return fmt.Errorf("invalid tracking URI %q: missing Databricks profile", c.TrackingURI)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("invalid tracking URI %q: missing path", c.TrackingURI)
		}
	default:
		return fmt.Errorf("invalid tracking URI %q: unsupported scheme %q (valid: http, https, databricks, file)", c.TrackingURI, u.Scheme)
	}

	return nil
}

// IsDatabricks checks if the tracking URI points to Databricks
func (c *Config) IsDatabricks() bool {
	if c.TrackingURI == "databricks" {
		return true
	}

	if strings.HasPrefix(c.TrackingURI, "databricks://") {
		return true
	}

	if strings.HasPrefix(c.TrackingURI, "https://") {
		host := c.extractHostFromURL(c.TrackingURI)
		return c.isDatabricksHost(host)
	}

	return false
}

// extractHostFromURL extracts the hostname from a URL
func (c *Config) extractHostFromURL(url string) string {
	host := strings.TrimPrefix(url, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// isDatabricksHost checks if a hostname belongs to Databricks
func (c *Config) isDatabricksHost(host string) bool {
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// GetDatabricksProfile extracts the profile name from databricks://{profile} URI
func (c *Config) GetDatabricksProfile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}

	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
