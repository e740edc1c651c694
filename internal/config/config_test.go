package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsFillProfiles(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
probe:
  target:
    login_url: https://login.example.org/
    settle_delay: 2s
portals:
  source:
    listing_url_template: https://crm.example.org/listing/%s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Logs.RetentionDays)
	assert.Equal(t, time.Second, cfg.Automation.ActionDelay)

	// Overridden fields win, the rest come from the built-in profile.
	assert.Equal(t, "https://login.example.org/", cfg.Probe.Target.LoginURL)
	assert.Equal(t, 2*time.Second, cfg.Probe.Target.SettleDelay)
	assert.Equal(t, StrategyBrowser, cfg.Probe.Target.Strategy)
	assert.NotEmpty(t, cfg.Probe.Target.UsernameSelectors)
	assert.Equal(t, StrategyDirect, cfg.Probe.Source.Strategy)
	assert.Equal(t, "!-!", cfg.Probe.Source.Taxonomy.Delimiter)

	assert.Equal(t, "https://crm.example.org/listing/%s", cfg.Portals.Source.ListingURLTemplate)
	assert.Contains(t, cfg.Portals.Source.Fields, "title")
	assert.NotEmpty(t, cfg.Portals.Target.SubmitSelectors)

	require.NoError(t, cfg.Probe.Source.Validate())
	require.NoError(t, cfg.Probe.Target.Validate())
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSystemProfileConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SystemProfileConfig)
		wantErr string
	}{
		{"valid direct", func(*SystemProfileConfig) {}, ""},
		{"no name", func(c *SystemProfileConfig) { c.Name = "" }, "name is required"},
		{"no reachability", func(c *SystemProfileConfig) { c.ReachabilityURLs = nil }, "reachability url"},
		{"direct without endpoint", func(c *SystemProfileConfig) { c.LoginEndpoint = "" }, "login_endpoint"},
		{"browser without selectors", func(c *SystemProfileConfig) {
			c.Strategy = StrategyBrowser
			c.PasswordSelectors = nil
		}, "selectors are required"},
		{"unknown strategy", func(c *SystemProfileConfig) { c.Strategy = "carrier-pigeon" }, "unknown strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultSourceProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	assert.Equal(t, "./x.db", (&DatabaseConfig{Driver: "sqlite", Path: "./x.db"}).DSN())
	assert.Equal(t, "postgres://u@h/db", (&DatabaseConfig{Driver: "postgres", Path: "./x.db", URL: "postgres://u@h/db"}).DSN())
}
