package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
miniservers:
  - name: home
    host: 10.0.0.5
    username: admin
    password: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, DefaultPort, cfg.Miniservers[0].Port)
	assert.Equal(t, DefaultSSLPort, cfg.Miniservers[0].SSLPort)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadRejectsMissingHost(t *testing.T) {
	path := writeTempConfig(t, `
miniservers:
  - name: home
    username: admin
    password: secret
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "miniservers")
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeTempConfig(t, `
miniservers:
  - name: home
    host: 10.0.0.5
    username: admin
    password: secret
  - name: home
    host: 10.0.0.6
    username: admin
    password: secret
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestEnvOverridesFirstMiniserver(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	var cfg Config
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &cfg))
	applyDefaults(&cfg)
	applyEnv(&cfg, []string{"LOXONE_HOST=192.168.1.1", "LOXONE_USERNAME=override"})
	require.NoError(t, Validate(&cfg))

	assert.Equal(t, "192.168.1.1", cfg.Miniservers[0].Host)
	assert.Equal(t, "override", cfg.Miniservers[0].Username)
}

func TestOTLPTimeoutMustBeLessThanInterval(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`
opentelemetry:
  enabled: true
  endpoint: http://collector:4317
  interval_seconds: 10
  timeout_seconds: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds")
}

func TestOTLPAuthHeaderEnvTitleCasing(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	applyEnv(&cfg, []string{"LOXONE_OTLP_AUTH_HEADER_api_key=topsecret"})
	assert.Equal(t, "topsecret", cfg.OpenTelemetry.Auth.Headers["Api-Key"])
}
