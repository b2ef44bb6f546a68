package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengjr9/chat-relay/internal/chat"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

var creds = map[string]string{"CF_ACCOUNT_ID": "acc", "CF_API_TOKEN": "tok"}

func TestLoadArgs_Defaults(t *testing.T) {
	cfg, err := LoadArgs(nil, envMap(creds))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, chat.DefaultPersona, cfg.Persona)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "acc", cfg.AccountID)
	assert.Equal(t, chat.RunOptions{}, cfg.RunOptions())
}

func TestLoadArgs_RequiresCredentials(t *testing.T) {
	_, err := LoadArgs(nil, envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account id is required")
	assert.Contains(t, err.Error(), "api token is required")
}

func TestLoadArgs_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7000"
metrics_addr: ":9100"
model: "@cf/file/model"
request_timeout: 45s
gateway_id: file-gw
gateway_cache_ttl: 60
`), 0o600))

	env := map[string]string{
		"CF_ACCOUNT_ID": "acc",
		"CF_API_TOKEN":  "tok",
		"MODEL_ID":      "@cf/env/model",
		"METRICS_ADDR":  ":9200",
	}
	cfg, err := LoadArgs([]string{"-config", path, "-metrics-addr", ":9300", "-gateway-skip-cache"}, envMap(env))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, ":7000", cfg.ListenAddr, "file over default")
	assert.Equal(t, "@cf/env/model", cfg.Model, "env over file")
	assert.Equal(t, ":9300", cfg.MetricsAddr, "flag over env")
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, chat.RunOptions{Gateway: &chat.GatewayOptions{ID: "file-gw", SkipCache: true, CacheTTL: 60}}, cfg.RunOptions())
}

func TestLoadArgs_ConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account_id: from-file\napi_token: tok\n"), 0o600))

	cfg, err := LoadArgs(nil, envMap(map[string]string{"CONFIG_FILE": path}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AccountID)
}

func TestLoadArgs_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unterminated"), 0o600))

	_, err := LoadArgs([]string{"--config=" + path}, envMap(creds))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")

	_, err = LoadArgs([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, envMap(creds))
	require.Error(t, err)
}

func TestLoadArgs_PersonaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  You are a pirate.\n"), 0o600))

	cfg, err := LoadArgs([]string{"-persona-file", path}, envMap(creds))
	require.NoError(t, err)
	assert.Equal(t, "You are a pirate.", cfg.Persona)

	_, err = LoadArgs([]string{"-persona-file", path + ".missing"}, envMap(creds))
	require.Error(t, err)
}

func TestLoadArgs_BadEnv(t *testing.T) {
	env := map[string]string{
		"CF_ACCOUNT_ID":   "acc",
		"CF_API_TOKEN":    "tok",
		"REQUEST_TIMEOUT": "soon",
		"MAX_BODY_BYTES":  "lots",
	}
	_, err := LoadArgs(nil, envMap(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
	assert.Contains(t, err.Error(), "MAX_BODY_BYTES")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.AccountID, c.APIToken = "acc", "tok"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty model", func(c *Config) { c.Model = "" }, "model"},
		{"blank persona", func(c *Config) { c.Persona = "  \n" }, "persona"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"negative body", func(c *Config) { c.MaxBodyBytes = -1 }, "max body bytes"},
		{"negative ttl", func(c *Config) { c.GatewayCacheTTL = -5 }, "cache ttl"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"a2a port", func(c *Config) { c.A2AEnabled, c.A2APort = true, 70000 }, "a2a port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	assert.Equal(t, "a.yaml", configPathFromArgs([]string{"-config", "a.yaml"}))
	assert.Equal(t, "b.yaml", configPathFromArgs([]string{"--config=b.yaml"}))
	assert.Equal(t, "c.yaml", configPathFromArgs([]string{"-model", "m", "--config", "c.yaml"}))
	assert.Equal(t, "", configPathFromArgs([]string{"--", "-config", "d.yaml"}))
	assert.Equal(t, "", configPathFromArgs([]string{"-config"}))
}
