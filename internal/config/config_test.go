package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
host: 127.0.0.1
port: 5000
providers:
  - name: openai
    endpoint: https://api.openai.com/v1/chat/completions
    model: gpt-4o-mini
    capabilities: [interpretation]
    requests-per-window: 200
    window-minutes: 60
    reliability: 0.9
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5000, cfg.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	assert.Equal(t, int64(200), cfg.Providers[0].RequestsPerWindow)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Dispatch.MaxFanout)
	assert.Equal(t, int64(30000), cfg.Dispatch.CallTimeoutMs)
	assert.Equal(t, int64(45000), cfg.Dispatch.DefaultDeadlineMs)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, int64(10), cfg.Breaker.CooldownMinutes)
	assert.Equal(t, 0.6, cfg.Scoring.BlendFloor)
	assert.NotEmpty(t, cfg.Scoring.LengthBuckets)
	assert.Equal(t, "local", cfg.Fallback.Name)

	// Per-provider path defaults follow the OpenAI-compatible shape.
	assert.Equal(t, "choices.0.message.content", cfg.Providers[0].TextPath)
	assert.Equal(t, "usage.total_tokens", cfg.Providers[0].TokensPath)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
dispatch:
  max-fanout: 2
  call-timeout-ms: 5000
breaker:
  failure-threshold: 5
`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Dispatch.MaxFanout)
	assert.Equal(t, int64(5000), cfg.Dispatch.CallTimeoutMs)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(45000), cfg.Dispatch.DefaultDeadlineMs)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "providers: [unclosed"))
	assert.Error(t, err)
}

func TestValidateRejectsMissingAPIKeyEnv(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
providers:
  - name: openai
    endpoint: https://api.openai.com/v1/chat/completions
    api-key-env: ORACULUM_TEST_UNSET_KEY
    requests-per-window: 200
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORACULUM_TEST_UNSET_KEY")
}

func TestValidateAcceptsPresentAPIKeyEnv(t *testing.T) {
	t.Setenv("ORACULUM_TEST_SET_KEY", "sk-test")
	_, err := LoadConfig(writeConfig(t, `
providers:
  - name: openai
    endpoint: https://api.openai.com/v1/chat/completions
    api-key-env: ORACULUM_TEST_SET_KEY
    requests-per-window: 200
`))
	assert.NoError(t, err)
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
providers:
  - name: twin
    endpoint: https://a.example
    requests-per-window: 10
  - name: twin
    endpoint: https://b.example
    requests-per-window: 10
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateRejectsMissingEndpoint(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
providers:
  - name: openai
    requests-per-window: 10
`))
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
providers:
  - name: openai
    endpoint: https://api.openai.com/v1/chat/completions
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests-per-window")
}

func TestProviderEntryDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
providers:
  - name: sparse
    endpoint: https://sparse.example
    requests-per-window: 10
`))
	require.NoError(t, err)

	p := cfg.Providers[0]
	assert.Equal(t, int64(60), p.WindowMinutes)
	assert.Equal(t, 0.5, p.Reliability)
}

func TestCheckManagementKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &Config{ManagementKey: string(hash)}
	assert.NoError(t, cfg.CheckManagementKey("open-sesame"))
	assert.Error(t, cfg.CheckManagementKey("wrong"))

	empty := &Config{}
	assert.Error(t, empty.CheckManagementKey("anything"))
}
