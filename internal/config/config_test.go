package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/pkg/types"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("AIDE_HOST")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("AIDE_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

// TestLoadConfig_OrchestrationDefaults verifies the options the controller
// and assembler read have their documented defaults.
func TestLoadConfig_OrchestrationDefaults(t *testing.T) {
	for _, key := range []string{
		"AIDE_PROVIDER_PRIMARY", "AIDE_PROVIDER_FALLBACK",
		"AIDE_CONTEXT_TOKEN_BUDGET", "AIDE_MEMORY_RETRIEVAL_K",
		"AIDE_CONSOLIDATION_ENABLED", "AIDE_TURN_TIMEOUT_MS",
	} {
		_ = os.Unsetenv(key)
	}

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, config.BackendOllama, cfg.Provider.Primary)
	assert.Equal(t, "", cfg.Provider.Fallback)
	assert.Equal(t, 2048, cfg.Context.TokenBudget)
	assert.Equal(t, 8, cfg.Memory.RetrievalK)
	assert.True(t, cfg.Memory.ConsolidationEnabled)
	assert.Equal(t, 30000, cfg.Agent.TurnTimeoutMs)
	assert.Equal(t, 30*time.Second, cfg.TurnTimeout())
}

// TestValidate_OpenAIPrimaryRequiresKey verifies the fatal startup check for
// missing provider credentials.
func TestValidate_OpenAIPrimaryRequiresKey(t *testing.T) {
	t.Setenv("AIDE_PROVIDER_PRIMARY", "openai")
	t.Setenv("AIDE_OPENAI_API_KEY", "")

	_, err := config.LoadConfig()
	require.Error(t, err)

	var confErr *types.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "AIDE_OPENAI_API_KEY", confErr.Key)
}

func TestValidate_UnknownBackendRejected(t *testing.T) {
	t.Setenv("AIDE_PROVIDER_PRIMARY", "bedrock")

	_, err := config.LoadConfig()
	require.Error(t, err)

	var confErr *types.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "AIDE_PROVIDER_PRIMARY", confErr.Key)
}

func TestValidate_FallbackMustDifferFromPrimary(t *testing.T) {
	t.Setenv("AIDE_PROVIDER_PRIMARY", "ollama")
	t.Setenv("AIDE_PROVIDER_FALLBACK", "ollama")

	_, err := config.LoadConfig()
	require.Error(t, err)

	var confErr *types.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "AIDE_PROVIDER_FALLBACK", confErr.Key)
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("AIDE_STORAGE_ENGINE", "postgres")
	t.Setenv("AIDE_POSTGRES_DSN", "")

	_, err := config.LoadConfig()
	require.Error(t, err)

	var confErr *types.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "AIDE_POSTGRES_DSN", confErr.Key)
}

func TestValidate_RejectsBadDurations(t *testing.T) {
	t.Setenv("AIDE_DECAY_HALF_LIFE", "one week")

	_, err := config.LoadConfig()
	require.Error(t, err)

	var confErr *types.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "AIDE_DECAY_HALF_LIFE", confErr.Key)
}

// TestLoadConfigFile_OverridesEnv verifies file values win over environment
// values for the keys the file sets, while unset keys keep env values.
func TestLoadConfigFile_OverridesEnv(t *testing.T) {
	t.Setenv("AIDE_CONTEXT_TOKEN_BUDGET", "1024")
	t.Setenv("AIDE_MEMORY_RETRIEVAL_K", "5")

	path := filepath.Join(t.TempDir(), "aide.yaml")
	body := []byte("context:\n  token_budget: 4096\nagent:\n  confidence_floor: 0.7\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Context.TokenBudget, "file value must override env")
	assert.Equal(t, 0.7, cfg.Agent.ConfidenceFloor)
	assert.Equal(t, 5, cfg.Memory.RetrievalK, "keys the file omits keep env values")
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := config.LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aide.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context: [broken"), 0o600))

	_, err := config.LoadConfigFile(path)
	assert.Error(t, err)
}

// TestDurationHelpers_FallBackOnGarbage verifies the typed accessors never
// return a zero or negative duration.
func TestDurationHelpers_FallBackOnGarbage(t *testing.T) {
	cfg := &config.Config{}
	cfg.Memory.ShutdownTimeout = "nonsense"
	cfg.Memory.DecayHalfLife = "-2h"

	assert.Equal(t, 30*time.Second, cfg.MemoryShutdownTimeout())
	assert.Equal(t, 168*time.Hour, cfg.DecayHalfLife())
}
