package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, 100, cfg.Workflow.VerifyThreshold)
	require.Equal(t, 30*time.Second, cfg.Workflow.RenderTimeout)
	require.Equal(t, "./artifacts", cfg.Storage.ArtifactDir)
	require.Equal(t, 15*time.Minute, cfg.Calendar.CacheTTL)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadClampsThreshold(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CERT_VERIFY_THRESHOLD", "250")
	t.Setenv("CALENDAR_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Workflow.VerifyThreshold)
	require.Equal(t, 15*time.Minute, cfg.Calendar.CacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CERT_VERIFY_THRESHOLD", "80")
	t.Setenv("NOTIFY_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 80, cfg.Workflow.VerifyThreshold)
	require.Equal(t, 4, cfg.Notifications.Workers)
}

func TestLoadRejectsDevSecretInProduction(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENV", EnvProduction)

	_, err := Load()
	require.ErrorIs(t, err, ErrInsecureSecret)

	t.Setenv("ARTIFACT_SIGNED_URL_SECRET", "rotated-secret")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.Notifications.Timeout)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
