package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:4000/api/v1", cfg.APIURL)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 1, cfg.BatchLimit)
	require.Equal(t, 14, cfg.LoanDays)
	require.Equal(t, 0, cfg.GraceDays)
	require.Equal(t, 3, cfg.DueSoonDays)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LIBRARY_API_URL", "https://library.example.com/api/v1/")
	t.Setenv("LIBRARY_TIMEOUT", "5s")
	t.Setenv("LIBRARY_GRACE_DAYS", "60")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("batch-limit", 1, "")
	require.NoError(t, fs.Parse([]string{"--batch-limit=4"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "https://library.example.com/api/v1", cfg.APIURL)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, 60, cfg.GraceDays)
	require.Equal(t, 4, cfg.BatchLimit)
	require.Equal(t, 60*24*time.Hour, cfg.Policy().Grace)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LIBRARY_LOG_FORMAT", "xml")

	_, err := Load(nil)
	require.ErrorContains(t, err, "log_format")
}
