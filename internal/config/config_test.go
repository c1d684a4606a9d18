package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadMarketplaceDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadMarketplace()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "marketplace.events", cfg.NATSSubject)
	require.Equal(t, 30.0, cfg.SearchDefaultRadiusKM)
	require.Equal(t, 200, cfg.SearchMaxResults)
	require.False(t, cfg.StrictLifecycle)
	require.Equal(t, 3, cfg.TransitionMaxAttempts)
	require.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 200*time.Millisecond, cfg.OutboxPoll)
}

func TestLoadMarketplaceCollectsErrors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SEARCH_MAX_RESULTS", "500")
	t.Setenv("STRICT_LIFECYCLE", "maybe")
	t.Setenv("TOKEN_TTL", "forever")

	_, err := LoadMarketplace()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET is required", "SEARCH_MAX_RESULTS", "invalid STRICT_LIFECYCLE", "invalid TOKEN_TTL"} {
		require.ErrorContains(t, err, want)
	}
}

func TestLoadMarketplaceReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STRICT_LIFECYCLE=true\nDATABASE_URL=postgres://db/findx\n"), 0o600))
	chdir(t, dir)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STRICT_LIFECYCLE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_DSN", "")
	// present-but-empty variables would shadow the file
	_ = os.Unsetenv("STRICT_LIFECYCLE")
	_ = os.Unsetenv("DATABASE_URL")

	cfg, err := LoadMarketplace()
	require.NoError(t, err)
	require.True(t, cfg.StrictLifecycle)
	require.Equal(t, "postgres://db/findx", cfg.PostgresDSN)
}

func TestLoadGatewayTrimsURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MARKETPLACE_URL", "http://api:8080/")
	t.Setenv("RATE_READ_RPS", "5")
	t.Setenv("RATE_BOOKING_BURST", "3")

	cfg, err := LoadGateway()
	require.NoError(t, err)
	require.Equal(t, "http://api:8080", cfg.MarketplaceURL)
	require.Equal(t, 5.0, cfg.ReadRPS)
	require.Equal(t, 3.0, cfg.BookingBurst)
	require.Equal(t, 20.0, cfg.SearchRPS)
}

func TestLoadSearchRequiresDatabase(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadSearch()
	require.ErrorContains(t, err, "POSTGRES_DSN is required")
}
