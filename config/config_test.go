package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STOCKS_TO_TRACK", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, []string{"US.AAPL", "US.MSFT", "HK.00700"}, cfg.SeedCodes())
	require.Len(t, cfg.Markets, 2)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost/stocks")
	t.Setenv("CACHE_TIMEOUT", "750ms")
	t.Setenv("PIPELINE_WORKERS", "not-a-number")
	t.Setenv("STOCKS_TO_TRACK", " us.aapl , ,HK.00700")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.CacheTimeout)
	assert.Equal(t, 8, cfg.PipelineWorkers, "invalid int falls back to default")
	assert.Equal(t, []string{"US.AAPL", "HK.00700"}, cfg.SeedCodes())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreDriver: "sqlite", SQLitePath: "x.db", CacheDriver: "memory",
			FeedBaseURL: "http://gw", PipelineWorkers: 2, WindowSize: 60, NameBatchSize: 10,
			Markets: DefaultMarkets(),
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.StoreDriver = "mysql"
	assert.Error(t, c.Validate())

	c = base()
	c.StoreDriver = "postgres"
	assert.Error(t, c.Validate(), "postgres needs a DSN")

	c = base()
	c.CacheDriver = "memcached"
	assert.Error(t, c.Validate())

	c = base()
	c.WindowSize = 30
	assert.Error(t, c.Validate())
}

func TestLoadMarkets_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
markets:
  - code: us
    timezone: America/New_York
    close: "16:00"
    reconcile_at: "16:15"
  - code: HK
    timezone: Asia/Hong_Kong
    holidays: ["2026-12-25"]
`), 0o644))

	markets, err := LoadMarkets(path)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	us := markets[0]
	assert.Equal(t, "US", us.Code)
	assert.Equal(t, "09:30", us.Open)
	spec, err := us.CronSpec()
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=America/New_York 0 15 16 * * 1-5", spec)

	hk := markets[1]
	assert.Equal(t, "16:00", hk.ReconcileAt)
	assert.Equal(t, []string{"2026-12-25"}, hk.Holidays)
	sess, err := hk.Session()
	require.NoError(t, err)
	assert.False(t, sess.IsTradingDay(time.Date(2026, 12, 25, 12, 0, 0, 0, sess.Location)))
}

func TestLoadMarkets_Errors(t *testing.T) {
	dir := t.TempDir()

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("markets:\n  - code: US\n  - code: us\n"), 0o644))
	_, err := LoadMarkets(dup)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("markets: [::"), 0o644))
	_, err = LoadMarkets(bad)
	assert.Error(t, err)

	markets, err := LoadMarkets(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, markets, 2, "missing file uses defaults")
}
