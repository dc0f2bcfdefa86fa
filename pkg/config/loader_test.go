package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/config"
)

type cachedConfig struct {
	Value string `env:"JOBKIT_TEST_CACHED" envDefault:"default"`
}

type typedConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
	Workers  int           `env:"WORKERS" envDefault:"4"`
	Names    []string      `env:"NAMES" envSeparator:","`
}

type requiredConfig struct {
	URL string `env:"JOBKIT_TEST_REQUIRED_URL,required"`
}

type fileConfig struct {
	FileValue string `env:"JOBKIT_TEST_FILE_VALUE"`
	Preset    string `env:"JOBKIT_TEST_PRESET"`
}

func TestLoad(t *testing.T) {
	t.Cleanup(config.Reset)

	t.Run("caches per type", func(t *testing.T) {
		config.Reset()
		t.Setenv("JOBKIT_TEST_CACHED", "first")

		var cfg cachedConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "first", cfg.Value)

		t.Setenv("JOBKIT_TEST_CACHED", "second")
		var again cachedConfig
		require.NoError(t, config.Load(&again))
		assert.Equal(t, "first", again.Value)

		config.Reset()
		require.NoError(t, config.Load(&again))
		assert.Equal(t, "second", again.Value)
	})

	t.Run("required variable missing", func(t *testing.T) {
		require.NoError(t, os.Unsetenv("JOBKIT_TEST_REQUIRED_URL"))

		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[cachedConfig](nil), config.ErrNilPointer)
	})
}

func TestParse(t *testing.T) {
	t.Setenv("REPORTING_INTERVAL", "5s")
	t.Setenv("REPORTING_NAMES", "emails,reports")

	cfg, err := config.Parse[typedConfig]("REPORTING_")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"emails", "reports"}, cfg.Names)

	t.Setenv("BROKEN_WORKERS", "many")
	_, err = config.Parse[typedConfig]("BROKEN_")
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadEnvFiles(t *testing.T) {
	t.Setenv("JOBKIT_TEST_PRESET", "from-env")
	require.NoError(t, os.Unsetenv("JOBKIT_TEST_FILE_VALUE"))
	t.Cleanup(func() { _ = os.Unsetenv("JOBKIT_TEST_FILE_VALUE") })

	require.NoError(t, config.LoadEnvFiles("testdata/test.env"))

	cfg, err := config.Parse[fileConfig]("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.FileValue)
	assert.Equal(t, "from-env", cfg.Preset, "existing variables are not overwritten")

	assert.NoError(t, config.LoadEnvFiles())
	assert.ErrorIs(t, config.LoadEnvFiles("testdata/missing.env"), config.ErrLoadingEnvFile)
}
