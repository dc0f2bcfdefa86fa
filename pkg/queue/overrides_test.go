package queue_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func TestLoadWorkOverrides(t *testing.T) {
	t.Parallel()

	t.Run("decodes mapping", func(t *testing.T) {
		t.Parallel()

		doc := `
send-welcome-email:
  localConcurrency: 4
rebuild-index:
  batchSize: 50
  pollingIntervalSeconds: 10
`
		overrides, err := queue.LoadWorkOverrides(strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, overrides, 2)
		assert.Equal(t, queue.WorkOptions{LocalConcurrency: 4}, overrides["send-welcome-email"])
		assert.Equal(t, queue.WorkOptions{BatchSize: 50, PollingIntervalSeconds: 10}, overrides["rebuild-index"])
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()

		overrides, err := queue.LoadWorkOverrides(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, overrides)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()

		_, err := queue.LoadWorkOverrides(strings.NewReader("emails:\n  concurrency: 3\n"))
		assert.ErrorIs(t, err, queue.ErrInvalidOverrides)
	})

	t.Run("invalid job name", func(t *testing.T) {
		t.Parallel()

		_, err := queue.LoadWorkOverrides(strings.NewReader("\"bad name\":\n  batchSize: 3\n"))
		assert.ErrorIs(t, err, queue.ErrInvalidOverrides)
	})

	t.Run("from file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "work.yaml")
		require.NoError(t, os.WriteFile(path, []byte("emails:\n  batchSize: 3\n"), 0o600))

		overrides, err := queue.LoadWorkOverridesFile(path)
		require.NoError(t, err)
		assert.Equal(t, 3, overrides["emails"].BatchSize)

		_, err = queue.LoadWorkOverridesFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, queue.ErrInvalidOverrides)
	})
}

func TestWorkOverrides_Apply(t *testing.T) {
	t.Parallel()

	overrides := queue.WorkOverrides{"emails": {LocalConcurrency: 8}}

	got := overrides.Apply("emails", queue.WorkOptions{BatchSize: 2})
	assert.Equal(t, queue.WorkOptions{BatchSize: 2, LocalConcurrency: 8}, got)

	got = overrides.Apply("reports", queue.WorkOptions{BatchSize: 2})
	assert.Equal(t, queue.WorkOptions{BatchSize: 2}, got)
}
