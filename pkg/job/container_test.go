package job_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/job"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func newContainer(t *testing.T) *job.Container {
	t.Helper()

	c, err := job.NewContainer(new(MockEngine))
	require.NoError(t, err)
	return c
}

func TestNewContainer(t *testing.T) {
	t.Parallel()

	_, err := job.NewContainer(nil)
	assert.ErrorIs(t, err, job.ErrNilEngine)

	engine := new(MockEngine)
	c, err := job.NewContainer(engine)
	require.NoError(t, err)

	got, err := job.ResolveAs[queue.Engine](c, job.EngineToken)
	require.NoError(t, err)
	assert.Same(t, engine, got)
}

func TestContainer_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("builds each value once", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		var builds atomic.Int32
		require.NoError(t, c.Register(job.Provider{
			Token: "svc",
			Build: func(...any) (any, error) {
				builds.Add(1)
				return &struct{ n int }{}, nil
			},
		}))

		var wg sync.WaitGroup
		results := make([]any, 10)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.Resolve("svc")
				assert.NoError(t, err)
				results[i] = v
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), builds.Load())
		for _, v := range results {
			assert.Same(t, results[0], v)
		}
	})

	t.Run("passes dependencies in order", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		require.NoError(t, c.Register(
			job.Provider{Token: "a", Build: func(...any) (any, error) { return "A", nil }},
			job.Provider{Token: "b", Build: func(...any) (any, error) { return "B", nil }},
			job.Provider{
				Token:     "ab",
				DependsOn: []job.Token{"a", "b"},
				Build: func(deps ...any) (any, error) {
					return deps[0].(string) + deps[1].(string), nil
				},
			},
		))

		v, err := job.ResolveAs[string](c, "ab")
		require.NoError(t, err)
		assert.Equal(t, "AB", v)
	})

	t.Run("missing provider", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		_, err := c.Resolve("missing")
		assert.ErrorIs(t, err, job.ErrProviderNotFound)
	})

	t.Run("circular dependency", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		require.NoError(t, c.Register(
			job.Provider{Token: "a", DependsOn: []job.Token{"b"}, Build: func(...any) (any, error) { return 1, nil }},
			job.Provider{Token: "b", DependsOn: []job.Token{"a"}, Build: func(...any) (any, error) { return 2, nil }},
		))

		_, err := c.Resolve("a")
		assert.ErrorIs(t, err, job.ErrCircularDependency)
	})

	t.Run("build errors are wrapped", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		boom := errors.New("boom")
		require.NoError(t, c.Register(job.Provider{Token: "x", Build: func(...any) (any, error) { return nil, boom }}))

		_, err := c.Resolve("x")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unexpected type", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		require.NoError(t, c.Register(job.Provider{Token: "x", Build: func(...any) (any, error) { return 42, nil }}))

		_, err := job.ResolveAs[string](c, "x")
		assert.ErrorIs(t, err, job.ErrUnexpectedType)
	})
}

func TestContainer_Register(t *testing.T) {
	t.Parallel()

	t.Run("duplicate token", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		def := job.MustNew[welcomeEmail]("emails")
		require.NoError(t, c.Register(def.Provider()))

		err := c.Register(job.MustNew[string]("emails").Provider())
		assert.ErrorIs(t, err, job.ErrDuplicateProvider)
	})

	t.Run("engine token is reserved", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		err := c.Register(job.Provider{Token: job.EngineToken, Build: func(...any) (any, error) { return nil, nil }})
		assert.ErrorIs(t, err, job.ErrDuplicateProvider)
	})

	t.Run("nil build", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		assert.ErrorIs(t, c.Register(job.Provider{Token: "x"}), job.ErrNilBuild)
	})

	t.Run("sealed after first resolve", func(t *testing.T) {
		t.Parallel()

		c := newContainer(t)
		_, err := c.Resolve(job.EngineToken)
		require.NoError(t, err)

		err = c.Register(job.MustNew[welcomeEmail]("emails").Provider())
		assert.ErrorIs(t, err, job.ErrContainerSealed)
	})
}

func TestContainer_Close(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	def := job.MustNew[welcomeEmail]("emails")
	require.NoError(t, c.Register(def.Provider()))

	_, err := def.Inject(c)
	require.NoError(t, err)

	c.Close()

	_, err = def.Inject(c)
	assert.ErrorIs(t, err, job.ErrProviderNotFound)
}
