package job_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/job"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

var (
	emailsJob  = job.MustNew[welcomeEmail]("emails")
	reportsJob = job.MustNew[string]("reports")
)

func emailsHandler(opts ...queue.WorkOptions) *job.Handler {
	return emailsJob.Handle(func(context.Context, *job.Job[welcomeEmail]) error { return nil }, opts...)
}

func reportsHandler(batchSize int) *job.Handler {
	return reportsJob.HandleBatch(func(context.Context, []*job.Job[string]) error { return nil },
		queue.WorkOptions{BatchSize: batchSize})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlers_Bootstrap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("registers every handler once", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		defer engine.AssertExpectations(t)

		engine.On("Work", ctx, "emails", queue.WorkOptions{LocalConcurrency: 2}, mock.Anything).Return("w1", nil).Once()
		engine.On("Work", ctx, "reports", queue.WorkOptions{BatchSize: 10}, mock.Anything).Return("w2", nil).Once()

		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))

		handlers := job.NewHandlers(emailsHandler(queue.WorkOptions{LocalConcurrency: 2})).Add(reportsHandler(10), nil)
		require.NoError(t, handlers.Bootstrap(ctx, engine, job.WithLogger(log)))

		assert.Equal(t, 2, strings.Count(buf.String(), "job handler registered"))
		assert.Contains(t, buf.String(), `"job_name":"reports"`)
		assert.Contains(t, buf.String(), `"token":"jobkit:job:reports"`)

		err := handlers.Bootstrap(ctx, engine)
		assert.ErrorIs(t, err, job.ErrAlreadyBootstrapped)
	})

	t.Run("duplicate handler for one job", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		handlers := job.NewHandlers(emailsHandler(), emailsHandler())

		err := handlers.Bootstrap(ctx, engine, job.WithLogger(quietLogger()))
		assert.ErrorIs(t, err, job.ErrDuplicateHandler)
		engine.AssertNotCalled(t, "Work", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("misconfigured handler aborts before any worker starts", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		handlers := job.NewHandlers(emailsHandler(), reportsHandler(0))

		err := handlers.Bootstrap(ctx, engine, job.WithLogger(quietLogger()))
		assert.ErrorIs(t, err, job.ErrBatchSizeRequired)
		engine.AssertNotCalled(t, "Work", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("work overrides replace declared options", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		defer engine.AssertExpectations(t)

		engine.On("Work", ctx, "emails", queue.WorkOptions{LocalConcurrency: 8, PollingIntervalSeconds: 1}, mock.Anything).
			Return("w1", nil).Once()
		engine.On("Work", ctx, "reports", queue.WorkOptions{BatchSize: 50}, mock.Anything).
			Return("w2", nil).Once()

		overrides, err := queue.LoadWorkOverrides(strings.NewReader(`
emails:
  localConcurrency: 8
reports:
  batchSize: 50
`))
		require.NoError(t, err)

		handlers := job.NewHandlers(
			emailsHandler(queue.WorkOptions{LocalConcurrency: 2, PollingIntervalSeconds: 1}),
			reportsHandler(10),
		)
		require.NoError(t, handlers.Bootstrap(ctx, engine,
			job.WithLogger(quietLogger()),
			job.WithWorkOverrides(overrides)))
	})

	t.Run("override that breaks the handler shape", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		handlers := job.NewHandlers(emailsHandler())

		err := handlers.Bootstrap(ctx, engine,
			job.WithLogger(quietLogger()),
			job.WithWorkOverrides(queue.WorkOverrides{"emails": {BatchSize: 5}}))
		assert.ErrorIs(t, err, job.ErrBatchSizeNotAllowed)
	})

	t.Run("engine failure stops the workers started so far", func(t *testing.T) {
		t.Parallel()

		engine := new(MockEngine)
		defer engine.AssertExpectations(t)

		refused := errors.New("connection refused")
		engine.On("Work", ctx, "emails", mock.Anything, mock.Anything).Return("w1", nil).Once()
		engine.On("Work", ctx, "reports", mock.Anything, mock.Anything).Return("", refused).Once()
		engine.On("OffWork", ctx, "emails").Return(nil).Once()

		handlers := job.NewHandlers(emailsHandler(), reportsHandler(10))
		err := handlers.Bootstrap(ctx, engine, job.WithLogger(quietLogger()))
		assert.ErrorIs(t, err, refused)
	})

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()

		err := job.NewHandlers(emailsHandler()).Bootstrap(ctx, nil)
		assert.ErrorIs(t, err, job.ErrNilEngine)
	})
}

func TestHandlers_Shutdown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	engine := new(MockEngine)
	defer engine.AssertExpectations(t)

	engine.On("Work", ctx, mock.Anything, mock.Anything, mock.Anything).Return("w", nil).Twice()
	engine.On("OffWork", ctx, "emails").Return(nil).Once()
	engine.On("OffWork", ctx, "reports").Return(nil).Once()

	handlers := job.NewHandlers(emailsHandler(), reportsHandler(10))
	require.NoError(t, handlers.Shutdown(ctx), "shutdown before bootstrap is a no-op")
	require.NoError(t, handlers.Bootstrap(ctx, engine, job.WithLogger(quietLogger())))
	require.NoError(t, handlers.Shutdown(ctx))
	require.NoError(t, handlers.Shutdown(ctx))
}

func TestHandlers_Metadata(t *testing.T) {
	t.Parallel()

	handlers := job.NewHandlers(emailsHandler(), reportsHandler(10))
	meta := handlers.Metadata()

	require.Len(t, meta, 2)
	assert.Equal(t, "emails", meta[0].JobName)
	assert.Equal(t, job.TokenFor("reports"), meta[1].Token)
	assert.Equal(t, 10, meta[1].WorkOptions.BatchSize)
}

func TestBootstrap_MemoryEngine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := queue.NewMemoryEngine(queue.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = engine.Close() })

	c, err := job.NewContainer(engine)
	require.NoError(t, err)
	require.NoError(t, c.Register(emailsJob.Provider()))

	received := make(chan welcomeEmail, 1)
	handlers := job.NewHandlers(emailsJob.Handle(func(_ context.Context, j *job.Job[welcomeEmail]) error {
		received <- j.Data
		return nil
	}, queue.WorkOptions{PollingIntervalSeconds: 0.01}))
	require.NoError(t, handlers.Bootstrap(ctx, engine, job.WithLogger(quietLogger())))
	t.Cleanup(func() { _ = handlers.Shutdown(context.Background()) })

	sender := emailsJob.MustInject(c)
	_, err = sender.Send(ctx, welcomeEmail{UserID: 7, Locale: "en"}, queue.SendOptions{})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, welcomeEmail{UserID: 7, Locale: "en"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}
