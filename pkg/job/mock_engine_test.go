package job_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// MockEngine is a mock implementation of queue.Engine
type MockEngine struct {
	mock.Mock
}

var _ queue.Engine = (*MockEngine)(nil)

func (m *MockEngine) Send(ctx context.Context, name string, data any, opts queue.SendOptions) (uuid.UUID, error) {
	args := m.Called(ctx, name, data, opts)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockEngine) SendAfter(ctx context.Context, name string, data any, opts queue.SendOptions, startAfter time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, name, data, opts, startAfter)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockEngine) SendThrottled(ctx context.Context, name string, data any, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	args := m.Called(ctx, name, data, opts, window, key)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockEngine) SendDebounced(ctx context.Context, name string, data any, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	args := m.Called(ctx, name, data, opts, window, key)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockEngine) Insert(ctx context.Context, jobs []queue.JobInsert) error {
	args := m.Called(ctx, jobs)
	return args.Error(0)
}

func (m *MockEngine) Schedule(ctx context.Context, name, cron string, data any, opts queue.ScheduleOptions) error {
	args := m.Called(ctx, name, cron, data, opts)
	return args.Error(0)
}

func (m *MockEngine) Unschedule(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockEngine) Work(ctx context.Context, name string, opts queue.WorkOptions, handler queue.WorkHandler) (string, error) {
	args := m.Called(ctx, name, opts, handler)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) OffWork(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type welcomeEmail struct {
	UserID int64  `json:"user_id"`
	Locale string `json:"locale,omitempty"`
}
