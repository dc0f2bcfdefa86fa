package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/httpserver"
	"github.com/dmitrymomot/jobkit/pkg/job"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

type fakeSource struct {
	healthErr error
	handlers  []job.Metadata
	jobs      map[uuid.UUID]queue.Job
	schedules []queue.Schedule
	listErr   error
}

func (f *fakeSource) Healthcheck(context.Context) error { return f.healthErr }

func (f *fakeSource) Handlers() []job.Metadata { return f.handlers }

func (f *fakeSource) Job(_ context.Context, id uuid.UUID) (queue.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeSource) Schedules(context.Context) ([]queue.Schedule, error) {
	return f.schedules, f.listErr
}

func serve(t *testing.T, src httpserver.Source, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	httpserver.NewRouter(src, quietLogger()).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRouter_Probes(t *testing.T) {
	t.Parallel()

	t.Run("liveness ignores the store", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{healthErr: errors.New("down")}, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ALIVE", rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{}, "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "READY", rec.Body.String())
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{healthErr: errors.New("connection refused")}, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "NOT_READY", rec.Body.String())
	})
}

func TestRouter_Handlers(t *testing.T) {
	t.Parallel()

	src := &fakeSource{handlers: []job.Metadata{
		{Token: job.TokenFor("emails"), JobName: "emails", WorkOptions: queue.WorkOptions{LocalConcurrency: 2}},
		{Token: job.TokenFor("reports"), JobName: "reports", WorkOptions: queue.WorkOptions{BatchSize: 10}},
	}}

	rec := serve(t, src, "/handlers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	data := decode(t, rec)["data"].([]any)
	require.Len(t, data, 2)

	first := data[0].(map[string]any)
	assert.Equal(t, "emails", first["job_name"])
	assert.Equal(t, job.TokenFor("emails").String(), first["token"])
	assert.Equal(t, false, first["batch"])

	second := data[1].(map[string]any)
	assert.Equal(t, true, second["batch"])
}

func TestRouter_Job(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	src := &fakeSource{jobs: map[uuid.UUID]queue.Job{
		id: {ID: id, Name: "emails", State: queue.JobStateCreated, Data: json.RawMessage(`{"user_id":"u1"}`)},
	}}

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, src, "/jobs/"+id.String())
		require.Equal(t, http.StatusOK, rec.Code)

		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, id.String(), data["id"])
		assert.Equal(t, "created", data["state"])
		assert.Equal(t, map[string]any{"user_id": "u1"}, data["data"])
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, src, "/jobs/"+uuid.NewString())
		assert.Equal(t, http.StatusNotFound, rec.Code)

		errBody := decode(t, rec)["error"].(map[string]any)
		assert.Equal(t, "not_found", errBody["code"])
	})

	t.Run("malformed id", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, src, "/jobs/not-a-uuid")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		errBody := decode(t, rec)["error"].(map[string]any)
		assert.Equal(t, "bad_request", errBody["code"])
	})
}

func TestRouter_Schedules(t *testing.T) {
	t.Parallel()

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{}, "/schedules")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
	})

	t.Run("schedules", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{schedules: []queue.Schedule{{Name: "reports", Cron: "0 * * * *"}}}, "/schedules")
		require.Equal(t, http.StatusOK, rec.Code)

		data := decode(t, rec)["data"].([]any)
		require.Len(t, data, 1)
		assert.Equal(t, "0 * * * *", data[0].(map[string]any)["cron"])
	})

	t.Run("store error hides details", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, &fakeSource{listErr: errors.New("pool exhausted")}, "/schedules")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pool exhausted")
	})
}
