package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/job"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

var errBadJobID = errors.New("job id must be a UUID")

// Source is what the operations endpoints read from
type Source interface {
	Healthcheck(ctx context.Context) error
	Handlers() []job.Metadata
	Job(ctx context.Context, id uuid.UUID) (queue.Job, error)
	Schedules(ctx context.Context) ([]queue.Schedule, error)
}

type handlerView struct {
	Token       string            `json:"token"`
	JobName     string            `json:"job_name"`
	Batch       bool              `json:"batch"`
	WorkOptions queue.WorkOptions `json:"work_options"`
}

// NewRouter mounts the operations endpoints:
//
//	GET /healthz         liveness, always 200
//	GET /readyz          200 when the engine's backing store answers
//	GET /handlers        registered job handlers
//	GET /jobs/{id}       one job by id
//	GET /schedules       cron schedules
func NewRouter(src Source, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := src.Healthcheck(r.Context()); err != nil {
			log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	r.Get("/handlers", func(w http.ResponseWriter, _ *http.Request) {
		meta := src.Handlers()
		views := make([]handlerView, 0, len(meta))
		for _, m := range meta {
			views = append(views, handlerView{
				Token:       m.Token.String(),
				JobName:     m.JobName,
				Batch:       m.WorkOptions.Batch(),
				WorkOptions: m.WorkOptions,
			})
		}
		writeData(w, views)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, errBadJobID)
			return
		}
		j, err := src.Job(r.Context(), id)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeData(w, j)
	})

	r.Get("/schedules", func(w http.ResponseWriter, r *http.Request) {
		schedules, err := src.Schedules(r.Context())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if schedules == nil {
			schedules = []queue.Schedule{}
		}
		writeData(w, schedules)
	})

	return r
}
