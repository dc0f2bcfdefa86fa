package logger

import (
	"context"
	"log/slog"
)

type jobContextKey struct{}

type jobContext struct {
	name string
	ids  []string
}

// WithJob stores the job name and the ids of the jobs being handled in ctx.
// Loggers built with JobExtractor add them to every record logged with ctx.
func WithJob(ctx context.Context, name string, ids ...string) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jobContext{name: name, ids: ids})
}

// JobFromContext returns the job name and ids stored by WithJob
func JobFromContext(ctx context.Context) (name string, ids []string, ok bool) {
	if ctx == nil {
		return "", nil, false
	}
	jc, ok := ctx.Value(jobContextKey{}).(jobContext)
	if !ok {
		return "", nil, false
	}
	return jc.name, jc.ids, true
}

// JobExtractor returns a ContextExtractor that adds the job stored by WithJob
// as a "job" group. A single id is logged as "id", several as "ids".
func JobExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		name, ids, ok := JobFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}

		attrs := []slog.Attr{slog.String("name", name)}
		switch len(ids) {
		case 0:
		case 1:
			attrs = append(attrs, slog.String("id", ids[0]))
		default:
			attrs = append(attrs, slog.Any("ids", ids))
		}
		return Group("job", attrs...), true
	}
}
