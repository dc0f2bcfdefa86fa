// Package logger builds the slog loggers used across jobkit.
//
// New creates a *slog.Logger configured by Option functions: output format,
// level, static attributes, environment presets and ContextExtractor callbacks
// that add attributes from the context passed to InfoContext and friends.
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Production, "billing-worker"),
//	    logger.WithContextExtractors(logger.JobExtractor()),
//	)
//
// Workers store the job being handled in the handler context with WithJob, so
// anything a handler logs through such a logger carries the job name and id:
//
//	log.InfoContext(ctx, "invoice sent", logger.Duration(time.Since(start)))
//	// ... "job":{"name":"send-invoice","id":"6f1c..."}
//
// Attribute helpers (JobName, JobID, Token, WorkerID, Error, ...) keep keys
// consistent between packages. Error and Errors return an empty attribute for
// nil errors, so they can be passed unconditionally.
package logger
