// Package httpserver exposes the operations endpoints of a jobkit process:
// liveness and readiness probes, the registered job handlers, job lookup by
// id and the cron schedules.
//
// Server wraps http.Server with graceful shutdown. Run blocks until its
// context is cancelled or Shutdown is called; listen errors are wrapped with
// ErrStart and shutdown errors with ErrShutdown.
//
//	srv := httpserver.New(cfg, log)
//	if err := srv.Run(ctx, httpserver.NewRouter(rt, log)); err != nil {
//		log.Error("ops server stopped", logger.Error(err))
//	}
//
// JSON endpoints answer with a {"data": ...} or {"error": {"code", "message"}}
// envelope. Unknown job ids map to 404, malformed ids to 400.
package httpserver
