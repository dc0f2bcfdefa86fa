// Package jobkit wires the typed job layer of pkg/job to a queue engine
// picked from the environment.
//
// Key Features:
//
//   - Typed job definitions with injectable senders (pkg/job)
//   - Singleton, throttled, debounced and cron sends
//   - Memory, PostgreSQL and Redis engines behind one queue.Engine interface
//   - Work option overrides from a YAML file, without redeploying code
//
// Basic Usage:
//
//	type WelcomeEmail struct {
//		UserID int64 `json:"user_id"`
//	}
//
//	var SendWelcomeEmail = job.MustNew[WelcomeEmail]("send-welcome-email")
//
//	cfg, err := jobkit.LoadConfig()
//	if err != nil {
//		return err
//	}
//
//	rt, err := jobkit.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	handlers := job.NewHandlers(
//		SendWelcomeEmail.Handle(func(ctx context.Context, j *job.Job[WelcomeEmail]) error {
//			return mailer.SendWelcome(ctx, j.Data.UserID)
//		}),
//	)
//	if err := rt.Bootstrap(ctx, handlers); err != nil {
//		return err
//	}
//
//	c, err := rt.Container(SendWelcomeEmail.Provider())
//	if err != nil {
//		return err
//	}
//	sender := SendWelcomeEmail.MustInject(c)
//	_, err = sender.SendOnce(ctx, WelcomeEmail{UserID: 42}, queue.SendOptions{}, "user-42")
//
// A dedicated worker process can hand control to Serve instead, which
// bootstraps the handlers, serves the operations endpoints of pkg/httpserver
// when JOBKIT_HTTP_ADDR is set, and shuts everything down on SIGINT or SIGTERM:
//
//	if err := rt.Serve(ctx, handlers); err != nil {
//		log.Error("worker stopped", logger.Error(err))
//	}
package jobkit
