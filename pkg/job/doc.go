// Package job turns a job name into a typed, injectable sender and a place to
// bind exactly one handler to that name.
//
// A Definition is declared once per logical job, usually as a package-level variable:
//
//	type WelcomeEmail struct {
//	    UserID int64 `json:"user_id"`
//	}
//
//	var SendWelcomeEmail = job.MustNew[WelcomeEmail]("send-welcome-email")
//
// # Senders
//
// The definition's Provider is registered with a Container, which builds one
// Sender per job name on first use and hands the same instance to every caller:
//
//	c, err := job.NewContainer(engine)
//	if err != nil {
//	    return err
//	}
//	if err := c.Register(SendWelcomeEmail.Provider()); err != nil {
//	    return err
//	}
//
//	sender, err := SendWelcomeEmail.Inject(c)
//	id, err := sender.SendOnce(ctx, WelcomeEmail{UserID: 42}, queue.SendOptions{}, "user-42")
//	if id == uuid.Nil {
//	    // a welcome email for this user is already queued
//	}
//
// The send variants differ in what the engine does with repeated sends:
//
//   - Send, SendAfter: every call creates a job
//   - SendOnce, SendSingleton: refused while a job with the same key is in flight
//   - SendThrottled: at most one job per window and key
//   - SendDebounced: a burst becomes one job that starts after the burst
//
// A refused send returns uuid.Nil and a nil error. Engine failures are
// returned unwrapped.
//
// # Handlers
//
// Handle binds a function receiving one job; HandleBatch binds a function
// receiving every job of a poll and requires a positive BatchSize:
//
//	h := SendWelcomeEmail.Handle(func(ctx context.Context, j *job.Job[WelcomeEmail]) error {
//	    return mailer.SendWelcome(ctx, j.Data.UserID)
//	}, queue.WorkOptions{LocalConcurrency: 4})
//
// Binding does not register anything. Handlers are collected in a Handlers list
// and registered with the engine by a single Bootstrap call at startup, which
// rejects duplicate and misconfigured handlers before any worker starts.
package job
