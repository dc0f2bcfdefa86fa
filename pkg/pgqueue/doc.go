// Package pgqueue implements queue.Engine on PostgreSQL with pgx/v5.
//
// Jobs live in the jobkit_jobs table. Singleton keys are enforced by a partial
// unique index over in-flight states, so a declined send is an
// INSERT ... ON CONFLICT DO NOTHING that returns no row. Workers claim jobs
// with SELECT ... FOR UPDATE SKIP LOCKED, which lets any number of processes
// poll the same table. Throttle and debounce keys are rows of jobkit_throttles
// and cron schedules rows of jobkit_schedules.
//
//	pool, err := pg.Connect(ctx, cfg.Postgres)
//	if err != nil {
//	    return err
//	}
//	if err := pgqueue.Migrate(ctx, pool, cfg.Postgres.MigrationsTable, log); err != nil {
//	    return err
//	}
//
//	engine := pgqueue.New(pool, queue.WithLogger(log))
//	defer engine.Close()
package pgqueue
