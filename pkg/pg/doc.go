// Package pg wraps the pgx/v5 pool setup shared by PostgreSQL-backed engines:
// connecting with retries, applying goose migrations from an embedded FS,
// a ping healthcheck and a few error classifiers.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	if err := pg.Migrate(ctx, pool, migrations, "migrations", cfg.MigrationsTable, log); err != nil {
//	    return err
//	}
package pg
