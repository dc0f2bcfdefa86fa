package pgqueue

import (
	"context"
	"embed"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobkit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the engine schema. table names the goose version table;
// empty uses goose's default.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations, "migrations", table, log)
}
