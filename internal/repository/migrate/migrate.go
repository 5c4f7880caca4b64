// Package migrate applies the embedded goose migrations to the master database.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/migrations"
)

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(zlogAdapter{})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// zlogAdapter routes goose output through the application logger.
type zlogAdapter struct{}

func (zlogAdapter) Fatalf(format string, v ...any) {
	zlog.Logger.Error().Msgf(format, v...)
}

func (zlogAdapter) Printf(format string, v ...any) {
	zlog.Logger.Info().Msgf(format, v...)
}
