package db

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Migrator is implemented by every store that owns tables.
type Migrator interface {
	AutoMigrate() error
}

// MigrateAll runs AutoMigrate on each store, in order, under the migration
// lock when locking is enabled.
func MigrateAll(ctx context.Context, gormDB *gorm.DB, lock bool, stores ...Migrator) error {
	run := func() error {
		for _, s := range stores {
			if err := s.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate %T: %w", s, err)
			}
		}
		return nil
	}
	if !lock || gormDB == nil {
		return run()
	}
	slog.Debug("acquiring migration lock", "dialect", gormDB.Dialector.Name())
	return NewMigrationLocker(gormDB).WithLock(ctx, run)
}
