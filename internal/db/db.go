package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library-reserve-backend/config"
	"library-reserve-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(gormDB); err != nil {
		return nil, err
	}

	if cfg.EnablePGConstraints {
		log.Println("Applying Postgres partial unique indexes for reservation invariants...")
		if err := applyReservationConstraints(gormDB); err != nil {
			return nil, err
		}
	}

	log.Println("Database initialization complete.")
	return gormDB, nil
}

// Migrate runs AutoMigrate for every model. Split out of Init so tests can
// run it against an in-memory SQLite database.
func Migrate(gormDB *gorm.DB) error {
	if err := gormDB.AutoMigrate(
		&model.Book{},
		&model.Copy{},
		&model.Reservation{},
		&model.NotificationEvent{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// applyReservationConstraints installs partial unique indexes that back the
// scheduler's invariants at the storage tier: one active reservation per
// (user, book), and one active holder per copy. The application enforces
// both under the per-book allocation lock; these indexes catch any writer
// that bypasses it.
func applyReservationConstraints(gormDB *gorm.DB) error {
	ddls := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_active_per_user_book " +
			"ON reservations (user_id, book_id) " +
			"WHERE state NOT IN ('COMPLETED', 'CANCELLED', 'EXPIRED');",

		"CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_active_holder_per_copy " +
			"ON reservations (copy_id) " +
			"WHERE copy_id IS NOT NULL AND state IN ('PENDING_APPROVAL', 'APPROVED');",

		"CREATE INDEX IF NOT EXISTS idx_reservations_waitlist_order " +
			"ON reservations (book_id, seq) WHERE state = 'WAITLISTED';",
	}

	for _, ddl := range ddls {
		if err := gormDB.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
