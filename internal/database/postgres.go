package database

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided
// DSN, retrying with exponential backoff while the server is still coming up.
func ConnectPostgres(dsn string, attempts int, logger zerolog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}
	if attempts <= 0 {
		attempts = 1
	}

	var db *gorm.DB
	connect := func() error {
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			return err
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.Ping(); err != nil {
			return err
		}

		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)

		db = conn
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1))
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("postgres not ready, retrying")
	}

	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}
