package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/tutor-scheduling-api/pkg/config"
)

const applicationName = "tutor-scheduling-api"

// DSN renders the lib/pq connection URL for cfg. Sessions run in UTC so
// timestamptz values round-trip without an implicit zone shift.
func DSN(cfg config.DatabaseConfig) string {
	query := url.Values{}
	query.Set("sslmode", cfg.SSLMode)
	query.Set("application_name", applicationName)
	query.Set("timezone", "UTC")
	if cfg.ConnectTimeout > 0 {
		query.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewPostgres opens the scheduling database and verifies it is reachable.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, time.Hour))
	db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, 30*time.Minute))

	pingCtx, cancel := context.WithTimeout(ctx, orDefault(cfg.ConnectTimeout, 5*time.Second))
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return db, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
