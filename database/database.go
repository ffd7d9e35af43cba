package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("duplicate record")
	ErrNotPending = errors.New("quota request is not pending")
)

const uniqueViolation = "23505"

// InitDB initializes the database connection
func InitDB(ctx context.Context, dataSourceName string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL database")
	return db, nil
}

// WithTimeZone sets the session TimeZone in a lib/pq connection string so
// CURRENT_DATE and column defaults use the service's calendar day. A
// timezone already present in dsn is kept.
func WithTimeZone(dsn, tz string) string {
	if tz == "" || tz == "Local" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		if q.Get("timezone") != "" {
			return dsn
		}
		q.Set("timezone", tz)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dsn, "timezone=") {
		return dsn
	}
	return strings.TrimSpace(dsn + " timezone=" + tz)
}

// ApplyMigrations applies database migrations from the specified path
func ApplyMigrations(databaseURL, migrationsPath string, logger *zap.SugaredLogger) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No database migrations to apply")
	case err != nil:
		return fmt.Errorf("failed to apply migrations: %w", err)
	default:
		logger.Info("Database migrations applied successfully")
	}
	return nil
}

// Store is the PostgreSQL-backed persistence for users, credentials,
// targets, assignments, delivery logs and quota requests.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func dateString(t time.Time) string {
	return t.Format("2006-01-02")
}
