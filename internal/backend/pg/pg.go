// Package pg — SQL-движок поверх Postgres (драйвер pgx/stdlib).
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx

	"korob/internal/apperr"
)

func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Backend реализует backend.SQL; ошибки драйвера переводит в apperr.
type Backend struct {
	DB *sql.DB
}

func New(db *sql.DB) *Backend { return &Backend{DB: db} }

func (b *Backend) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := b.DB.ExecContext(ctx, query, args...); err != nil {
		return translate(query, err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(query, err)
	}
	return rows, nil
}

func (b *Backend) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.DB.QueryRowContext(ctx, query, args...)
}

// Коды Postgres, которые нам важны.
const (
	pgUniqueViolation = "23505"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

func translate(query string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Wrap(apperr.AlreadyExists, "duplicate key", err)
		case pgDuplicateTable, pgDuplicateObject:
			// idempotent DDL: create ... if not exists мы и так пишем,
			// но подстрахуемся и тут
			if isDDL(query) {
				return nil
			}
		}
	}
	// подстраховка по фразе (на случай других объектов)
	if isDDL(query) {
		e := strings.ToLower(err.Error())
		if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
			return nil
		}
	}
	return apperr.Wrap(apperr.Storage, "backend failure", err)
}

func isDDL(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "CREATE ")
}
