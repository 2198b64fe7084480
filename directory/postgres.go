package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Schema creates the accounts table used by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS reader_accounts (
	id           UUID PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	username     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ
)`

// Postgres persists accounts through database/sql with the lib/pq driver.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// PostgresOption configures a Postgres directory.
type PostgresOption func(*Postgres)

// WithPostgresClock sets the clock used for created_at.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(p *Postgres) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// OpenPostgres opens dsn with the "postgres" driver and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping directory: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate directory: %w", err)
	}
	return nil
}

func (p *Postgres) FindByEmail(ctx context.Context, email string) (User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, email, username, created_at, confirmed_at FROM reader_accounts WHERE email = $1`,
		normalizeEmail(email))
	return scanUser(row)
}

func (p *Postgres) Create(ctx context.Context, email, username string) (User, error) {
	u := User{
		ID:        uuid.NewString(),
		Email:     normalizeEmail(email),
		Username:  username,
		CreatedAt: p.now().UTC(),
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reader_accounts (id, email, username, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.Username, u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (p *Postgres) Confirm(ctx context.Context, id string, at time.Time) (User, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE reader_accounts
		SET confirmed_at = COALESCE(confirmed_at, $2)
		WHERE id = $1
		RETURNING id, email, username, created_at, confirmed_at`,
		id, at.UTC())
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		confirmed sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt, &confirmed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	if confirmed.Valid {
		t := confirmed.Time.UTC()
		u.ConfirmedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
