// Package store is the Postgres persistence layer. All exported methods
// translate driver errors into the registry's sentinel errors so callers never
// see pgx internals.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-gg/palisade/internal/registry"
)

type Store struct {
	conn *pgxpool.Pool
	sb   sq.StatementBuilderType
	dsn  string
}

func New(dsn string) *Store {
	return &Store{
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		dsn: dsn,
	}
}

func (s *Store) Connect(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("parse database dsn: %w", err)
	}

	conn, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.conn = conn
	return nil
}

func (s *Store) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.conn
}

// dbErr maps driver errors onto the registry sentinels.
func dbErr(rootErr error) error {
	if rootErr == nil {
		return nil
	}

	if errors.Is(rootErr, pgx.ErrNoRows) {
		return registry.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(rootErr, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return registry.ErrAlreadyExists
	}

	return rootErr
}

func (s *Store) queryBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Rows, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.conn.Query(ctx, query, args...)
}

func (s *Store) queryRowBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Row, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.conn.QueryRow(ctx, query, args...), nil
}

func (s *Store) execBuilder(ctx context.Context, builder sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	return s.conn.Exec(ctx, query, args...)
}
