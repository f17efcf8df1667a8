// Package db wraps a pgxpool.Pool with the tenant-namespace isolation
// every other component depends on: each subscription's tables live in
// their own Postgres schema, and WithNamespace is the sole place a
// namespace name is allowed to reach a SQL statement.
package db

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uho-indexer/uho/internal/uhoerrors"
)

// Pool wraps a pgxpool.Pool. Kept as a thin struct (rather than a bare
// *pgxpool.Pool alias) so namespace-scoped helpers have somewhere to
// hang off of.
type Pool struct {
	*pgxpool.Pool
}

// New connects using dbURL, applying DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS
// overrides the same way the teacher's repository layer does.
func New(ctx context.Context, dbURL string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MinConns = int32(n)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Pool{pool}, nil
}

// NewNamespace mints a fresh tenant schema name satisfying ValidNamespace,
// derived from a random UUID's hex digits rather than the tenant id
// itself — the namespace is an internal routing key, not something a
// caller should be able to predict from their own tenant id.
func NewNamespace() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "u_" + hex[:10]
}

var namespacePattern = regexp.MustCompile(`^u_[a-f0-9]{8,12}$`)

// ValidNamespace reports whether ns matches the tenant schema naming
// invariant `/^u_[a-f0-9]{8,12}$/` — the sole SQL-injection defense for
// tenant routing, since a namespace is interpolated directly into
// `SET search_path` and DDL statements rather than passed as a bound
// parameter (Postgres has no placeholder syntax for identifiers).
func ValidNamespace(ns string) bool {
	return namespacePattern.MatchString(ns)
}

// WithNamespace acquires a connection, sets search_path to the given
// tenant schema for the lifetime of fn, and always resets it before the
// connection returns to the pool — so a leaked connection never leaks
// one tenant's search_path into another tenant's query.
func (p *Pool) WithNamespace(ctx context.Context, namespace string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	if !ValidNamespace(namespace) {
		return uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid tenant namespace %q", namespace)
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf(`SET search_path TO "%s", public`, namespace)); err != nil {
		return fmt.Errorf("set search_path to %s: %w", namespace, err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SET search_path TO public`)
	}()

	return fn(ctx, conn)
}

// EnsureNamespace creates the tenant schema if it does not already
// exist — the multi-tenant analogue of the teacher's single-schema
// Migrate step.
func (p *Pool) EnsureNamespace(ctx context.Context, namespace string) error {
	if !ValidNamespace(namespace) {
		return uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid tenant namespace %q", namespace)
	}
	_, err := p.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, namespace))
	return err
}

// ApplyDDL runs each statement in order inside namespace's schema,
// wrapped in a single transaction so a partial schema never lands.
func (p *Pool) ApplyDDL(ctx context.Context, namespace string, statements []string) error {
	return p.WithNamespace(ctx, namespace, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply ddl: %w", err)
			}
		}
		return tx.Commit(ctx)
	})
}
