package lockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nathanbeddoewebdev/vpsd/internal/database"
)

const uniqueViolation = "23505"

// PostgresRepository stores locks in a shared PostgreSQL database so that
// workers on different hosts exclude each other. The schema is created by
// database.MigratePostgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, lock *Lock) error {
	_, err := database.Exec(ctx, r.pool, `
		INSERT INTO resource_locks (resource_id, token, owner, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		lock.ResourceID, lock.Token, lock.Owner, lock.AcquiredAt.UTC(), lock.ExpiresAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("lockstore: insert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, resourceID string) (*Lock, error) {
	var l Lock
	err := database.Get(ctx, r.pool, &l, `
		SELECT resource_id, token, owner, acquired_at, expires_at
		FROM resource_locks WHERE resource_id = $1`, resourceID)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lockstore: query failed: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, resourceID, token string) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if token == "" {
		tag, err = database.Exec(ctx, r.pool, `DELETE FROM resource_locks WHERE resource_id = $1`, resourceID)
	} else {
		tag, err = database.Exec(ctx, r.pool, `DELETE FROM resource_locks WHERE resource_id = $1 AND token = $2`, resourceID, token)
	}
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, resourceID string, now time.Time) (bool, error) {
	tag, err := database.Exec(ctx, r.pool,
		`DELETE FROM resource_locks WHERE resource_id = $1 AND expires_at <= $2`,
		resourceID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	err := database.Select(ctx, r.pool, &locks, `
		SELECT resource_id, token, owner, acquired_at, expires_at
		FROM resource_locks ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("lockstore: query failed: %w", err)
	}
	return locks, nil
}

// Close closes the underlying pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
