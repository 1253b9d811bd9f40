// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// User is a chat participant the bot has seen.
type User struct {
	JID       string
	Name      string
	UpdatedAt time.Time
}

// UserRepository provides user directory operations.
type UserRepository interface {
	Upsert(ctx context.Context, jid, name string) error
	GetName(ctx context.Context, jid string) (string, error)
	Delete(ctx context.Context, jid string) error
}

// PostgresUserRepository implements UserRepository using PostgreSQL.
type PostgresUserRepository struct {
	pool poolIface
}

// NewPostgresUserRepository creates a new PostgreSQL user repository.
func NewPostgresUserRepository(pool poolIface) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Upsert creates or refreshes a user's display name.
func (r *PostgresUserRepository) Upsert(ctx context.Context, jid, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (jid, name, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (jid) DO UPDATE SET name = $2, updated_at = now()`,
		jid, name)
	if err != nil {
		return oops.Code("USER_UPSERT_FAILED").With("jid", jid).Wrap(err)
	}
	return nil
}

// GetName returns a user's display name.
func (r *PostgresUserRepository) GetName(ctx context.Context, jid string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM users WHERE jid = $1`, jid).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("USER_NOT_FOUND").With("jid", jid).Wrap(ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("USER_GET_FAILED").With("jid", jid).Wrap(err)
	}
	return name, nil
}

// Delete removes a user by JID.
func (r *PostgresUserRepository) Delete(ctx context.Context, jid string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE jid = $1`, jid)
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("jid", jid).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("jid", jid).Wrap(ErrNotFound)
	}
	return nil
}
