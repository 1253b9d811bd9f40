// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Group is a chat group the bot has seen.
type Group struct {
	JID       string
	Name      string
	UpdatedAt time.Time
}

// GroupRepository provides group directory operations.
type GroupRepository interface {
	Create(ctx context.Context, jid, name string) error
	Upsert(ctx context.Context, jid, name string) error
	GetName(ctx context.Context, jid string) (string, error)
	Delete(ctx context.Context, jid string) error
	List(ctx context.Context) ([]Group, error)
	RecordMember(ctx context.Context, groupJID, userJID string) error
}

// PostgresGroupRepository implements GroupRepository using PostgreSQL.
type PostgresGroupRepository struct {
	pool poolIface
}

// NewPostgresGroupRepository creates a new PostgreSQL group repository.
func NewPostgresGroupRepository(pool poolIface) *PostgresGroupRepository {
	return &PostgresGroupRepository{pool: pool}
}

// Create inserts a new group. Returns ErrAlreadyExists if the JID is
// already present.
func (r *PostgresGroupRepository) Create(ctx context.Context, jid, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO groups (jid, name, updated_at) VALUES ($1, $2, now())`,
		jid, name)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("GROUP_EXISTS").With("jid", jid).Wrap(ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("GROUP_CREATE_FAILED").With("jid", jid).Wrap(err)
	}
	return nil
}

// Upsert creates or refreshes a group's display name.
func (r *PostgresGroupRepository) Upsert(ctx context.Context, jid, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO groups (jid, name, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (jid) DO UPDATE SET name = $2, updated_at = now()`,
		jid, name)
	if err != nil {
		return oops.Code("GROUP_UPSERT_FAILED").With("jid", jid).Wrap(err)
	}
	return nil
}

// GetName returns a group's display name.
func (r *PostgresGroupRepository) GetName(ctx context.Context, jid string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM groups WHERE jid = $1`, jid).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("GROUP_NOT_FOUND").With("jid", jid).Wrap(ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("GROUP_GET_FAILED").With("jid", jid).Wrap(err)
	}
	return name, nil
}

// Delete removes a group by JID.
func (r *PostgresGroupRepository) Delete(ctx context.Context, jid string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE jid = $1`, jid)
	if err != nil {
		return oops.Code("GROUP_DELETE_FAILED").With("jid", jid).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("GROUP_NOT_FOUND").With("jid", jid).Wrap(ErrNotFound)
	}
	return nil
}

// RecordMember marks a user as seen in a group. Both rows must already
// exist; foreign key violations surface as errors.
func (r *PostgresGroupRepository) RecordMember(ctx context.Context, groupJID, userJID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_jid, user_jid, seen_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (group_jid, user_jid) DO UPDATE SET seen_at = now()`,
		groupJID, userJID)
	if err != nil {
		return oops.Code("MEMBER_RECORD_FAILED").
			With("group_jid", groupJID).
			With("user_jid", userJID).
			Wrap(err)
	}
	return nil
}

// List returns all known groups ordered by name.
func (r *PostgresGroupRepository) List(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT jid, name, updated_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, oops.Code("GROUP_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.JID, &g.Name, &g.UpdatedAt); err != nil {
			return nil, oops.Code("GROUP_LIST_FAILED").With("operation", "scan group row").Wrap(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GROUP_LIST_FAILED").With("operation", "iterate groups").Wrap(err)
	}
	return groups, nil
}
