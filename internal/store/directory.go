// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package store

import (
	"context"
)

// Directory resolves JIDs to display names from the group and user
// repositories. It satisfies the plugin host's directory contract.
type Directory struct {
	groups GroupRepository
	users  UserRepository
}

// NewDirectory creates a directory over the given repositories.
func NewDirectory(groups GroupRepository, users UserRepository) *Directory {
	return &Directory{groups: groups, users: users}
}

// GroupName resolves a group JID to its display name.
func (d *Directory) GroupName(ctx context.Context, jid string) (string, error) {
	return d.groups.GetName(ctx, jid)
}

// UserName resolves a user JID to its display name.
func (d *Directory) UserName(ctx context.Context, jid string) (string, error) {
	return d.users.GetName(ctx, jid)
}
