// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package store

import "errors"

// ErrNotFound is returned when an entity is not found.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a strict insert hits an existing row.
var ErrAlreadyExists = errors.New("already exists")
