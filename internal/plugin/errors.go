// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin lifecycle failures.
const (
	CodeNotFound        = "PLUGIN_NOT_FOUND"
	CodeManifestParse   = "MANIFEST_PARSE"
	CodeManifestInvalid = "MANIFEST_INVALID"
	CodeNotLoaded       = "PLUGIN_NOT_LOADED"
	CodeInstance        = "PLUGIN_INSTANCE"
)

// ErrNotFound creates an error for a missing plugin directory, manifest,
// or entry script.
func ErrNotFound(path, what string) error {
	return oops.Code(CodeNotFound).
		With("path", path).
		Errorf("%s not found", what)
}

// ErrManifestParse creates an error for a manifest that is not valid YAML.
func ErrManifestParse(path string, cause error) error {
	return oops.Code(CodeManifestParse).
		With("path", path).
		Hint("manifest must be valid YAML").
		Wrap(cause)
}

// ErrManifestInvalid creates an error for a manifest shape violation.
// The message always names the offending field.
func ErrManifestInvalid(field, reason string) error {
	return oops.Code(CodeManifestInvalid).
		With("field", field).
		Errorf("manifest field %q %s", field, reason)
}

// ErrNotLoaded creates an error for an operation on an absent plugin.
func ErrNotLoaded(name string) error {
	return oops.Code(CodeNotLoaded).
		With("plugin", name).
		Errorf("plugin %q is not loaded", name)
}

// ErrInstance wraps a failure inside a plugin's constructor, initialize,
// or shutdown path.
func ErrInstance(name, operation string, cause error) error {
	return oops.Code(CodeInstance).
		With("plugin", name).
		With("operation", operation).
		Wrap(cause)
}

// HasCode reports whether err carries the given oops error code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
