// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin

import (
	"context"
)

// Instance is the capability contract every loaded plugin satisfies.
// The registry exclusively owns instance lifecycle; no other component
// may call Shutdown directly.
type Instance interface {
	// Initialize prepares the instance for command execution. The registry
	// does not call this; the host process invokes it after Load returns.
	Initialize(ctx context.Context) error

	// Info reports the instance's declared identity and whether
	// Initialize has completed.
	Info() Info

	// Commands returns the command descriptors this instance serves.
	Commands() []CommandSpec

	// Execute runs a single command invocation.
	Execute(ctx context.Context, command string, inv Invocation) (*Reply, error)
}

// ShutdownCapable is implemented by instances that need teardown.
// Shutdown is optional; the registry probes for it during unload.
type ShutdownCapable interface {
	Shutdown(ctx context.Context) error
}

// Info describes a live instance.
type Info struct {
	Name        string
	Version     string
	Initialized bool
}

// Invocation carries the chat context of one command execution.
type Invocation struct {
	Command   string
	Args      string
	Raw       string
	Sender    string // sender JID
	Chat      string // chat JID (group or direct)
	RequestID string
}

// Reply is a plugin's response to an invocation.
type Reply struct {
	Text      string
	Media     []byte
	MediaType string
}

// ReplySender delivers replies back to a chat. Satisfied by the transport.
type ReplySender interface {
	Send(ctx context.Context, chat string, reply *Reply) error
}

// Directory resolves JIDs to display names. Satisfied by the store layer.
type Directory interface {
	GroupName(ctx context.Context, jid string) (string, error)
	UserName(ctx context.Context, jid string) (string, error)
}

// Options carries host-supplied handles passed through to every instance.
// The registry treats these as opaque; they are captured per entry so
// reload re-instantiates with the same handles.
type Options struct {
	Sender    ReplySender
	Directory Directory
	Config    map[string]any
}

// InstanceContext is what the host factory receives for each load.
type InstanceContext struct {
	Manifest   *Manifest
	SourcePath string
	// Name is the registry key, which may differ from Manifest.Name
	// depending on the configured key strategy.
	Name    string
	Options Options
}

// InstanceHost constructs plugin instances from loaded code. The Lua
// runtime is the in-tree implementation.
type InstanceHost interface {
	Instantiate(ctx context.Context, ic InstanceContext) (Instance, error)
}
