// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package transport

import (
	"strings"

	"github.com/samber/oops"
)

// Well-known JID servers.
const (
	ServerUser  = "s.whatsapp.net"
	ServerGroup = "g.us"
)

// JID identifies a user or chat as user@server.
type JID struct {
	User   string
	Server string
}

// ParseJID parses "user@server" into a JID. The user part may be empty
// for server-only JIDs; the server part may not.
func ParseJID(raw string) (JID, error) {
	idx := strings.LastIndex(raw, "@")
	if idx < 0 {
		return JID{}, oops.Code("JID_INVALID").With("jid", raw).Errorf("jid missing @ separator")
	}
	server := raw[idx+1:]
	if server == "" {
		return JID{}, oops.Code("JID_INVALID").With("jid", raw).Errorf("jid missing server")
	}
	return JID{User: raw[:idx], Server: server}, nil
}

// NewUserJID creates a direct-chat JID for the given user identifier.
func NewUserJID(user string) JID {
	return JID{User: user, Server: ServerUser}
}

// NewGroupJID creates a group-chat JID.
func NewGroupJID(group string) JID {
	return JID{User: group, Server: ServerGroup}
}

func (j JID) String() string {
	if j.Server == "" {
		return j.User
	}
	return j.User + "@" + j.Server
}

// IsGroup reports whether the JID addresses a group chat.
func (j JID) IsGroup() bool {
	return j.Server == ServerGroup
}

// IsEmpty reports whether the JID is the zero value.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}
