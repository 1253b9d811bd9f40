// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

// Package transport provides the chat transport adapter.
package transport

import (
	"context"
	"time"

	"github.com/finchbot/finch/internal/plugin"
)

// Message is an inbound chat message.
type Message struct {
	ID         string
	Chat       JID // group or direct chat the message arrived in
	Sender     JID
	SenderName string // display name as reported by the network, may be empty
	ChatName   string // group subject, empty for direct chats
	Text       string
	Timestamp  time.Time
}

// Transport connects the launcher to a chat network. Run blocks until
// the context is cancelled; inbound messages arrive on Messages.
// Send satisfies plugin.ReplySender.
type Transport interface {
	Run(ctx context.Context) error
	Messages() <-chan Message
	Send(ctx context.Context, chat string, reply *plugin.Reply) error
}
