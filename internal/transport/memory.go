// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package transport

import (
	"context"
	"sync"

	"github.com/finchbot/finch/internal/plugin"
)

// Outgoing records a reply sent through the memory transport.
type Outgoing struct {
	Chat  string
	Reply *plugin.Reply
}

// Memory is an in-process loopback transport. The launcher uses it in
// echo mode and tests use it to drive the engine without a network.
type Memory struct {
	mu       sync.Mutex
	inbound  chan Message
	outgoing []Outgoing
	closed   bool
}

// NewMemory creates a loopback transport with the given inbound buffer.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 16
	}
	return &Memory{
		inbound: make(chan Message, buffer),
	}
}

// Run blocks until the context is cancelled, then closes the inbound
// channel.
func (m *Memory) Run(ctx context.Context) error {
	<-ctx.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.inbound)
	}
	return nil
}

// Messages returns the inbound message channel.
func (m *Memory) Messages() <-chan Message {
	return m.inbound
}

// Send records the reply. It never fails.
func (m *Memory) Send(_ context.Context, chat string, reply *plugin.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoing = append(m.outgoing, Outgoing{Chat: chat, Reply: reply})
	return nil
}

// Inject delivers an inbound message as if it arrived from the network.
// Returns false if the transport has shut down or the buffer is full.
// The send stays under the lock so it cannot race Run closing the
// channel; the buffer keeps it non-blocking.
func (m *Memory) Inject(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	select {
	case m.inbound <- msg:
		return true
	default:
		return false
	}
}

// Sent returns a copy of all replies recorded so far.
func (m *Memory) Sent() []Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Outgoing, len(m.outgoing))
	copy(out, m.outgoing)
	return out
}
