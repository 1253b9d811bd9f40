// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package transport

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/plugin"
)

func TestMemory_InjectAndReceive(t *testing.T) {
	m := NewMemory(4)

	msg := Message{
		ID:     "m1",
		Chat:   NewGroupJID("12036302"),
		Sender: NewUserJID("12025550100"),
		Text:   "!ping",
	}
	require.True(t, m.Inject(msg))

	select {
	case got := <-m.Messages():
		assert.Equal(t, msg, got)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestMemory_SendRecordsOutgoing(t *testing.T) {
	m := NewMemory(1)

	err := m.Send(context.Background(), "room@g.us", &plugin.Reply{Text: "pong"})
	require.NoError(t, err)

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "room@g.us", sent[0].Chat)
	assert.Equal(t, "pong", sent[0].Reply.Text)
}

func TestMemory_InjectFullBuffer(t *testing.T) {
	m := NewMemory(1)

	require.True(t, m.Inject(Message{ID: "m1"}))
	assert.False(t, m.Inject(Message{ID: "m2"}))
}

func TestMemory_RunClosesOnCancel(t *testing.T) {
	m := NewMemory(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, open := <-m.Messages()
	assert.False(t, open, "inbound channel should be closed")
	assert.False(t, m.Inject(Message{ID: "late"}))
}

func TestMemory_InjectDuringShutdown(t *testing.T) {
	// Inject must never send on the channel Run is closing.
	for range 50 {
		m := NewMemory(4)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- m.Run(ctx) }()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				if !m.Inject(Message{ID: strconv.Itoa(i)}) {
					return
				}
			}
		}()

		cancel()
		require.NoError(t, <-done)
		wg.Wait()
		assert.False(t, m.Inject(Message{ID: "late"}))
	}
}
