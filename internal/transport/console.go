// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/finchbot/finch/internal/plugin"
)

// ConsoleJID is the sender and chat JID for console sessions.
var ConsoleJID = NewUserJID("console")

// Console is a line-oriented transport over a reader/writer pair,
// normally stdin and stdout. Each input line becomes a direct message
// from ConsoleJID; replies are written back as lines. It backs the
// launcher's local mode when no network transport is configured.
type Console struct {
	in       io.Reader
	out      io.Writer
	messages chan Message
}

// NewConsole creates a console transport reading lines from in and
// writing replies to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:       in,
		out:      out,
		messages: make(chan Message),
	}
}

// Run reads input lines until EOF or context cancellation, then closes
// the message channel.
func (c *Console) Run(ctx context.Context) error {
	defer close(c.messages)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			msg := Message{
				ID:         ulid.Make().String(),
				Chat:       ConsoleJID,
				Sender:     ConsoleJID,
				SenderName: "console",
				Text:       line,
				Timestamp:  time.Now(),
			}
			select {
			case c.messages <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Messages returns the inbound message channel.
func (c *Console) Messages() <-chan Message {
	return c.messages
}

// Send writes the reply text as a line on the output writer.
func (c *Console) Send(_ context.Context, chat string, reply *plugin.Reply) error {
	if reply == nil {
		return nil
	}
	text := reply.Text
	if text == "" && len(reply.Media) > 0 {
		text = fmt.Sprintf("[%s media, %d bytes]", reply.MediaType, len(reply.Media))
	}
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", chat, text)
	return err
}
