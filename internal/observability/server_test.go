// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", ready)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // local test server
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Liveness(t *testing.T) {
	s := startServer(t, nil)

	status, body := get(t, "http://"+s.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	ready := false
	s := startServer(t, func() bool { return ready })

	status, _ := get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ready = true
	status, body := get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := startServer(t, nil)
	s.Metrics().MessagesTotal.WithLabelValues("group").Inc()
	RecordReplySendFailure("qr")

	status, body := get(t, "http://"+s.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "finch_messages_total")
	assert.Contains(t, body, "finch_reply_send_failures_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_DoubleStartRejected(t *testing.T) {
	s := startServer(t, nil)

	_, err := s.Start()
	require.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	_, err := s.Start()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
