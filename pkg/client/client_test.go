package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/symbiont/internal/control"
)

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	h, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func echoServer(t *testing.T) *Client {
	t.Helper()
	srv := control.NewServer("", nil)
	srv.AddAction("echo", func(_ context.Context, p json.RawMessage) (any, error) { return p, nil })
	srv.AddAction("fail", func(context.Context, json.RawMessage) (any, error) { return nil, errors.New("nope") })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx, ln); close(done) }()
	t.Cleanup(func() { cancel(); <-done })

	host, port := hostPort(t, ln.Addr().String())
	c := New(Config{Host: host, Port: port})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSendEcho(t *testing.T) {
	c := echoServer(t)
	raw, err := c.Send(context.Background(), "echo", map[string]int{"x": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(raw))

	// the same connection serves the next call
	got, err := Call[[]int](context.Background(), c, "echo", []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestRemoteError(t *testing.T) {
	c := echoServer(t)
	_, err := c.Send(context.Background(), "fail", nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "errors.errorString: nope", re.Message)

	_, err = c.Send(context.Background(), "missing", 1)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, control.ErrNoHandler, re.Message)
}

// flakyServer drops the first `drops` connections right after reading a
// request, then answers normally.
func flakyServer(t *testing.T, drops int32) (*Client, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := accepted.Add(1)
			go func(conn net.Conn, n int32) {
				defer func() { _ = conn.Close() }()
				sc := control.NewScanner(conn)
				for sc.Scan() {
					if n <= drops {
						return
					}
					var req map[string]json.RawMessage
					_ = json.Unmarshal(sc.Bytes(), &req)
					if err := control.WriteFrame(conn, map[string]any{"payload": req["payload"]}); err != nil {
						return
					}
				}
			}(conn, n)
		}
	}()
	host, port := hostPort(t, ln.Addr().String())
	c := New(Config{Host: host, Port: port})
	t.Cleanup(func() { _ = c.Close() })
	return c, &accepted
}

func TestReconnectWithinBudget(t *testing.T) {
	c, accepted := flakyServer(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := c.Send(ctx, "echo", "hi")
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(raw))
	assert.Equal(t, int32(3), accepted.Load())
}

func TestReconnectBudgetExhausted(t *testing.T) {
	c, accepted := flakyServer(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Send(ctx, "echo", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF) || isDisconnect(err), "unexpected error: %v", err)
	assert.Equal(t, int32(3), accepted.Load())
}

func TestNoReconnectWhenBudgetZero(t *testing.T) {
	c, accepted := flakyServer(t, 1)
	_, err := c.SendWithReconnect(context.Background(), "echo", 1, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), accepted.Load())

	// a fresh connection is made on the next call
	raw, err := c.SendWithReconnect(context.Background(), "echo", 1, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(raw))
}

func TestDialFailureIsNotRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := hostPort(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	c := New(Config{Host: host, Port: port, DialTimeout: time.Second})
	_, err = c.Send(context.Background(), "echo", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}

func TestContextCancelUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// never answer
		_, _ = io.Copy(io.Discard, conn)
	}()
	host, port := hostPort(t, ln.Addr().String())
	c := New(Config{Host: host, Port: port})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, "echo", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
