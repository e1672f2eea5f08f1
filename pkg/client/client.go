package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/symbiont/internal/control"
	"github.com/loykin/symbiont/internal/metrics"
)

// DefaultReconnect is the number of reconnect attempts Send allows.
const DefaultReconnect = 2

// Client speaks the control protocol to a supervisor. Calls are serialised:
// one request is outstanding per connection.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	sc   *bufio.Scanner
}

// Config holds client configuration
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
	Logger      *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        8000,
		DialTimeout: 5 * time.Second,
	}
}

// New creates a client. No connection is made until the first call.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.Host == "" {
		config.Host = def.Host
	}
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{cfg: config, logger: config.Logger}
}

// Addr is the supervisor address.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// RemoteError is an error response returned by the server.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("action %q: %s", e.Action, e.Message)
}

// Send performs action with the default reconnect budget.
func (c *Client) Send(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	return c.SendWithReconnect(ctx, action, payload, DefaultReconnect)
}

// SendWithReconnect writes one request and returns the response payload.
// When the peer drops the connection mid-call the client reconnects and
// retries, at most allowReconnect times.
func (c *Client) SendWithReconnect(ctx context.Context, action string, payload any, allowReconnect int) (json.RawMessage, error) {
	frame, err := json.Marshal(control.Request{Action: action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	frame = append(frame, control.Delimiter...)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		raw, err := c.roundTrip(ctx, frame)
		if err == nil {
			return decodeResponse(action, raw)
		}
		c.resetLocked()
		if !isDisconnect(err) || allowReconnect <= 0 || ctx.Err() != nil {
			return nil, err
		}
		allowReconnect--
		metrics.IncClientReconnect()
		c.logger.Debug("control connection lost, reconnecting", "addr", c.Addr(), "action", action, "remaining", allowReconnect, "error", err)
	}
}

func (c *Client) roundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	if c.conn == nil {
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.Addr())
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", c.Addr(), err)
		}
		c.conn = conn
		c.sc = control.NewScanner(conn)
	}
	conn := c.conn
	// cancellation interrupts blocked I/O through the deadline
	_ = conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return nil, ctxErr(ctx, err)
	}
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return nil, ctxErr(ctx, err)
		}
		return nil, io.ErrUnexpectedEOF
	}
	return append([]byte(nil), c.sc.Bytes()...), nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func decodeResponse(action string, raw []byte) (json.RawMessage, error) {
	var resp control.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &RemoteError{Action: action, Message: *resp.Error}
	}
	return resp.Payload, nil
}

// isDisconnect reports whether err means the peer went away.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.sc = nil, nil
}

// Close drops the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}

// Call sends action and decodes the response payload into T.
func Call[T any](ctx context.Context, c *Client, action string, payload any) (T, error) {
	var out T
	raw, err := c.Send(ctx, action, payload)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", action, err)
	}
	return out, nil
}
