// Package wsbridge implements the bridge contracts over a WebSocket
// connection carrying JSON frames correlated by request id.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/kingrea/arcade/internal/bridge"
)

const (
	// DefaultDialTimeout bounds the initial handshake.
	DefaultDialTimeout = 10 * time.Second

	frameBackToSystem          = "back_to_system"
	frameBackToSystemWithError = "back_to_system_with_error"
)

var (
	// ErrNotConnected is reported for operations submitted before Connect.
	ErrNotConnected = errors.New("wsbridge: not connected")
	// ErrClosed is reported for operations submitted after Close.
	ErrClosed = errors.New("wsbridge: connection closed")
)

// Frame is one JSON message on the wire, in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Status    int             `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Failed reports whether an inbound frame rejects its request.
func (f Frame) Failed() bool {
	return f.Status >= 400 || f.Error != ""
}

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Settings configures the remote endpoint.
type Settings struct {
	URL         string
	Origin      string
	DialTimeout time.Duration
}

// Option customizes Client construction.
type Option func(*Client)

// WithLogger injects a logger for transport diagnostics.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIDGenerator overrides request id generation (tests).
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

type call struct {
	operation string
	onSuccess bridge.SuccessFunc
	onFailure bridge.FailureFunc
}

// Client satisfies bridge.Bridge, bridge.Handoff and bridge.Connector.
type Client struct {
	settings Settings
	logger   Logger
	newID    func() string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pending map[string]call
	closed  bool
	done    chan struct{}
}

// New prepares a client. No connection is made until Connect.
func New(settings Settings, opts ...Option) *Client {
	if settings.DialTimeout <= 0 {
		settings.DialTimeout = DefaultDialTimeout
	}
	c := &Client{
		settings: settings,
		logger:   nopLogger{},
		newID:    uuid.NewString,
		pending:  map[string]call{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect dials the remote endpoint and starts the reader.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("wsbridge: client is nil")
	}
	origin := c.settings.Origin
	if origin == "" {
		origin = "http://localhost/"
	}
	cfg, err := websocket.NewConfig(c.settings.URL, origin)
	if err != nil {
		return fmt.Errorf("wsbridge: config %s: %w", c.settings.URL, err)
	}
	cfg.Dialer = &net.Dialer{Timeout: c.settings.DialTimeout}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("wsbridge: dial %s: %w", c.settings.URL, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("wsbridge: already connected")
	}
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	c.logger.Printf("wsbridge: connected to %s", c.settings.URL)
	return nil
}

// Submit sends operation and registers its callbacks under a fresh request id.
func (c *Client) Submit(operation string, payload any, onSuccess bridge.SuccessFunc, onFailure bridge.FailureFunc) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fail(onFailure, 400, fmt.Sprintf("encode %s payload: %v", operation, err))
		return
	}
	id := c.newID()
	c.mu.Lock()
	conn := c.conn
	switch {
	case c.closed:
		c.mu.Unlock()
		fail(onFailure, bridge.CodeUnavailable, ErrClosed.Error())
		return
	case conn == nil:
		c.mu.Unlock()
		fail(onFailure, bridge.CodeUnavailable, ErrNotConnected.Error())
		return
	}
	c.pending[id] = call{operation: operation, onSuccess: onSuccess, onFailure: onFailure}
	c.mu.Unlock()

	if err := c.send(conn, Frame{Type: operation, RequestID: id, Payload: raw}); err != nil {
		if pending, ok := c.take(id); ok {
			fail(pending.onFailure, bridge.CodeUnavailable, err.Error())
		}
		return
	}
	c.logger.Printf("wsbridge: sent %s (%s)", operation, id)
}

// ReturnToSystem tells the host to take over and closes the connection.
func (c *Client) ReturnToSystem() {
	c.handoff(Frame{Type: frameBackToSystem})
}

// ReturnToSystemWithError hands control back together with a failure.
func (c *Client) ReturnToSystemWithError(code int, message string) {
	raw, _ := json.Marshal(bridge.ErrorReturn{Code: strconv.Itoa(code), Message: message})
	c.handoff(Frame{Type: frameBackToSystemWithError, Payload: raw})
}

// StartHealthCheck submits a health probe every interval until ctx ends or
// a probe fails. onFailure runs at most once. A probe still unanswered when
// the next one is due counts as a failure.
func (c *Client) StartHealthCheck(ctx context.Context, interval time.Duration, onFailure bridge.FailureFunc) {
	if interval <= 0 {
		return
	}
	failed := make(chan struct{})
	var once sync.Once
	report := func(code int, message string) {
		once.Do(func() {
			close(failed)
			if onFailure != nil {
				onFailure(code, message)
			}
		})
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var answered chan struct{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-failed:
				return
			case <-ticker.C:
				if answered != nil {
					select {
					case <-answered:
					default:
						report(bridge.CodeUnavailable, "health check unanswered")
						return
					}
				}
				ch := make(chan struct{})
				answered = ch
				c.Submit(bridge.OpHealthCheck, nil, func(bridge.Response) { close(ch) }, report)
			}
		}
	}()
}

// Close drops the connection and fails every outstanding request.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()
	c.failAll(ErrClosed.Error())
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Outstanding reports how many requests await an answer.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) handoff(frame Frame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Printf("wsbridge: %s dropped: %v", frame.Type, ErrNotConnected)
		return
	}
	if err := c.send(conn, frame); err != nil {
		c.logger.Printf("wsbridge: %s: %v", frame.Type, err)
	}
	_ = c.Close()
}

func (c *Client) send(conn *websocket.Conn, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := websocket.JSON.Send(conn, frame); err != nil {
		return fmt.Errorf("wsbridge: send %s: %w", frame.Type, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if !closed {
				c.logger.Printf("wsbridge: receive: %v", err)
				_ = conn.Close()
			}
			c.failAll("connection closed")
			return
		}
		if frame.RequestID == "" {
			c.logger.Printf("wsbridge: ignoring unsolicited %s frame", frame.Type)
			continue
		}
		pending, ok := c.take(frame.RequestID)
		if !ok {
			c.logger.Printf("wsbridge: no request waiting for %s", frame.RequestID)
			continue
		}
		if frame.Failed() {
			code := frame.Status
			if code == 0 {
				code = 500
			}
			fail(pending.onFailure, code, frame.Error)
			continue
		}
		if pending.onSuccess != nil {
			pending.onSuccess(bridge.Response{RequestID: frame.RequestID, Payload: frame.Payload})
		}
	}
}

func (c *Client) take(id string) (call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return pending, ok
}

func (c *Client) failAll(message string) {
	c.mu.Lock()
	calls := c.pending
	c.pending = map[string]call{}
	c.mu.Unlock()
	for _, pending := range calls {
		fail(pending.onFailure, bridge.CodeUnavailable, message)
	}
}

func fail(fn bridge.FailureFunc, code int, message string) {
	if fn != nil {
		fn(code, message)
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
