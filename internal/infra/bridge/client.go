// Package bridge implements the WebSocket client side of the host bridge
// protocol: a single shared connection to the external host daemon,
// single-flight connect, a pending-invoke correlation table, and
// disconnect semantics that reject every in-flight invoke at once.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"browsir/internal/domain"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Envelope is the wire shape exchanged with the host bridge daemon. It
// covers all three message shapes named in the bridge protocol: outbound
// invoke requests, inbound ok/error responses, and inbound events.
type Envelope struct {
	ID             uint64          `json:"id,omitempty"`
	Type           string          `json:"type,omitempty"` // "invoke" (outbound) or "event" (inbound)
	Tool           string          `json:"tool,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	SessionID      string          `json:"sessionId,omitempty"`
	ParentSessionID string         `json:"parentSessionId,omitempty"`
	AgentID        string          `json:"agentId,omitempty"`

	OK    *bool           `json:"ok,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`

	Event string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WireError is the error shape nested in a failed invoke response.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// EventHandler is invoked for every inbound event frame.
type EventHandler func(name string, payload json.RawMessage)

type pendingInvoke struct {
	resultCh chan invokeResult
}

type invokeResult struct {
	data json.RawMessage
	err  error
}

// Client owns one WebSocket connection to the host bridge daemon.
type Client struct {
	url   string
	token string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]*pendingInvoke
	nextID  atomic.Uint64
	connecting chan struct{} // non-nil while a Connect is in flight (single-flight)

	onEvent EventHandler
	logger  *slog.Logger
}

// NewClient constructs a bridge client. onEvent is called from the read
// loop goroutine for every inbound event frame; it must not block.
func NewClient(url, token string, onEvent EventHandler, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		token:   token,
		pending: make(map[uint64]*pendingInvoke),
		onEvent: onEvent,
		logger:  logger,
	}
}

// Connect establishes the shared connection, or waits for an in-flight
// connect to finish. With force=true, any existing connection is torn
// down and a fresh one is dialed regardless of current state.
func (c *Client) Connect(ctx context.Context, force bool) error {
	c.mu.Lock()
	if force && c.conn != nil {
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "reconnect requested")
		c.rejectAllPending(domain.ErrBridgeDisconnected)
		c.mu.Lock()
	}

	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	if c.connecting != nil {
		wait := c.connecting
		c.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = nil
		c.mu.Unlock()
		close(done)
	}()

	dialURL := c.url
	if c.token != "" {
		dialURL = fmt.Sprintf("%s?token=%s", c.url, c.token)
	}

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return domain.NewSubSystemError("bridge", "connect", domain.ErrBridgeDisconnected, err.Error())
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("bridge connected", "url", c.url)
	return nil
}

// Disconnect tears down the connection and rejects every pending invoke
// with E_BRIDGE_DISCONNECTED.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	c.rejectAllPending(domain.ErrBridgeDisconnected)
}

func (c *Client) rejectAllPending(sentinel error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingInvoke)
	c.mu.Unlock()

	for _, p := range pending {
		select {
		case p.resultCh <- invokeResult{err: sentinel}:
		default:
		}
	}
}

// Invoke sends one tool invocation and blocks until the correlated
// response arrives, the hint-derived client timeout elapses, or ctx is
// cancelled. clientTimeout is clamp(bridgeInvokeTimeoutMs, floor(hintTimeout)+2s)
// bounded by the configured hard max — computed by the caller and passed
// in so this package stays policy-free about timeout arithmetic.
func (c *Client) Invoke(ctx context.Context, tool string, args json.RawMessage, sessionID string, clientTimeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, domain.NewSubSystemError("bridge", "invoke", domain.ErrBridgeDisconnected, "not connected")
	}

	id := c.nextID.Add(1)
	p := &pendingInvoke{resultCh: make(chan invokeResult, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := Envelope{ID: id, Type: "invoke", Tool: tool, Args: args, SessionID: sessionID}
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	err := wsjson.Write(wctx, conn, req)
	wcancel()
	if err != nil {
		return nil, domain.NewSubSystemError("bridge", "invoke", domain.ErrBridgeDisconnected, err.Error())
	}

	timer := time.NewTimer(clientTimeout)
	defer timer.Stop()

	select {
	case res := <-p.resultCh:
		return res.data, res.err
	case <-timer.C:
		return nil, domain.NewSubSystemError("bridge", "invoke", domain.ErrClientTimeout, fmt.Sprintf("tool=%s after %s", tool, clientTimeout))
	case <-ctx.Done():
		return nil, domain.NewSubSystemError("bridge", "invoke", domain.ErrBridgeAborted, ctx.Err().Error())
	}
}

// AbortAll walks the pending-invoke table and rejects every entry with the
// given sentinel. Entries carry no session tag, so every in-flight invoke is
// rejected regardless of which session issued it.
func (c *Client) AbortAll(sentinel error) {
	c.rejectAllPending(sentinel)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			c.logger.Warn("bridge read loop ended", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			c.rejectAllPending(domain.ErrBridgeDisconnected)
			return
		}

		if env.Event != "" || env.Type == "event" {
			if c.onEvent != nil {
				c.onEvent(env.Event, env.Payload)
			}
			continue
		}

		c.mu.Lock()
		p, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if env.OK != nil && !*env.OK {
			var sentinel error
			code := ""
			if env.Error != nil {
				code = env.Error.Code
			}
			switch code {
			case "E_BUSY":
				sentinel = domain.ErrBridgeBusy
			case "E_TIMEOUT":
				sentinel = domain.ErrBridgeTimeout
			default:
				sentinel = domain.ErrTool
			}
			msg := ""
			if env.Error != nil {
				msg = env.Error.Message
			}
			p.resultCh <- invokeResult{err: domain.NewSubSystemError("bridge", "invoke", sentinel, msg)}
			continue
		}

		p.resultCh <- invokeResult{data: env.Data}
	}
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
