// Package devtools is a minimal DevTools-protocol client speaking directly
// over the browser WebSocket endpoint. It carries only what the capture
// subsystem needs: flattened target sessions, JS evaluation, runtime
// bindings for page-to-agent events, and viewport screenshots. Heavier
// session initialisation (auto-attach, target discovery) destabilises some
// browser builds, so it is deliberately avoided.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// EventFunc handles one protocol event on a session.
type EventFunc func(sessionID string, params json.RawMessage)

type eventHandler struct {
	id int64
	fn EventFunc
}

// Client is a connection to one browser's DevTools endpoint.
type Client struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

// NewClient creates a client for the given DevTools HTTP base URL.
func NewClient(httpBase string) *Client {
	return &Client{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// Connect dials the browser-level WebSocket endpoint. Safe to call when
// already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("devtools: browser ws url: %w", err)
	}

	slog.Debug("devtools connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("devtools: dial: %w", err)
	}

	c.conn = conn
	c.pending = make(map[int64]chan json.RawMessage)
	go c.readLoop()
	return nil
}

// Close drops the WebSocket connection and fails all pending calls.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Connected reports whether the browser WebSocket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("devtools read loop exit", "error", err)
			c.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (c *Client) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("devtools: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("devtools: marshal: %w", err)
	}

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("devtools: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("devtools: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}

// Send issues a browser-level command and waits for the matching response.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.seq.Add(1)
	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}
	return c.sendRaw(ctx, id, req)
}

// SendSession issues a command on a flattened session and unwraps the inner
// result, converting protocol-level errors into Go errors.
func (c *Client) SendSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := c.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return resp, nil
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("devtools: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// OnEvent registers a handler for a protocol event method. Returns an
// unregister function.
func (c *Client) OnEvent(method string, fn EventFunc) func() {
	id := c.seq.Add(1)
	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) dispatchEvent(method, sessionID string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[method]))
	copy(handlers, c.eventHandlers[method])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

func (c *Client) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("devtools: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("devtools: decode /json/version: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools: /json/version returned no debugger URL")
	}
	return info.WebSocketDebuggerURL, nil
}

// ListTargets fetches open page targets via the HTTP /json/list endpoint.
func (c *Client) ListTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, c.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}
