package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/lotas/threadsum/internal/applog"
)

// Conn is the content side of the WebSocket boundary. It dials lazily,
// matches replies to requests by frame id and delivers at most one reply per
// request.
type Conn struct {
	url string

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]chan Reply
	closed  bool
}

// NewConn returns a Conn for a relay at url (ws://127.0.0.1:19293/).
func NewConn(url string) *Conn {
	return &Conn{url: url, pending: make(map[string]chan Reply)}
}

// RoundTrip sends msg and waits for its reply. Any error is a channel-level
// failure: the relay was not reached or the connection dropped first.
func (c *Conn) RoundTrip(ctx context.Context, msg Message) (Reply, error) {
	ws, err := c.connect(ctx)
	if err != nil {
		return Reply{}, err
	}

	id := uuid.NewString()
	ch, ok := c.register(ws, id)
	if !ok {
		return Reply{}, ErrConnLost
	}

	data, err := json.Marshal(requestFrame{ID: id, Message: msg})
	if err != nil {
		c.forget(id)
		return Reply{}, fmt.Errorf("marshal frame: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.forget(id)
		c.drop(ws, err)
		return Reply{}, fmt.Errorf("send to relay: %w", err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Reply{}, ErrConnLost
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(id)
		return Reply{}, ctx.Err()
	}
}

func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.ws != nil {
		return c.ws, nil
	}

	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", c.url, err)
	}
	ws.SetReadLimit(16 << 20)
	c.ws = ws
	applog.Info("relay.dialed", "url", c.url)
	go c.readLoop(ws)
	return ws, nil
}

// register adds a waiter for id, unless ws was dropped since it was dialed.
// A waiter added after drop would never be closed.
func (c *Conn) register(ws *websocket.Conn, id string) (chan Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return nil, false
	}
	ch := make(chan Reply, 1)
	c.pending[id] = ch
	return ch, true
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			c.drop(ws, err)
			return
		}
		var frame replyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			applog.Error("relay.parse_reply", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		if !ok {
			applog.Info("relay.unmatched_reply", "id", frame.ID)
			continue
		}
		ch <- frame.Reply
	}
}

// drop forgets ws and fails every request still waiting on it.
func (c *Conn) drop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	waiting := c.pending
	c.pending = make(map[string]chan Reply)
	c.mu.Unlock()

	ws.CloseNow()
	if !c.isClosed() {
		applog.Error("relay.conn_lost", cause, "waiting", len(waiting))
	}
	for _, ch := range waiting {
		close(ch)
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects. Later round trips fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		c.drop(ws, ErrClosed)
	}
	return nil
}
