package page

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/classify"
	"github.com/lotas/threadsum/internal/httpserve"
)

// FeedFrame is a message from the browser extension.
type FeedFrame struct {
	Type     string `json:"type"` // "snapshot" or "url"
	URL      string `json:"url,omitempty"`
	HTML     string `json:"html,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Feed is a Source fed by a browser extension over WebSocket.
type Feed struct {
	port      int
	mutations chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	current Snapshot
	seen    bool
}

// NewFeed creates a Feed. Port 0 means the caller manages the listener.
func NewFeed(port int) *Feed {
	return &Feed{
		port:      port,
		mutations: make(chan struct{}, 1),
	}
}

// Port returns the configured port.
func (f *Feed) Port() int {
	return f.port
}

// Connected reports whether an extension is connected.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// URL returns the last URL reported by the extension.
func (f *Feed) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.URL
}

// Snapshot returns the latest document pushed by the extension.
func (f *Feed) Snapshot(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.seen {
		return Snapshot{}, ErrNoSnapshot
	}
	return f.current, nil
}

// Mutations fires after every applied frame. Bursts collapse into one
// pending signal.
func (f *Feed) Mutations() <-chan struct{} {
	return f.mutations
}

// Apply updates the current document from a frame.
func (f *Feed) Apply(frame FeedFrame) error {
	switch frame.Type {
	case "snapshot":
		html, err := DecodeHTML(frame.HTML, frame.Encoding)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.current = Snapshot{URL: frame.URL, HTML: html}
		f.seen = true
		f.mu.Unlock()
	case "url":
		f.mu.Lock()
		f.current.URL = frame.URL
		f.mu.Unlock()
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	f.signal()
	return nil
}

func (f *Feed) signal() {
	select {
	case f.mutations <- struct{}{}:
	default:
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("feed.accept", err)
			return
		}

		conn.SetReadLimit(32 << 20) // 32 MB: long threads produce large documents

		ctx := r.Context()
		f.mu.Lock()
		if f.conn != nil {
			applog.Info("feed.replaced")
			f.conn.CloseNow()
		}
		f.conn = conn
		f.mu.Unlock()

		applog.Info("feed.connected", "remote", r.RemoteAddr)

		defer func() {
			f.mu.Lock()
			if f.conn == conn {
				f.conn = nil
			}
			f.mu.Unlock()
			conn.CloseNow()
			applog.Info("feed.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame FeedFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				applog.Error("feed.parse", err)
				continue
			}
			if err := f.Apply(frame); err != nil {
				applog.Error("feed.apply", err, "type", frame.Type)
				continue
			}
			applog.Debug("feed.recv", "type", frame.Type, "source", classify.DetectSource(frame.URL))
		}
	})
}

// ListenAndServe starts the feed endpoint on the configured port.
func (f *Feed) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", f.Handler())
	return httpserve.ListenAndServe(ctx, "feed", fmt.Sprintf("127.0.0.1:%d", f.port), mux)
}
