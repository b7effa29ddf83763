package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/httpserve"
	"github.com/lotas/threadsum/internal/types"
)

type requestFrame struct {
	ID string `json:"id"`
	Message
}

type replyFrame struct {
	ID string `json:"id"`
	Reply
}

// Server exposes a Relay over WebSocket. Every request frame gets exactly
// one reply frame with the same id.
type Server struct {
	port  int
	relay *Relay

	mu    sync.Mutex
	conns int
}

// NewServer creates a Server. Port 0 means the caller manages the listener.
func NewServer(port int, r *Relay) *Server {
	return &Server{port: port, relay: r}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Connections returns the number of attached content sides.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("relay.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // 16 MB

		ctx, cancel := context.WithCancel(r.Context())
		var wg sync.WaitGroup

		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		applog.Info("relay.connected", "remote", r.RemoteAddr)

		defer func() {
			cancel()
			wg.Wait()
			s.mu.Lock()
			s.conns--
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("relay.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame requestFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				applog.Error("relay.parse", err)
				// Answer anything that still carries an id.
				var probe struct {
					ID string `json:"id"`
				}
				if json.Unmarshal(data, &probe) == nil && probe.ID != "" {
					s.write(ctx, conn, replyFrame{ID: probe.ID, Reply: errorReply(types.KindInvalidRequest, 0, "malformed request")})
				}
				continue
			}
			if frame.ID == "" {
				applog.Info("relay.missing_id", "action", frame.Action)
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				reply := s.relay.Handle(ctx, frame.Message)
				s.write(ctx, conn, replyFrame{ID: frame.ID, Reply: reply})
			}()
		}
	})
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, frame replyFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		applog.Error("relay.marshal", err, "id", frame.ID)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		applog.Error("relay.write", err, "id", frame.ID)
		return
	}
	applog.Info("relay.reply", "id", frame.ID, "ok", frame.Error == "")
}

// ListenAndServe starts the relay on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())
	return httpserve.ListenAndServe(ctx, "relay", fmt.Sprintf("127.0.0.1:%d", s.port), mux)
}
