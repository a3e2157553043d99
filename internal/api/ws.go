package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/scene"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4096
)

// wsOut is a server-to-client websocket message.
type wsOut struct {
	Type  string       `json:"type"`
	Frame *scene.Frame `json:"frame,omitempty"`
	Error string       `json:"error,omitempty"`
}

func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// websocketHandler streams frame snapshots to the client and applies the
// pointer messages it sends. A frame is sent only when its revision
// changed.
func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.cfg.Metrics.ClientConnected(1)
	defer s.cfg.Metrics.ClientConnected(-1)

	frames, unsubscribe := s.loop.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errs := make(chan error, 8)
	go s.readPointer(ctx, cancel, conn, errs)

	write := func(msg wsOut) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	f, err := s.loop.Snapshot(ctx)
	if err != nil {
		return
	}
	if err := write(wsOut{Type: "frame", Frame: &f}); err != nil {
		return
	}
	last := f.Revision

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case f := <-frames:
			if f.Revision == last {
				continue
			}
			last = f.Revision
			if err := write(wsOut{Type: "frame", Frame: &f}); err != nil {
				return
			}
		case err := <-errs:
			if err := write(wsOut{Type: "error", Error: err.Error()}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPointer applies client messages until the connection fails, then
// cancels the writer.
func (s *server) readPointer(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, errs chan<- error) {
	defer cancel()
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg pointerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := s.loop.Do(ctx, msg.apply); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errs <- err:
			default:
			}
		}
	}
}
