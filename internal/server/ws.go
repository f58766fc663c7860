package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// handleEvents streams session events to the tab. The first message is the
// current control state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		sess.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := sess.hub.subscribe()
	defer unsubscribe()
	sess.attach()
	defer s.release(sess)

	// The tab never sends; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := writeEvent(ctx, conn, Event{Type: EventControls, Controls: sess.controls.States()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				sess.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
