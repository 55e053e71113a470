package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/hub"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// wsConn adapts a websocket connection to registry.Conn. Send is only called
// from the registry's delivery goroutine, so writes are never concurrent.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(msg registry.Message) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return c.ws.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.registry.Register(&wsConn{ws: ws}, "")
	log := s.logger.With(zap.String(logger.FieldSubscription, sub.ID))
	log.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.registry.Unregister(sub.ID)
		log.Info("client disconnected")
	}()

	if err := s.hub.Submit(ctx, hub.Sync(sub.ID)); err != nil {
		log.Warn("queueing greeting", zap.Error(err))
		return
	}

	go s.keepalive(ctx, ws, sub)
	s.readLoop(ctx, ws, sub.ID, log)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, id string, log *zap.Logger) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := hub.DecodeEvent(data, id)
		if err == nil {
			err = s.hub.Submit(ctx, ev)
		}
		if err != nil {
			log.Debug("client event rejected",
				zap.String(logger.FieldEventType, string(ev.Type)),
				zap.Error(err),
			)
			if sendErr := s.registry.SendTo(id, hub.ErrorMessage(ev.Type, err)); sendErr != nil {
				return
			}
		}
	}
}

// keepalive pings the client until the subscription ends. WriteControl may
// run concurrently with the delivery goroutine's writes.
func (s *Server) keepalive(ctx context.Context, ws *websocket.Conn, sub *registry.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
