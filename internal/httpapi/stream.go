package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local control plane
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStatusStream upgrades to a websocket and forwards status events for
// the key query parameter (a run id, or the active-run key by default). A run
// stream closes after its terminal event; the active-run stream stays open.
func (s *Server) handleStatusStream(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		key = status.ActiveKey
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	sub, unsubscribe := s.publisher.Subscribe(key)
	defer unsubscribe()

	// Reader goroutine only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var cursor status.Cursor
	for {
		select {
		case <-gone:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !cursor.Accept(ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", zap.String("key", key), zap.Error(err))
				return nil
			}
			if key != status.ActiveKey && ev.Status.State.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Status.State))
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return nil
			}
		}
	}
}
