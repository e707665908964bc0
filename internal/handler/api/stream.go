package api

import (
	"net/http"
	"time"

	"DigitCast/internal/domain/models"
	"DigitCast/internal/usecase"
	xhttp "DigitCast/pkg/http"
	xlogger "DigitCast/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
)

// streamer pushes SessionView updates to websocket clients.
type streamer struct {
	logger   *xlogger.Logger
	sessions *usecase.SessionManager
	upgrader websocket.Upgrader
}

func newStreamer(logger *xlogger.Logger, sessions *usecase.SessionManager) *streamer {
	return &streamer{
		logger:   logger,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve sends the current view, then every view published for the session
// until the client goes away or the session is deleted.
func (s *streamer) Serve(c echo.Context) error {
	req := &models.SessionRef{ID: c.Param("id")}
	if verr := xhttp.ValidateStruct(c.Request().Context(), req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sess, err := s.sessions.Get(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	sub := s.sessions.Hub().Subscribe(req.ID)
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", xlogger.String("session_id", req.ID), xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	// reader: handles pongs and detects the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, sess.View()); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return nil
			}
			if err := s.write(conn, v); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

func (s *streamer) write(conn *websocket.Conn, v models.SessionView) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("stream write failed", xlogger.String("session_id", v.ID), xlogger.Error(err))
		return err
	}
	return nil
}
