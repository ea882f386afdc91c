package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/middleware"
	"github.com/barrysci/stationtest-backend/internal/response"
	"github.com/barrysci/stationtest-backend/internal/session"
	ws "github.com/barrysci/stationtest-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams timer ticks and session transitions over WebSocket and
// accepts the same session actions as the REST surface, so a connected
// client can run the whole attempt on one socket.
type WSHandler struct {
	manager  *session.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *session.Manager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/tests/:test/stream
// Upgrades to WebSocket for timer ticks, expiry, advancement and completion
// events, plus inbound session actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	testName := c.Param("test")

	ctrl, ok := h.manager.Get(identity, testName)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("identity", identity).
		Str("test", testName).
		Logger()
	wsLog.Info().Msg("Client connected")

	events, cancel := ctrl.Subscribe()
	defer cancel()

	// Writer side: forward session events until the subscription closes.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for ev := range events {
			if err := ws.WriteTyped(conn, ev); err != nil {
				wsLog.Debug().Err(err).Msg("Event write failed")
				return
			}
		}
	}()

	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: ctrl.Snapshot()})

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.handleAction(conn, ctrl, &msg, wsLog)
	}

	cancel()
	<-writeDone
}

func (h *WSHandler) handleAction(conn *websocket.Conn, ctrl *session.Controller, msg *ws.RequestPayload, wsLog zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch msg.Action {
	case ws.ActionAnswer:
		err = ctrl.SetAnswer(ctx, msg.Question, msg.Value)
	case ws.ActionMark:
		err = ctrl.ToggleMark(ctx, msg.Question)
	case ws.ActionVisit:
		err = ctrl.Visit(ctx, msg.Question)
	case ws.ActionVisibility:
		err = ctrl.SetHidden(ctx, msg.Hidden)
	case ws.ActionAdvance:
		_, err = ctrl.Advance(ctx, msg.Confirmed)
		if err == nil {
			// Advanced/completed events already went out via the
			// subscription; follow with the full snapshot.
			ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: ctrl.Snapshot()})
			return
		}
	case ws.ActionPing:
		ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		return
	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		ws.WriteError(conn, "", "unknown action: "+string(msg.Action))
		return
	}

	if err != nil {
		_, code := mapSessionError(err)
		ws.WriteError(conn, string(code), err.Error())
		return
	}
	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: ctrl.Snapshot()})
}
