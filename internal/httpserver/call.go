package httpserver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/call"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/voice"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware handles origin policy for the REST routes; the
		// kiosk frontend may be served from a different origin.
		return true
	},
}

// callSession upgrades to WebSocket and runs one voice call until the client
// hangs up or the connection drops.
func (h *handler) callSession(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logrus.WithError(err).Warn("httpserver: ws upgrade failed")
		return nil // Upgrade already wrote the response
	}

	bridge := voice.New(conn, h.deps.TTS)
	defer bridge.Close()

	coordinator := call.New(call.Config{
		DebounceWindow: h.cfg.CallDebounce,
		UserID:         h.cfg.CallUserID,
	}, bridge, bridge, chatAdapter{client: h.deps.Chat}, bridge.Events())

	if err := coordinator.StartCall(c.Request().Context()); err != nil {
		logrus.WithError(err).Warn("httpserver: call start failed")
		return nil
	}
	bridge.Run(coordinator)
	return nil
}
