// Package httpserver exposes the HTTP surface: health checking, the chat SSE
// proxy, text-to-speech synthesis and the WebSocket call endpoint.
package httpserver

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/call"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/config"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/dify"
)

// ChatStreamer streams one chat exchange, delivering results via callbacks.
type ChatStreamer interface {
	Stream(ctx context.Context, req dify.Request, cb dify.Callbacks)
}

// Synthesizer produces MPEG audio for a piece of text.
type Synthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Deps are the outbound collaborators the handlers need.
type Deps struct {
	Chat ChatStreamer
	TTS  Synthesizer
}

// New creates the configured Echo server with all routes registered.
func New(cfg config.Config, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := &handler{cfg: cfg, deps: deps}

	e.GET("/healthz", h.health)
	e.POST("/api/chat", h.chat)
	e.POST("/api/tts", h.synthesize)
	e.GET("/api/call", h.callSession)

	return e
}

type handler struct {
	cfg  config.Config
	deps Deps
}

// chatAdapter bridges the coordinator's chat interface onto the Dify client.
type chatAdapter struct {
	client ChatStreamer
}

func (a chatAdapter) Stream(ctx context.Context, req call.ChatRequest, cb call.ChatCallbacks) {
	a.client.Stream(ctx, dify.Request{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	}, dify.Callbacks{
		OnFragment: cb.OnFragment,
		OnComplete: func(r dify.Result) {
			cb.OnComplete(call.ChatResult{
				FullText:       r.FullText,
				ConversationID: r.ConversationID,
				MessageID:      r.MessageID,
			})
		},
		OnError: cb.OnError,
	})
}
