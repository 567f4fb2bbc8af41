package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/dify"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/tts"
)

const msgSynthesisFailed = "Không thể tạo giọng nói. Vui lòng thử lại sau."

func (h *handler) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type chatRequest struct {
	Message        string `json:"message"`
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	User           string `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ssePayload mirrors the upstream event shape so existing clients keep their
// parsing untouched.
type ssePayload struct {
	Event          string `json:"event"`
	Answer         string `json:"answer,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// chat proxies one streaming chat exchange as server-sent events. Errors
// before the first fragment become a JSON response with the user-facing
// message; errors after streaming started are delivered as an SSE error
// event since the status line is already gone.
func (h *handler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: dify.StatusMessage(http.StatusBadRequest)})
	}
	query := req.Message
	if query == "" {
		query = req.Query
	}
	if query == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: dify.StatusMessage(http.StatusBadRequest)})
	}
	user := req.User
	if user == "" {
		user = h.cfg.CallUserID
	}

	res := c.Response()
	streaming := false
	startStream := func() {
		if streaming {
			return
		}
		streaming = true
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
	}
	writeEvent := func(p ssePayload) {
		data, err := json.Marshal(p)
		if err != nil {
			return
		}
		fmt.Fprintf(res, "data: %s\n\n", data)
		res.Flush()
	}

	var streamErr error
	h.deps.Chat.Stream(c.Request().Context(), dify.Request{
		Query:          query,
		ConversationID: req.ConversationID,
		UserID:         user,
	}, dify.Callbacks{
		OnFragment: func(delta string) {
			startStream()
			writeEvent(ssePayload{Event: "message", Answer: delta})
		},
		OnComplete: func(r dify.Result) {
			startStream()
			writeEvent(ssePayload{
				Event:          "message_end",
				ConversationID: r.ConversationID,
				MessageID:      r.MessageID,
			})
			fmt.Fprint(res, "data: [DONE]\n\n")
			res.Flush()
		},
		OnError: func(err error) { streamErr = err },
	})

	if streamErr != nil {
		if streaming {
			writeEvent(ssePayload{Event: "error", Message: dify.UserMessage(streamErr)})
			return nil
		}
		return c.JSON(chatErrorStatus(streamErr), errorResponse{Error: dify.UserMessage(streamErr)})
	}
	return nil
}

// chatErrorStatus picks the response status for a failed chat request:
// upstream HTTP statuses pass through, everything else is a bad gateway.
func chatErrorStatus(err error) int {
	var de *dify.Error
	if errors.As(err, &de) && de.StatusCode >= 400 {
		return de.StatusCode
	}
	return http.StatusBadGateway
}

type ttsRequest struct {
	Text string `json:"text"`
}

// synthesize converts text to speech and returns the raw MPEG bytes.
func (h *handler) synthesize(c echo.Context) error {
	var req ttsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: dify.StatusMessage(http.StatusBadRequest)})
	}

	audio, err := h.deps.TTS.Synthesize(c.Request().Context(), req.Text)
	if err != nil {
		if errors.Is(err, tts.ErrEmptyText) || errors.Is(err, tts.ErrTextTooLong) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		logrus.WithError(err).Warn("httpserver: synthesis failed")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: msgSynthesisFailed})
	}
	return c.Blob(http.StatusOK, "audio/mpeg", audio)
}
