package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/stream"
)

// requestTimeout bounds the whole request including the streamed body read.
// Past it the request is treated as a network timeout.
const requestTimeout = 30 * time.Second

// uuidRe matches the strict 8-4-4-4-12 hex shape the backend requires for
// conversation identifiers. Placeholder ids (demo values) fail this and the
// field is simply omitted, starting a fresh conversation.
var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Request describes one outbound chat turn.
type Request struct {
	Query          string
	ConversationID string
	UserID         string
}

// Result is delivered once per successful request.
type Result struct {
	FullText       string
	ConversationID string
	MessageID      string
}

// Callbacks receive the streamed answer. Exactly one of OnComplete/OnError
// fires per request, or neither when the context is cancelled first. No
// callback fires after cancellation.
type Callbacks struct {
	OnFragment func(delta string)
	OnComplete func(Result)
	OnError    func(err error)
}

type chatMessagesBody struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
}

// Client issues streaming chat requests against a Dify-compatible backend.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

// NewClient constructs a Client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: requestTimeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
	}
}

// ValidConversationID reports whether id can be sent upstream.
func ValidConversationID(id string) bool {
	return uuidRe.MatchString(id)
}

// Stream opens one chat request and drives decoding to completion. It blocks
// until the stream finishes, fails or ctx is cancelled; run it from its own
// goroutine when the caller must stay responsive.
func (c *Client) Stream(ctx context.Context, req Request, cb Callbacks) {
	if c.BaseURL == "" || c.APIKey == "" {
		deliverError(ctx, cb, configError("api base url or key missing"))
		return
	}

	body := chatMessagesBody{
		Inputs:       map[string]any{},
		Query:        req.Query,
		ResponseMode: "streaming",
		User:         req.UserID,
	}
	if ValidConversationID(req.ConversationID) {
		body.ConversationID = req.ConversationID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		deliverError(ctx, cb, fmt.Errorf("dify: encode request: %w", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat-messages", bytes.NewReader(payload))
	if err != nil {
		deliverError(ctx, cb, fmt.Errorf("dify: build request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		deliverError(ctx, cb, transportError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logrus.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(b)}).Warn("dify: upstream error")
		deliverError(ctx, cb, httpError(resp.StatusCode, string(b)))
		return
	}

	dec := stream.NewDecoder(func(ev stream.Event) {
		if ctx.Err() != nil {
			return
		}
		switch ev.Kind {
		case stream.KindFragment:
			if cb.OnFragment != nil {
				cb.OnFragment(ev.Text)
			}
		case stream.KindEnd:
			if cb.OnComplete != nil {
				cb.OnComplete(Result{
					FullText:       ev.Text,
					ConversationID: ev.ConversationID,
					MessageID:      ev.MessageID,
				})
			}
		}
	})

	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return
			}
			dec.Write(buf[:n])
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			if rerr == io.EOF {
				dec.Close()
				return
			}
			deliverError(ctx, cb, transportError(fmt.Errorf("dify: read stream: %w", rerr)))
			return
		}
	}
}

func deliverError(ctx context.Context, cb Callbacks, err error) {
	if ctx.Err() != nil {
		return
	}
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
