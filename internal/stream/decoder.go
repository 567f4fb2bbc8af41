package stream

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// dataPrefix frames every meaningful line of the chat stream. Lines without
// it are transport noise (comments, blank keep-alives) and are skipped.
const dataPrefix = "data: "

// doneSentinel is sent by the backend as a literal payload instead of JSON.
const doneSentinel = "[DONE]"

// Kind classifies decoder events.
type Kind int

const (
	// KindFragment carries an incremental answer delta.
	KindFragment Kind = iota
	// KindMetadata signals that conversation or message identifiers changed.
	KindMetadata
	// KindEnd is terminal and carries the full accumulated answer.
	KindEnd
)

// Event is one semantic event decoded from the chat stream.
type Event struct {
	Kind           Kind
	Text           string // delta for fragments, full answer for end
	ConversationID string
	MessageID      string
}

// Accumulator holds per-request decode state. It is created at request start
// and discarded when the request completes, fails or is cancelled.
type Accumulator struct {
	rawBuffer      string
	fullText       strings.Builder
	conversationID string
	messageID      string
}

// payload mirrors the fields we care about in a Dify stream event.
// Identifier fields may appear on any event kind, not just messages.
type payload struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	ID             string `json:"id"`
}

// Decoder converts raw stream chunks into ordered Events. It is not safe for
// concurrent use; the owning request goroutine feeds it sequentially.
type Decoder struct {
	acc    Accumulator
	emit   func(Event)
	closed bool
}

// NewDecoder returns a Decoder that delivers events through emit.
func NewDecoder(emit func(Event)) *Decoder {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Decoder{emit: emit}
}

// Write feeds the next chunk of the response body in arrival order.
// Complete lines are consumed immediately; the remainder stays buffered, so
// the buffer never contains an unconsumed newline.
func (d *Decoder) Write(chunk []byte) {
	if d.closed || len(chunk) == 0 {
		return
	}
	d.acc.rawBuffer += string(chunk)
	for {
		idx := strings.IndexByte(d.acc.rawBuffer, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimSpace(d.acc.rawBuffer[:idx])
		d.acc.rawBuffer = d.acc.rawBuffer[idx+1:]
		d.processLine(line)
	}
}

// Close flushes any unterminated trailing line and emits the terminal end
// event. Streams may end without a final newline, so the tail is processed
// exactly like a complete line.
func (d *Decoder) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if tail := strings.TrimSpace(d.acc.rawBuffer); strings.HasPrefix(tail, dataPrefix) {
		d.processLine(tail)
	}
	d.acc.rawBuffer = ""
	d.emit(Event{
		Kind:           KindEnd,
		Text:           d.acc.fullText.String(),
		ConversationID: d.acc.conversationID,
		MessageID:      d.acc.messageID,
	})
}

// FullText returns the answer accumulated so far.
func (d *Decoder) FullText() string { return d.acc.fullText.String() }

// ConversationID returns the most recently seen conversation identifier.
func (d *Decoder) ConversationID() string { return d.acc.conversationID }

// MessageID returns the most recently seen message identifier.
func (d *Decoder) MessageID() string { return d.acc.messageID }

func (d *Decoder) processLine(line string) {
	if !strings.HasPrefix(line, dataPrefix) {
		return
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if data == "" || data == doneSentinel {
		return
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		// A single malformed event must not corrupt the session.
		logrus.WithError(err).WithField("line", data).Debug("stream: dropping malformed event")
		return
	}

	if p.Event == "message" && p.Answer != "" {
		d.acc.fullText.WriteString(p.Answer)
		d.emit(Event{Kind: KindFragment, Text: p.Answer})
	}

	// Identifiers are last-write-wins across all event kinds.
	updated := false
	if p.ConversationID != "" {
		d.acc.conversationID = p.ConversationID
		updated = true
	}
	if id := firstNonEmpty(p.MessageID, p.ID); id != "" {
		d.acc.messageID = id
		updated = true
	}
	if updated {
		d.emit(Event{
			Kind:           KindMetadata,
			ConversationID: d.acc.conversationID,
			MessageID:      d.acc.messageID,
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
