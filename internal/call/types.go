package call

import (
	"context"
	"time"
)

// State is the coordinator's phase within an active call.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateEnded      State = "ended"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus tracks a turn through its lifecycle. Sent and failed are
// terminal; a turn is immutable once it reaches either.
type TurnStatus string

const (
	TurnPending TurnStatus = "pending"
	TurnSent    TurnStatus = "sent"
	TurnFailed  TurnStatus = "failed"
)

// Turn is one exchange entry in the append-only message log.
type Turn struct {
	ID             string
	Role           Role
	Text           string
	CreatedAt      time.Time
	ConversationID string
	MessageID      string
	Status         TurnStatus
}

// SpeechSource controls continuous speech capture. Transcript updates flow
// back through Coordinator.HandleTranscript. Start and Stop must not block;
// implementations queue their control messages.
type SpeechSource interface {
	Start() error
	Stop()
}

// Playback is a handle on one in-flight audio playback.
type Playback interface {
	// Done yields exactly one value when playback finishes: nil for a
	// normal end, non-nil for a playback failure.
	Done() <-chan error
	// Cancel stops playback immediately and discards queued audio.
	// It is safe to call more than once.
	Cancel()
}

// Synthesizer turns text into audible output. Speak may block on synthesis
// I/O; the coordinator calls it from its own goroutine. Implementations own
// the fallback path when the primary synthesis provider is unreachable.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (Playback, error)
}

// ChatRequest mirrors one outbound chat turn to the streaming backend.
type ChatRequest struct {
	Query          string
	ConversationID string
	UserID         string
}

// ChatResult is the completed answer for a request.
type ChatResult struct {
	FullText       string
	ConversationID string
	MessageID      string
}

// ChatCallbacks deliver the streamed answer. At most one of
// OnComplete/OnError fires per request; none fire after ctx is cancelled.
type ChatCallbacks struct {
	OnFragment func(delta string)
	OnComplete func(ChatResult)
	OnError    func(err error)
}

// ChatStreamer is the seam to the chat session client. Stream blocks until
// the request finishes, fails or ctx is cancelled.
type ChatStreamer interface {
	Stream(ctx context.Context, req ChatRequest, cb ChatCallbacks)
}

// Events let the host observe the session. Callbacks are invoked
// synchronously from coordinator goroutines; they must not block and must
// not call back into the Coordinator. All fields are optional.
type Events struct {
	OnStateChange       func(State)
	OnTurn              func(Turn)
	OnAssistantFragment func(delta string)
	OnTranscript        func(text string, final bool)
	OnError             func(err error)
}

// Config tunes the turn-taking behavior.
type Config struct {
	// Greeting is spoken when the call starts.
	Greeting string
	// DebounceWindow is the silence window after a final transcript before
	// it is committed and sent. Recognizers emit several "final" results for
	// one continuous utterance; committing too early truncates user turns.
	DebounceWindow time.Duration
	// BargeInGrace delays the speech capture restart after an interruption
	// so the user can finish speaking before capture resumes.
	BargeInGrace time.Duration
	// MinSendLength is the minimum trimmed transcript length (in runes)
	// worth sending.
	MinSendLength int
	// BargeInMinLength is the trimmed length a final transcript must exceed
	// to count as an interruption while the assistant is speaking.
	BargeInMinLength int
	// UserID identifies the caller to the chat backend.
	UserID string
}

const (
	defaultGreeting       = "Xin chào! Tôi có thể giúp gì cho bạn?"
	defaultDebounceWindow = 1200 * time.Millisecond
	defaultBargeInGrace   = 500 * time.Millisecond
	defaultMinSendLength  = 3
	defaultBargeInMin     = 2
)

func (c Config) withDefaults() Config {
	if c.Greeting == "" {
		c.Greeting = defaultGreeting
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounceWindow
	}
	if c.BargeInGrace <= 0 {
		c.BargeInGrace = defaultBargeInGrace
	}
	if c.MinSendLength <= 0 {
		c.MinSendLength = defaultMinSendLength
	}
	if c.BargeInMinLength <= 0 {
		c.BargeInMinLength = defaultBargeInMin
	}
	if c.UserID == "" {
		c.UserID = "user-001"
	}
	return c
}
