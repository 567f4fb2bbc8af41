// Package call implements the phone-call style conversational loop: a state
// machine arbitrating between continuous speech capture, a streaming chat
// request and audio playback, so that at most one of them drives the
// conversation at a time.
package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/speech"
)

// ErrCallActive is returned by StartCall when a call is already running.
var ErrCallActive = errors.New("call already active")

// Coordinator owns the call session state. All mutations are serialized
// through its mutex; asynchronous completions (chat stream, playback end,
// debounce timer) re-enter through handler methods that are guarded by an
// epoch counter, so events belonging to a cancelled operation become no-ops.
type Coordinator struct {
	cfg    Config
	source SpeechSource
	tts    Synthesizer
	chat   ChatStreamer
	ev     Events

	mu                  sync.Mutex
	active              bool
	state               State
	conversationID      string
	pendingTranscript   string
	lastFinalTranscript string
	lastErr             error
	turns               []Turn

	// epoch invalidates in-flight async work. It is bumped on every
	// cancellation boundary: request start, playback start, barge-in and
	// call end. Async callbacks carry the epoch they were born under.
	epoch     uint64
	reqCancel context.CancelFunc
	playback  Playback

	debounce     *time.Timer
	debounceText string

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Coordinator. The collaborators must be non-nil.
func New(cfg Config, source SpeechSource, tts Synthesizer, chat ChatStreamer, ev Events) *Coordinator {
	return &Coordinator{
		cfg:    cfg.withDefaults(),
		source: source,
		tts:    tts,
		chat:   chat,
		ev:     ev,
		state:  StateIdle,
	}
}

// StartCall activates the session and speaks the greeting. When the greeting
// playback ends the coordinator transitions to listening and starts capture.
func (c *Coordinator) StartCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrCallActive
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.active = true
	c.state = StateIdle
	c.conversationID = ""
	c.pendingTranscript = ""
	c.lastFinalTranscript = ""
	c.lastErr = nil
	c.turns = nil

	c.appendTurnLocked(Turn{Role: RoleAssistant, Text: c.cfg.Greeting, Status: TurnSent})
	c.startSpeakingLocked(c.cfg.Greeting)
	return nil
}

// EndCall terminates the session: any in-flight request and playback are
// cancelled, capture stops and transient state is cleared. The turn log
// survives for inspection until the next StartCall.
func (c *Coordinator) EndCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.active = false
	c.epoch++
	if c.reqCancel != nil {
		c.reqCancel()
		c.reqCancel = nil
	}
	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.stopDebounceLocked()
	c.source.Stop()
	c.pendingTranscript = ""
	c.setStateLocked(StateEnded)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// HandleTranscript feeds one transcript update from the speech source.
// Interim updates only refresh the pending transcript; final updates drive
// send scheduling and barge-in.
func (c *Coordinator) HandleTranscript(text string, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	if c.ev.OnTranscript != nil {
		c.ev.OnTranscript(trimmed, final)
	}
	if !final {
		c.pendingTranscript = trimmed
		return
	}

	switch c.state {
	case StateSpeaking:
		// Barge-in: the user talks over the assistant.
		if len([]rune(trimmed)) > c.cfg.BargeInMinLength {
			c.bargeInLocked()
		}
	case StateIdle, StateListening:
		c.scheduleSendLocked(trimmed)
	default:
		// processing: a request is already being committed; late
		// recognizer events for the same utterance are dropped
	}
}

// State returns the current call state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a call is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ConversationID returns the backend conversation identifier, empty until
// the first completed exchange.
func (c *Coordinator) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Turns returns a snapshot of the message log.
func (c *Coordinator) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// LastError returns the most recent recorded session error.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// --- send scheduling ---

func (c *Coordinator) scheduleSendLocked(trimmed string) {
	if len([]rune(trimmed)) < c.cfg.MinSendLength {
		return
	}
	if trimmed == c.lastFinalTranscript {
		// duplicate recognizer event for an already-sent utterance
		return
	}
	c.pendingTranscript = trimmed
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounceText = trimmed
	epoch := c.epoch
	c.debounce = time.AfterFunc(c.cfg.DebounceWindow, func() {
		c.debounceFire(epoch, trimmed)
	})
}

func (c *Coordinator) debounceFire(epoch uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || epoch != c.epoch {
		return
	}
	if c.state != StateListening && c.state != StateIdle {
		return
	}
	if c.debounceText != text {
		// a newer transcript re-armed the window
		return
	}
	if text == c.lastFinalTranscript {
		return
	}
	c.commitSendLocked(text)
}

func (c *Coordinator) commitSendLocked(text string) {
	c.source.Stop()
	c.lastFinalTranscript = text
	c.pendingTranscript = ""
	c.debounceText = ""
	c.debounce = nil

	userTurn := c.appendTurnLocked(Turn{
		Role:           RoleUser,
		Text:           text,
		Status:         TurnPending,
		ConversationID: c.conversationID,
	})

	// Cancel-before-start: at most one outstanding chat request.
	if c.reqCancel != nil {
		c.reqCancel()
	}
	c.epoch++
	epoch := c.epoch
	reqCtx, cancel := context.WithCancel(c.ctx)
	c.reqCancel = cancel
	c.setStateLocked(StateProcessing)

	req := ChatRequest{Query: text, ConversationID: c.conversationID, UserID: c.cfg.UserID}
	userTurnID := userTurn.ID
	go c.chat.Stream(reqCtx, req, ChatCallbacks{
		OnFragment: func(d string) { c.handleChatFragment(epoch, d) },
		OnComplete: func(r ChatResult) { c.handleChatComplete(epoch, userTurnID, r) },
		OnError:    func(err error) { c.handleChatError(epoch, userTurnID, err) },
	})
}

func (c *Coordinator) handleChatFragment(epoch uint64, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || epoch != c.epoch || delta == "" {
		return
	}
	if i := c.inflightAssistantLocked(); i >= 0 {
		c.turns[i].Text += delta
		c.notifyTurnLocked(c.turns[i])
	} else {
		c.appendTurnLocked(Turn{Role: RoleAssistant, Text: delta, Status: TurnPending})
	}
	if c.ev.OnAssistantFragment != nil {
		c.ev.OnAssistantFragment(delta)
	}
}

func (c *Coordinator) handleChatComplete(epoch uint64, userTurnID string, res ChatResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || epoch != c.epoch {
		return
	}
	if c.reqCancel != nil {
		c.reqCancel()
		c.reqCancel = nil
	}
	if res.ConversationID != "" {
		c.conversationID = res.ConversationID
	}
	c.updateTurnLocked(userTurnID, func(t *Turn) {
		t.Status = TurnSent
		t.ConversationID = c.conversationID
	})
	if i := c.inflightAssistantLocked(); i >= 0 {
		c.turns[i].Text = res.FullText
		c.turns[i].Status = TurnSent
		c.turns[i].ConversationID = c.conversationID
		c.turns[i].MessageID = res.MessageID
		c.notifyTurnLocked(c.turns[i])
	} else {
		c.appendTurnLocked(Turn{
			Role:           RoleAssistant,
			Text:           res.FullText,
			Status:         TurnSent,
			ConversationID: c.conversationID,
			MessageID:      res.MessageID,
		})
	}
	if strings.TrimSpace(res.FullText) == "" {
		c.resumeListeningLocked()
		return
	}
	c.startSpeakingLocked(res.FullText)
}

func (c *Coordinator) handleChatError(epoch uint64, userTurnID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || epoch != c.epoch {
		return
	}
	if c.reqCancel != nil {
		c.reqCancel()
		c.reqCancel = nil
	}
	logrus.WithError(err).Warn("call: chat request failed")
	c.lastErr = err
	c.updateTurnLocked(userTurnID, func(t *Turn) { t.Status = TurnFailed })
	// Partial fragments stay in the log but the turn is marked failed.
	if i := c.inflightAssistantLocked(); i >= 0 {
		c.turns[i].Status = TurnFailed
		c.notifyTurnLocked(c.turns[i])
	}
	if c.ev.OnError != nil {
		c.ev.OnError(err)
	}
	c.resumeListeningLocked()
}

// --- speaking ---

func (c *Coordinator) startSpeakingLocked(text string) {
	c.epoch++
	epoch := c.epoch
	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.setStateLocked(StateSpeaking)
	ctx := c.ctx
	go func() {
		pb, err := c.tts.Speak(ctx, speech.Sanitize(text))
		c.handleSpeakStarted(epoch, pb, err)
	}()
}

func (c *Coordinator) handleSpeakStarted(epoch uint64, pb Playback, err error) {
	c.mu.Lock()
	if !c.active || epoch != c.epoch {
		c.mu.Unlock()
		if pb != nil {
			pb.Cancel()
		}
		return
	}
	if err != nil {
		// Synthesis failed even through the fallback path: keep the
		// conversation going silently, the text is already in the log.
		logrus.WithError(err).Warn("call: synthesis failed")
		c.lastErr = err
		if c.ev.OnError != nil {
			c.ev.OnError(err)
		}
		c.resumeListeningLocked()
		c.mu.Unlock()
		return
	}
	c.playback = pb
	done := pb.Done()
	c.mu.Unlock()

	go func() {
		perr := <-done
		c.handlePlaybackEnded(epoch, perr)
	}()
}

func (c *Coordinator) handlePlaybackEnded(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || epoch != c.epoch {
		// stale event from a playback that was since torn down
		return
	}
	c.playback = nil
	if err != nil {
		logrus.WithError(err).Warn("call: playback failed")
		c.lastErr = err
		if c.ev.OnError != nil {
			c.ev.OnError(err)
		}
	}
	c.resumeListeningLocked()
}

// bargeInLocked cancels the current playback and returns to listening.
// Cancellation, buffer reset and the state transition happen atomically
// under the lock; the epoch bump makes any residual playback event a no-op.
func (c *Coordinator) bargeInLocked() {
	c.epoch++
	epoch := c.epoch
	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.stopDebounceLocked()
	c.pendingTranscript = ""
	c.setStateLocked(StateListening)

	// Let the user finish speaking before capture resumes.
	grace := c.cfg.BargeInGrace
	go func() {
		time.Sleep(grace)
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.active || epoch != c.epoch || c.state != StateListening {
			return
		}
		if err := c.source.Start(); err != nil {
			logrus.WithError(err).Warn("call: speech capture restart failed")
		}
	}()
}

// --- shared helpers ---

func (c *Coordinator) resumeListeningLocked() {
	c.setStateLocked(StateListening)
	if err := c.source.Start(); err != nil {
		// Capture failures must not tear down the call; the user can retry.
		logrus.WithError(err).Warn("call: speech capture start failed")
	}
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	logrus.WithField("state", string(s)).Debug("call: state change")
	if c.ev.OnStateChange != nil {
		c.ev.OnStateChange(s)
	}
}

func (c *Coordinator) stopDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.debounceText = ""
}

func (c *Coordinator) appendTurnLocked(t Turn) Turn {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	c.turns = append(c.turns, t)
	c.notifyTurnLocked(t)
	return t
}

func (c *Coordinator) updateTurnLocked(id string, mutate func(*Turn)) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].ID == id {
			mutate(&c.turns[i])
			c.notifyTurnLocked(c.turns[i])
			return
		}
	}
}

// inflightAssistantLocked returns the index of the in-progress assistant
// turn, or -1. Only the last turn can be in progress.
func (c *Coordinator) inflightAssistantLocked() int {
	if n := len(c.turns); n > 0 {
		if t := c.turns[n-1]; t.Role == RoleAssistant && t.Status == TurnPending {
			return n - 1
		}
	}
	return -1
}

func (c *Coordinator) notifyTurnLocked(t Turn) {
	if c.ev.OnTurn != nil {
		c.ev.OnTurn(t)
	}
}
