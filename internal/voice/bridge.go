// Package voice bridges a browser call over a single WebSocket connection.
// The browser does speech capture and audio playback; the bridge relays
// transcripts inward and state, turns and synthesized audio outward, acting
// as the call session's speech source and synthesizer.
package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/call"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/dify"
)

// inbound message types: transcript, playback_ended, playback_error, end_call.
type inboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
	Error string `json:"error,omitempty"`
}

// outbound message types: state, listen_start, listen_stop, speak,
// speak_fallback, turn, error.
type outboundMessage struct {
	Type    string     `json:"type"`
	State   string     `json:"state,omitempty"`
	Text    string     `json:"text,omitempty"`
	Final   bool       `json:"final,omitempty"`
	Audio   string     `json:"audio,omitempty"` // base64 MPEG
	Turn    *call.Turn `json:"turn,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Session is the part of the call coordinator the read loop drives.
type Session interface {
	HandleTranscript(text string, final bool)
	EndCall()
}

// Synthesizer produces MPEG audio for outbound speech.
type Synthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Bridge owns one WebSocket connection for the lifetime of a call. All writes
// go through a single writer goroutine; event hooks enqueue without blocking.
type Bridge struct {
	conn *websocket.Conn
	tts  Synthesizer

	out      chan outboundMessage
	stopOnce sync.Once
	stopped  chan struct{}

	mu      sync.Mutex
	pending *playback
}

const outboundBuffer = 256

func New(conn *websocket.Conn, tts Synthesizer) *Bridge {
	b := &Bridge{
		conn:    conn,
		tts:     tts,
		out:     make(chan outboundMessage, outboundBuffer),
		stopped: make(chan struct{}),
	}
	go b.writeLoop()
	return b
}

func (b *Bridge) writeLoop() {
	for {
		select {
		case msg := <-b.out:
			if err := b.conn.WriteJSON(msg); err != nil {
				logrus.WithError(err).Debug("voice: ws write failed")
				return
			}
		case <-b.stopped:
			return
		}
	}
}

// send enqueues without blocking; a stuck connection drops messages rather
// than stalling the coordinator.
func (b *Bridge) send(msg outboundMessage) {
	select {
	case b.out <- msg:
	default:
		logrus.WithField("type", msg.Type).Warn("voice: outbound buffer full, dropping message")
	}
}

// Run reads inbound messages until the connection drops or the browser ends
// the call. It blocks; the caller owns the connection lifecycle around it.
func (b *Bridge) Run(s Session) {
	defer s.EndCall()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("voice: ws read ended")
			}
			return
		}
		var m inboundMessage
		if err := json.Unmarshal(data, &m); err != nil {
			logrus.WithError(err).Debug("voice: malformed inbound message")
			continue
		}
		switch m.Type {
		case "transcript":
			s.HandleTranscript(m.Text, m.Final)
		case "playback_ended":
			b.resolvePending(nil)
		case "playback_error":
			b.resolvePending(fmt.Errorf("voice: browser playback failed: %s", m.Error))
		case "end_call":
			return
		default:
			logrus.WithField("type", m.Type).Debug("voice: unknown inbound message")
		}
	}
}

// Close tears down the writer and the connection.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stopped) })
	b.resolvePending(errors.New("voice: connection closed"))
	_ = b.conn.Close()
}

// --- call.SpeechSource ---

// Start tells the browser to begin delivering transcripts.
func (b *Bridge) Start() error {
	b.send(outboundMessage{Type: "listen_start"})
	return nil
}

// Stop tells the browser to pause transcript delivery.
func (b *Bridge) Stop() {
	b.send(outboundMessage{Type: "listen_stop"})
}

// --- call.Synthesizer ---

// Speak synthesizes text and ships the audio to the browser. When the
// provider is unavailable the text is sent for client-side synthesis instead,
// so the answer is voiced either way. The returned playback resolves when the
// browser reports playback_ended or playback_error.
func (b *Bridge) Speak(ctx context.Context, text string) (call.Playback, error) {
	pb := newPlayback()
	b.setPending(pb)

	if b.tts != nil && b.tts.Configured() {
		audio, err := b.tts.Synthesize(ctx, text)
		if err == nil {
			b.send(outboundMessage{Type: "speak", Audio: base64.StdEncoding.EncodeToString(audio)})
			return pb, nil
		}
		if ctx.Err() != nil {
			b.clearPending(pb)
			return nil, ctx.Err()
		}
		logrus.WithError(err).Warn("voice: synthesis failed, falling back to browser")
	}
	b.send(outboundMessage{Type: "speak_fallback", Text: text})
	return pb, nil
}

func (b *Bridge) setPending(pb *playback) {
	b.mu.Lock()
	old := b.pending
	b.pending = pb
	b.mu.Unlock()
	if old != nil {
		old.finish(nil)
	}
}

func (b *Bridge) clearPending(pb *playback) {
	b.mu.Lock()
	if b.pending == pb {
		b.pending = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) resolvePending(err error) {
	b.mu.Lock()
	pb := b.pending
	b.pending = nil
	b.mu.Unlock()
	if pb != nil {
		pb.finish(err)
	}
}

// Events returns coordinator hooks that mirror session activity to the
// browser. The hooks only enqueue, so they are safe to call under the
// coordinator's lock.
func (b *Bridge) Events() call.Events {
	return call.Events{
		OnStateChange: func(s call.State) {
			b.send(outboundMessage{Type: "state", State: string(s)})
		},
		OnTurn: func(t call.Turn) {
			turn := t
			b.send(outboundMessage{Type: "turn", Turn: &turn})
		},
		OnTranscript: func(text string, final bool) {
			b.send(outboundMessage{Type: "transcript", Text: text, Final: final})
		},
		OnError: func(err error) {
			b.send(outboundMessage{Type: "error", Message: userFacingMessage(err)})
		},
	}
}

func userFacingMessage(err error) string {
	return dify.UserMessage(err)
}

// playback resolves exactly once, through browser acknowledgement or Cancel.
type playback struct {
	done chan error
	once sync.Once
}

func newPlayback() *playback {
	return &playback{done: make(chan error, 1)}
}

func (p *playback) Done() <-chan error { return p.done }

func (p *playback) Cancel() { p.finish(nil) }

func (p *playback) finish(err error) {
	p.once.Do(func() { p.done <- err })
}
