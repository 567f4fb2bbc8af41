package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/call"
)

type fakeSynth struct {
	configured bool
	audio      []byte
	err        error
}

func (f *fakeSynth) Configured() bool { return f.configured }

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

type fakeSession struct {
	mu          sync.Mutex
	transcripts []string
	finals      []bool
	ended       bool
}

func (f *fakeSession) HandleTranscript(text string, final bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
	f.finals = append(f.finals, final)
}

func (f *fakeSession) EndCall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

func (f *fakeSession) endCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

// newBridgePair upgrades a loopback connection and returns the server-side
// bridge with the client end of the socket.
func newBridgePair(t *testing.T, synth Synthesizer) (*Bridge, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	bridgeCh := make(chan *Bridge, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		bridgeCh <- New(conn, synth)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	b := <-bridgeCh
	t.Cleanup(b.Close)
	return b, client
}

// readOutbound reads messages until one of the wanted type arrives.
func readOutbound(t *testing.T, client *websocket.Conn, wantType string) outboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = client.SetReadDeadline(deadline)
	for {
		var msg outboundMessage
		if err := client.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestRun_ForwardsTranscripts(t *testing.T) {
	b, client := newBridgePair(t, nil)
	sess := &fakeSession{}
	done := make(chan struct{})
	go func() { b.Run(sess); close(done) }()

	if err := client.WriteJSON(inboundMessage{Type: "transcript", Text: "xin chào", Final: false}); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteJSON(inboundMessage{Type: "transcript", Text: "xin chào bạn", Final: true}); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteJSON(inboundMessage{Type: "end_call"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after end_call")
	}
	if !sess.endCalled() {
		t.Error("EndCall not invoked")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.transcripts) != 2 || sess.transcripts[1] != "xin chào bạn" || !sess.finals[1] {
		t.Errorf("transcripts = %v finals = %v", sess.transcripts, sess.finals)
	}
}

func TestRun_EndsCallOnDisconnect(t *testing.T) {
	b, client := newBridgePair(t, nil)
	sess := &fakeSession{}
	done := make(chan struct{})
	go func() { b.Run(sess); close(done) }()

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
	if !sess.endCalled() {
		t.Error("EndCall not invoked on disconnect")
	}
}

func TestRun_IgnoresMalformedMessages(t *testing.T) {
	b, client := newBridgePair(t, nil)
	sess := &fakeSession{}
	go b.Run(sess)

	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteJSON(inboundMessage{Type: "transcript", Text: "vẫn hoạt động", Final: true}); err != nil {
		t.Fatal(err)
	}

	ok := func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return len(sess.transcripts) == 1
	}
	deadline := time.Now().Add(2 * time.Second)
	for !ok() {
		if time.Now().After(deadline) {
			t.Fatal("transcript after malformed frame never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpeak_SendsAudioAndResolvesOnPlaybackEnded(t *testing.T) {
	audio := []byte("ID3fake-audio")
	b, client := newBridgePair(t, &fakeSynth{configured: true, audio: audio})
	go b.Run(&fakeSession{})

	pb, err := b.Speak(context.Background(), "xin chào")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	msg := readOutbound(t, client, "speak")
	decoded, derr := base64.StdEncoding.DecodeString(msg.Audio)
	if derr != nil || string(decoded) != string(audio) {
		t.Errorf("audio payload = %q err=%v", msg.Audio, derr)
	}

	if err := client.WriteJSON(inboundMessage{Type: "playback_ended"}); err != nil {
		t.Fatal(err)
	}
	select {
	case perr := <-pb.Done():
		if perr != nil {
			t.Errorf("Done() = %v, want nil", perr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("playback never resolved")
	}
}

func TestSpeak_FallsBackWhenProviderFails(t *testing.T) {
	b, client := newBridgePair(t, &fakeSynth{configured: true, err: errors.New("provider down")})

	if _, err := b.Speak(context.Background(), "vẫn nói được"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	msg := readOutbound(t, client, "speak_fallback")
	if msg.Text != "vẫn nói được" {
		t.Errorf("fallback text = %q", msg.Text)
	}
}

func TestSpeak_FallsBackWhenNotConfigured(t *testing.T) {
	b, client := newBridgePair(t, &fakeSynth{configured: false})

	if _, err := b.Speak(context.Background(), "không có nhà cung cấp"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	readOutbound(t, client, "speak_fallback")
}

func TestSpeak_PlaybackErrorPropagates(t *testing.T) {
	b, client := newBridgePair(t, &fakeSynth{configured: true, audio: []byte("x")})
	go b.Run(&fakeSession{})

	pb, err := b.Speak(context.Background(), "lỗi phát")
	if err != nil {
		t.Fatal(err)
	}
	readOutbound(t, client, "speak")
	if err := client.WriteJSON(inboundMessage{Type: "playback_error", Error: "decode failed"}); err != nil {
		t.Fatal(err)
	}
	select {
	case perr := <-pb.Done():
		if perr == nil {
			t.Error("Done() = nil, want playback error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("playback error never resolved")
	}
}

func TestPlayback_CancelResolvesDone(t *testing.T) {
	b, _ := newBridgePair(t, &fakeSynth{configured: false})

	pb, err := b.Speak(context.Background(), "bị hủy")
	if err != nil {
		t.Fatal(err)
	}
	pb.Cancel()
	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("Cancel did not resolve Done")
	}
	pb.Cancel() // second cancel is a no-op
}

func TestStartStop_SendListenEvents(t *testing.T) {
	b, client := newBridgePair(t, nil)

	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	readOutbound(t, client, "listen_start")
	b.Stop()
	readOutbound(t, client, "listen_stop")
}

func TestEvents_MirrorSessionActivity(t *testing.T) {
	b, client := newBridgePair(t, nil)
	ev := b.Events()

	ev.OnStateChange(call.StateListening)
	msg := readOutbound(t, client, "state")
	if msg.State != string(call.StateListening) {
		t.Errorf("state = %q", msg.State)
	}

	ev.OnTurn(call.Turn{ID: "t1", Role: call.RoleAssistant, Text: "chào bạn"})
	turnMsg := readOutbound(t, client, "turn")
	if turnMsg.Turn == nil || turnMsg.Turn.Text != "chào bạn" {
		t.Errorf("turn payload = %+v", turnMsg.Turn)
	}

	ev.OnError(errors.New("mạng hỏng"))
	errMsg := readOutbound(t, client, "error")
	if errMsg.Message == "" {
		t.Error("error message empty")
	}
}
