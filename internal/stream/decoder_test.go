package stream

import (
	"testing"
)

func decodeAll(t *testing.T, chunks ...string) (events []Event, final Event) {
	t.Helper()
	d := NewDecoder(func(ev Event) { events = append(events, ev) })
	for _, c := range chunks {
		d.Write([]byte(c))
	}
	d.Close()
	if len(events) == 0 {
		t.Fatalf("expected at least the end event")
	}
	final = events[len(events)-1]
	if final.Kind != KindEnd {
		t.Fatalf("last event kind = %v, want end", final.Kind)
	}
	return events, final
}

func TestDecoder_ConcatenatesFragmentsInOrder(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"message\",\"answer\":\"Hel\"}\n",
		"data: {\"event\":\"message\",\"answer\":\"lo\"}\n",
		"data: [DONE]\n",
	)
	if final.Text != "Hello" {
		t.Fatalf("fullText = %q, want %q", final.Text, "Hello")
	}
}

func TestDecoder_FragmentCarriesDeltaOnly(t *testing.T) {
	events, _ := decodeAll(t,
		"data: {\"event\":\"message\",\"answer\":\"foo\"}\n",
		"data: {\"event\":\"message\",\"answer\":\"bar\"}\n",
	)
	var deltas []string
	for _, ev := range events {
		if ev.Kind == KindFragment {
			deltas = append(deltas, ev.Text)
		}
	}
	if len(deltas) != 2 || deltas[0] != "foo" || deltas[1] != "bar" {
		t.Fatalf("deltas = %v, want [foo bar]", deltas)
	}
}

func TestDecoder_LineSplitAcrossChunks(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"mess",
		"age\",\"answer\":\"Xin chào\"}\n",
	)
	if final.Text != "Xin chào" {
		t.Fatalf("fullText = %q, want %q", final.Text, "Xin chào")
	}
}

func TestDecoder_FlushesUnterminatedTrailingLine(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"message\",\"answer\":\"a\"}\n",
		"data: {\"event\":\"message\",\"answer\":\"b\"}",
	)
	if final.Text != "ab" {
		t.Fatalf("fullText = %q, want %q", final.Text, "ab")
	}
}

func TestDecoder_MalformedLinesAreIgnored(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"message\",\"answer\":\"a\"}\n",
		"data: {not json at all\n",
		"event: ping\n",
		"\n",
		"data: {\"event\":\"message\",\"answer\":\"b\"}\n",
	)
	if final.Text != "ab" {
		t.Fatalf("fullText = %q, want %q", final.Text, "ab")
	}
}

func TestDecoder_MetadataLastWriteWins(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"message\",\"answer\":\"hi\",\"conversation_id\":\"conv-1\",\"message_id\":\"msg-1\"}\n",
		"data: {\"event\":\"message_end\",\"conversation_id\":\"conv-2\",\"id\":\"msg-2\"}\n",
	)
	if final.ConversationID != "conv-2" {
		t.Fatalf("conversationID = %q, want conv-2", final.ConversationID)
	}
	if final.MessageID != "msg-2" {
		t.Fatalf("messageID = %q, want msg-2", final.MessageID)
	}
}

func TestDecoder_MessageIDPrefersExplicitField(t *testing.T) {
	_, final := decodeAll(t,
		"data: {\"event\":\"message_end\",\"message_id\":\"primary\",\"id\":\"secondary\"}\n",
	)
	if final.MessageID != "primary" {
		t.Fatalf("messageID = %q, want primary", final.MessageID)
	}
}

func TestDecoder_DoneSentinelEmitsNothing(t *testing.T) {
	events, final := decodeAll(t, "data: [DONE]\n")
	if len(events) != 1 {
		t.Fatalf("expected only the end event, got %d events", len(events))
	}
	if final.Text != "" {
		t.Fatalf("fullText = %q, want empty", final.Text)
	}
}

func TestDecoder_WriteAfterCloseIsNoop(t *testing.T) {
	var events []Event
	d := NewDecoder(func(ev Event) { events = append(events, ev) })
	d.Close()
	d.Write([]byte("data: {\"event\":\"message\",\"answer\":\"late\"}\n"))
	d.Close()
	if len(events) != 1 {
		t.Fatalf("expected a single end event, got %d", len(events))
	}
}
