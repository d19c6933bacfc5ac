package types

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

func TestAudioMessageShape(t *testing.T) {
	msg := NewAudioMessage(model.AudioFragment{
		Sequence: 3,
		Speaker:  "You",
		Payload:  []byte("pcm"),
	})

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"type":"audio"`, `"audio":"cGNt"`, `"speaker":"You"`, `"seq":3`} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded %s missing %s", got, want)
		}
	}
}

func TestTranscriptionMessageShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := NewTranscriptionMessage(model.TranscriptionResult{
		Speaker:   "You",
		Text:      "hello there",
		Timestamp: ts,
	})

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"type":"transcription"`, `"text":"hello there"`, `"timestamp":"2026-03-01T10:00:00Z"`} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded %s missing %s", got, want)
		}
	}
	if strings.Contains(got, `"seq"`) {
		t.Errorf("uncorrelated result should omit seq: %s", got)
	}
}

func TestDecodeAcceptsOriginalClientFrame(t *testing.T) {
	// Frames from clients that never send a sequence number.
	m, err := Decode([]byte(`{"type":"audio","audio":"AAEC","speaker":"Alice"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, err := m.Fragment("conn-1")
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	if f.Sequence != 0 || f.Speaker != "Alice" || f.SessionID != "conn-1" {
		t.Errorf("fragment = %+v", f)
	}
	if len(f.Payload) != 3 || f.Payload[2] != 2 {
		t.Errorf("payload = %v", f.Payload)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{"type":`, ErrMalformed},
		{"unknown type", `{"type":"video"}`, ErrUnknownType},
		{"missing type", `{"audio":"AAEC"}`, ErrUnknownType},
		{"empty audio", `{"type":"audio","speaker":"x"}`, ErrMalformed},
		{"bad base64", `{"type":"audio","audio":"!!!"}`, ErrMalformed},
		{"bad timestamp", `{"type":"transcription","text":"x","timestamp":"yesterday"}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFragmentDefaultsSpeaker(t *testing.T) {
	m, err := Decode([]byte(`{"type":"audio","audio":"AAEC","speaker":"  "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, err := m.Fragment("c")
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	if f.Speaker != model.DefaultSpeaker {
		t.Errorf("speaker = %q, want %q", f.Speaker, model.DefaultSpeaker)
	}
}

func TestResultParsesTimestampAndSeq(t *testing.T) {
	m, err := Decode([]byte(`{"type":"transcription","text":"hi","speaker":"Bob","timestamp":"2026-03-01T10:00:00.5Z","seq":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, err := m.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}
	if r.Sequence != 7 || r.Text != "hi" || r.Speaker != "Bob" {
		t.Errorf("result = %+v", r)
	}
}

func TestConversionsCheckType(t *testing.T) {
	if _, err := (Message{Type: TypeTranscription}).Fragment("c"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Fragment on transcription: err = %v", err)
	}
	if _, err := (Message{Type: TypeAudio}).Result(); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Result on audio: err = %v", err)
	}
}
