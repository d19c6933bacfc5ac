// Package types holds the messages exchanged over the duplex transcription socket.
package types

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

// Message kinds carried on the socket.
const (
	TypeAudio         = "audio"
	TypeTranscription = "transcription"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is the tagged envelope for both directions.
//
//	audio:         {"type":"audio","audio":"<base64>","speaker":"You","seq":3}
//	transcription: {"type":"transcription","text":"...","speaker":"You","timestamp":"...","seq":3}
type Message struct {
	Type      string `json:"type"`
	Audio     string `json:"audio,omitempty"` // base64
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Seq       uint64 `json:"seq,omitempty"` // best-effort correlation only
}

// NewAudioMessage wraps a captured fragment for sending.
func NewAudioMessage(f model.AudioFragment) Message {
	return Message{
		Type:    TypeAudio,
		Audio:   base64.StdEncoding.EncodeToString(f.Payload),
		Speaker: f.Speaker,
		Seq:     f.Sequence,
	}
}

// NewTranscriptionMessage wraps a result for sending back to the client.
func NewTranscriptionMessage(r model.TranscriptionResult) Message {
	return Message{
		Type:      TypeTranscription,
		Text:      r.Text,
		Speaker:   r.Speaker,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Seq:       r.Sequence,
	}
}

// Encode serializes m into one text frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal message")
	}
	return data, nil
}

// Decode parses one frame. Anything that is not a well-formed audio or
// transcription message is rejected so receivers can skip it.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Wrap(ErrMalformed, err.Error())
	}

	switch m.Type {
	case TypeAudio:
		if m.Audio == "" {
			return Message{}, errors.Wrap(ErrMalformed, "audio message without payload")
		}
		if _, err := base64.StdEncoding.DecodeString(m.Audio); err != nil {
			return Message{}, errors.Wrap(ErrMalformed, "audio payload is not base64")
		}
	case TypeTranscription:
		if m.Timestamp != "" {
			if _, err := time.Parse(time.RFC3339Nano, m.Timestamp); err != nil {
				return Message{}, errors.Wrap(ErrMalformed, "bad timestamp")
			}
		}
	default:
		return Message{}, errors.Wrapf(ErrUnknownType, "%q", m.Type)
	}
	return m, nil
}

// Fragment converts an audio message into a fragment. The session id is the
// receiver's, not the sender's.
func (m Message) Fragment(sessionID string) (model.AudioFragment, error) {
	if m.Type != TypeAudio {
		return model.AudioFragment{}, errors.Wrapf(ErrUnknownType, "want %s, got %q", TypeAudio, m.Type)
	}
	payload, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return model.AudioFragment{}, errors.Wrap(ErrMalformed, "audio payload is not base64")
	}
	speaker := strings.TrimSpace(m.Speaker)
	if speaker == "" {
		speaker = model.DefaultSpeaker
	}
	return model.AudioFragment{
		SessionID: sessionID,
		Sequence:  m.Seq,
		Speaker:   speaker,
		Payload:   payload,
	}, nil
}

// Result converts a transcription message into a result.
func (m Message) Result() (model.TranscriptionResult, error) {
	if m.Type != TypeTranscription {
		return model.TranscriptionResult{}, errors.Wrapf(ErrUnknownType, "want %s, got %q", TypeTranscription, m.Type)
	}
	ts := time.Now()
	if m.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, m.Timestamp)
		if err != nil {
			return model.TranscriptionResult{}, errors.Wrap(ErrMalformed, "bad timestamp")
		}
		ts = parsed
	}
	return model.TranscriptionResult{
		Speaker:   m.Speaker,
		Text:      m.Text,
		Timestamp: ts,
		Sequence:  m.Seq,
	}, nil
}
