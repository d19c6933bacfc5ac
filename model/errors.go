package model

import "github.com/pkg/errors"

var (
	// ErrDeviceUnavailable means the microphone could not be acquired or failed while open.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrNotConnected is returned for actions that need an open transport.
	ErrNotConnected = errors.New("transport not connected")

	// ErrTransportClosed means the physical connection dropped.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTranscriptionFailed marks a single fragment whose transcription failed.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrReconnectExhausted is terminal: the attempt ceiling was exceeded.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrInvalidState is returned when a recording command is not allowed in the current state.
	ErrInvalidState = errors.New("invalid recording state")
)

// UserVisible reports whether err should end the session and be shown to the user.
func UserVisible(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrReconnectExhausted)
}
