package model

import (
	"testing"

	"github.com/pkg/errors"
)

func TestUserVisible(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.Wrap(ErrDeviceUnavailable, "unplugged"), true},
		{errors.Wrap(ErrReconnectExhausted, "connection refused"), true},
		{errors.Wrap(ErrTranscriptionFailed, "rate limited"), false},
		{ErrInvalidState, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := UserVisible(tt.err); got != tt.want {
			t.Errorf("UserVisible(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
