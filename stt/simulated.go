package stt

import "context"

// SimulatedText is returned for every fragment when no API key is configured.
const SimulatedText = "This is a simulated transcription since no OpenAI API key was provided."

// Simulated stands in for a real backend during development.
type Simulated struct {
	Text string
}

func (s Simulated) Transcribe(ctx context.Context, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Text == "" {
		return SimulatedText, nil
	}
	return s.Text, nil
}
