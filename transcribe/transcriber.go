package transcribe

import "context"

// Segment is one timestamped text unit, with times in seconds relative to
// the start of the transcribed audio.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Transcriber produces an ordered, finite sequence of segments for one
// audio file. An empty result with a nil error is valid (no speech).
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}
