// Package segment turns decoded audio into an ordered list of independently
// transcribable time ranges. Split points come from silence detection; when
// the audio has too few natural breaks, fixed-width windows are used instead.
package segment

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	frameLength = 2048
	hopLength   = 512

	// minSplitPoints below which the detector falls back to fixed windows.
	minSplitPoints = 3

	// endGuard discards split points this close to the end of the media.
	endGuard = 1.0
)

// Job is one [Start,End) range of the source audio designated as a single
// transcribable unit. Indices are contiguous and start at 0.
type Job struct {
	Start float64
	End   float64
	Index int
}

// Config tunes silence detection.
type Config struct {
	// MinSilence is the shortest silent run, in seconds, that produces a
	// split point.
	MinSilence float64

	// ThresholdDB is the level below which a frame counts as silent,
	// in dB relative to the loudest frame.
	ThresholdDB float64

	// FallbackWindow is the fixed segment length, in seconds, used when
	// silence detection finds too few break points.
	FallbackWindow float64
}

// DefaultConfig matches the tuning the service exposes as form defaults.
func DefaultConfig() Config {
	return Config{
		MinSilence:     0.7,
		ThresholdDB:    -35,
		FallbackWindow: 30,
	}
}

// Segmenter computes segment jobs from raw samples.
type Segmenter struct {
	cfg Config
}

// New creates a segmenter, filling unset config fields with defaults.
func New(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = def.MinSilence
	}
	if cfg.ThresholdDB >= 0 {
		cfg.ThresholdDB = def.ThresholdDB
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = def.FallbackWindow
	}
	return &Segmenter{cfg: cfg}
}

// Jobs splits the samples into ordered, non-overlapping jobs covering
// [0, duration). The result is never empty for a positive duration.
func (s *Segmenter) Jobs(samples []float64, sampleRate int, duration float64) []Job {
	points := s.SplitPoints(samples, sampleRate, duration)

	bounds := make([]float64, 0, len(points)+2)
	bounds = append(bounds, 0)
	bounds = append(bounds, points...)
	bounds = append(bounds, duration)

	jobs := make([]Job, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		start, end := bounds[i], bounds[i+1]
		if start < end {
			jobs = append(jobs, Job{Start: start, End: end, Index: len(jobs)})
		}
	}
	return jobs
}

// SplitPoints returns sorted interior split times in seconds. Silence
// midpoints are preferred; a fixed-width grid is the fallback when fewer
// than minSplitPoints are found.
func (s *Segmenter) SplitPoints(samples []float64, sampleRate int, duration float64) []float64 {
	points := s.silencePoints(samples, sampleRate)

	sort.Float64s(points)
	points = dedupe(points)

	if len(points) < minSplitPoints {
		points = s.fixedPoints(duration)
	}

	out := points[:0]
	for _, p := range points {
		if p < duration-endGuard {
			out = append(out, p)
		}
	}
	return out
}

// silencePoints finds midpoints of silent runs longer than MinSilence.
// Frame loudness is RMS in dB relative to the loudest frame.
func (s *Segmenter) silencePoints(samples []float64, sampleRate int) []float64 {
	if sampleRate <= 0 || len(samples) < frameLength {
		return nil
	}

	frames := 1 + (len(samples)-frameLength)/hopLength
	rms := make([]float64, frames)
	for i := 0; i < frames; i++ {
		frame := samples[i*hopLength : i*hopLength+frameLength]
		rms[i] = math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
	}

	peak := floats.Max(rms)
	if peak <= 0 {
		return nil
	}

	var points []float64
	silentStart := -1.0
	for i, v := range rms {
		t := float64(i*hopLength) / float64(sampleRate)
		db := 20 * math.Log10(math.Max(v, 1e-10)/peak)

		if db < s.cfg.ThresholdDB {
			if silentStart < 0 {
				silentStart = t
			}
			continue
		}
		if silentStart >= 0 {
			if run := t - silentStart; run >= s.cfg.MinSilence {
				points = append(points, round2(silentStart+run/2))
			}
			silentStart = -1
		}
	}
	return points
}

// fixedPoints lays a FallbackWindow-spaced grid over (0, duration).
func (s *Segmenter) fixedPoints(duration float64) []float64 {
	var points []float64
	for t := s.cfg.FallbackWindow; t < duration; t += s.cfg.FallbackWindow {
		points = append(points, t)
	}
	return points
}

func dedupe(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
