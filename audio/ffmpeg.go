package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// whisperSampleRate is the rate required by the transcription models.
	whisperSampleRate = 16000
	channels          = 1
)

// ExtractWAV extracts mono 16 kHz PCM audio from a video file.
func ExtractWAV(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", whisperSampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		outPath)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to extract audio: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// CutSegment writes the [start,end) range of a WAV file to outPath.
func CutSegment(ctx context.Context, inputPath, outPath string, start, end float64) error {
	if start >= end {
		return fmt.Errorf("invalid segment range: %.2f >= %.2f", start, end)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-loglevel", "error",
		"-ss", formatSeconds(start),
		"-i", inputPath,
		"-t", formatSeconds(end-start),
		outPath)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to cut segment: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Duration probes a media file's length in seconds using ffprobe.
func Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", strings.TrimSpace(string(output)), err)
	}
	return seconds, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
