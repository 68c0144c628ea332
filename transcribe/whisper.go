package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"streamscribe/model"
)

// timestampLine matches whisper.cpp output lines of the form
// [00:00:01.000 --> 00:00:03.520]   text
var timestampLine = regexp.MustCompile(`^\[(\d{2,}):(\d{2}):(\d{2})[.,](\d{3}) --> (\d{2,}):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)

// Whisper transcribes audio by executing the whisper.cpp CLI.
type Whisper struct {
	binPath  string
	handle   *model.Handle
	language string
}

// NewWhisper creates a transcriber bound to one model handle.
func NewWhisper(binPath string, handle *model.Handle, language string) *Whisper {
	return &Whisper{
		binPath:  binPath,
		handle:   handle,
		language: language,
	}
}

// Transcribe runs the whisper executable on one audio file and parses its
// timestamped output.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	args := []string{
		"-m", w.handle.Path,
		"-f", audioPath,
	}
	if lang := strings.TrimSpace(w.language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)

	slog.Debug("Executing whisper command",
		"command", cmd.String(),
		"audio", audioPath)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			slog.Debug("Whisper command failed",
				"stderr", string(exitErr.Stderr),
				"exitCode", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("whisper execution failed: %w", err)
	}

	return parseSegments(string(output)), nil
}

// parseSegments extracts timestamped segments from whisper output,
// skipping blank-audio markers and anything that is not a subtitle line.
func parseSegments(output string) []Segment {
	var segments []Segment
	for _, line := range strings.Split(output, "\n") {
		match := timestampLine.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}

		text := strings.TrimSpace(match[9])
		if text == "" || strings.Contains(text, "[BLANK_AUDIO]") {
			continue
		}

		segments = append(segments, Segment{
			Start: parseTimestamp(match[1], match[2], match[3], match[4]),
			End:   parseTimestamp(match[5], match[6], match[7], match[8]),
			Text:  text,
		})
	}
	return segments
}

func parseTimestamp(hours, minutes, seconds, millis string) float64 {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)
	ms, _ := strconv.Atoi(millis)
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000
}
