package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"
)

// readChunkSamples bounds how many samples one decode call pulls in, so a
// long recording never needs a proportionally large intermediate buffer.
const readChunkSamples = 4096

// DecodeSamples reads a PCM WAV file into mono float64 samples in [-1, 1].
// Multi-channel input is averaged down to one channel.
func DecodeSamples(path string) ([]float64, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read wav format: %w", err)
	}
	if format.NumChannels == 0 {
		return nil, 0, fmt.Errorf("wav file reports zero channels: %s", path)
	}

	var samples []float64
	for {
		chunk, err := reader.ReadSamples(readChunkSamples)
		for _, s := range chunk {
			sum := 0.0
			for ch := uint(0); ch < uint(format.NumChannels); ch++ {
				sum += reader.FloatValue(s, ch)
			}
			samples = append(samples, sum/float64(format.NumChannels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read wav samples: %w", err)
		}
	}

	return samples, int(format.SampleRate), nil
}
