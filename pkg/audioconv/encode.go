package audioconv

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes interleaved float PCM as a 16-bit PCM wav stream.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)

	ints := Float32ToInt16(samples)
	data := make([]int, len(ints))
	for i, v := range ints {
		data[i] = int(v)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audioconv: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audioconv: finalize wav: %w", err)
	}
	return nil
}

// SaveWAV writes samples to path, replacing any existing file.
func SaveWAV(path string, samples []float32, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, samples, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
