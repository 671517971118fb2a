package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Options controls how a file is decoded.
type Options struct {
	// SampleRate is the output rate. Zero means 16000.
	SampleRate int
	// MaxSamples truncates the output when > 0.
	MaxSamples int
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return 16000
	}
	return o.SampleRate
}

func (o Options) finish(x []float32, srcRate int) []float32 {
	x = Resample(x, srcRate, o.rate())
	if o.MaxSamples > 0 && len(x) > o.MaxSamples {
		x = x[:o.MaxSamples]
	}
	return x
}

// DecodeFile decodes a wav, mp3 or ogg (vorbis/opus) file into mono float32
// PCM at opt.SampleRate. The container is picked by extension, falling back
// to sniffing the magic bytes.
func DecodeFile(_ context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(f, opt)
	case ".mp3":
		return decodeMP3(f, opt)
	case ".ogg", ".oga", ".opus":
		return decodeOgg(f, opt)
	}

	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic) {
	case "RIFF":
		return decodeWAV(f, opt)
	case "OggS":
		return decodeOgg(f, opt)
	}
	return nil, fmt.Errorf("audioconv: unsupported format %q (supported: wav, mp3, ogg vorbis/opus)", filepath.Ext(path))
}

func decodeOgg(f io.ReadSeeker, opt Options) ([]float32, error) {
	x, err := decodeOggVorbis(f, opt)
	if err == nil {
		return x, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	x, oerr := decodeOggOpus(f, opt)
	if oerr != nil {
		return nil, fmt.Errorf("audioconv: ogg is neither vorbis (%v) nor opus: %w", err, oerr)
	}
	return x, nil
}

func decodeWAV(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audioconv: invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audioconv: read wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("audioconv: empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return opt.finish(Downmix(IntToFloat32(pb.Data, bd), ch), sr), nil
}

func decodeMP3(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("audioconv: mp3: %w", err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, fmt.Errorf("audioconv: mp3: %w", err)
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	// go-mp3 always produces interleaved stereo
	return opt.finish(Downmix(Int16ToFloat32(ints), 2), sr), nil
}

func decodeOggVorbis(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return opt.finish(Downmix(pcm, format.Channels), format.SampleRate), nil
}
