package wake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"voxwake/pkg/audioconv"
)

// Transcriber turns mono 16 kHz PCM into text.
type Transcriber interface {
	TranscribeText(ctx context.Context, pcm16k []float32) (string, error)
}

// PhraseOptions configures a PhraseScorer.
type PhraseOptions struct {
	Phrases    []string
	SampleRate int
	Channels   int
	Window     time.Duration // audio transcribed per attempt
	Hop        time.Duration // new audio required between attempts
	Timeout    time.Duration // per transcription
}

// PhraseScorer transcribes a sliding window of recent audio and scores how
// closely the text matches any configured wake phrase. Between hops it
// returns 0, so a single utterance triggers at most once per hop.
type PhraseScorer struct {
	tr      Transcriber
	opt     PhraseOptions
	phrases [][]string

	mu       sync.Mutex
	buf      []float32 // interleaved, at most windowLen samples
	pending  int       // samples since last attempt
	winLen   int
	hopLen   int
	lastText string
}

func NewPhraseScorer(tr Transcriber, opt PhraseOptions) (*PhraseScorer, error) {
	if tr == nil {
		return nil, errors.New("wake: phrase scorer needs a transcriber")
	}
	if opt.SampleRate <= 0 || opt.Channels <= 0 {
		return nil, fmt.Errorf("wake: invalid phrase scorer format %d Hz x%d", opt.SampleRate, opt.Channels)
	}
	if opt.Window <= 0 {
		opt.Window = 1500 * time.Millisecond
	}
	if opt.Hop <= 0 || opt.Hop > opt.Window {
		opt.Hop = opt.Window / 3
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}

	s := &PhraseScorer{
		tr:     tr,
		opt:    opt,
		winLen: int(opt.Window.Seconds()*float64(opt.SampleRate)) * opt.Channels,
		hopLen: int(opt.Hop.Seconds()*float64(opt.SampleRate)) * opt.Channels,
	}
	for _, p := range opt.Phrases {
		if toks := tokenize(p); len(toks) > 0 {
			s.phrases = append(s.phrases, toks)
		}
	}
	if len(s.phrases) == 0 {
		return nil, errors.New("wake: no usable wake phrases")
	}
	return s, nil
}

func (s *PhraseScorer) Score(samples []float32) (float64, error) {
	s.mu.Lock()
	s.buf = append(s.buf, samples...)
	if over := len(s.buf) - s.winLen; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
	s.pending += len(samples)
	if s.pending < s.hopLen || len(s.buf) < s.hopLen {
		s.mu.Unlock()
		return 0, nil
	}
	s.pending = 0
	window := make([]float32, len(s.buf))
	copy(window, s.buf)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opt.Timeout)
	defer cancel()
	text, err := s.tr.TranscribeText(ctx, audioconv.ToMono16k(window, s.opt.SampleRate, s.opt.Channels))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastText = text
	s.mu.Unlock()
	return MatchPhrase(text, s.phrases), nil
}

// Reset drops buffered audio so the tail of a wake phrase cannot trigger
// again after a capture.
func (s *PhraseScorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
	s.pending = 0
}

// LastText is the most recent window transcription.
func (s *PhraseScorer) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

// MatchPhrase returns the best similarity in [0, 1] between any run of
// words in text and any of the tokenised phrases. Runs whose words all
// share a Double Metaphone code with the phrase words score halfway
// between their Jaro-Winkler similarity and 1.
func MatchPhrase(text string, phrases [][]string) float64 {
	words := tokenize(text)
	best := 0.0
	for _, phrase := range phrases {
		n := len(phrase)
		if n == 0 || len(words) == 0 {
			continue
		}
		target := strings.Join(phrase, " ")
		for i := 0; i+n <= len(words) || (i == 0 && len(words) < n); i++ {
			run := words[i:min(i+n, len(words))]
			score := matchr.JaroWinkler(strings.Join(run, " "), target, false)
			if len(run) == n && soundsAlike(run, phrase) {
				score = (score + 1) / 2
			}
			if score > best {
				best = score
			}
		}
	}
	return clamp(best, 0, 1)
}

func soundsAlike(a, b []string) bool {
	for i := range a {
		ap, as := matchr.DoubleMetaphone(a[i])
		bp, bs := matchr.DoubleMetaphone(b[i])
		if ap == "" || bp == "" {
			return false
		}
		if ap != bp && ap != bs && as != bp && (as == "" || as != bs) {
			return false
		}
	}
	return true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
