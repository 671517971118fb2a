// Package tts speaks short feedback phrases through espeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
espeak_say(const char *text, const char *lang, int rate)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs;
	memset(&specs, 0, sizeof(specs));
	specs.languages = lang;
	espeak_SetVoiceByProperties(&specs);
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// espeak keeps global state, so only one utterance runs at a time.
var mu sync.Mutex

// Speaker reads text aloud in the given language.
type Speaker struct {
	Language string // espeak language code, e.g. "en" or "ru"
	Rate     int    // words per minute, 0 for the default
}

func New(language string, rate int) *Speaker {
	if language == "" {
		language = "en"
	}
	return &Speaker{Language: language, Rate: rate}
}

// Speak blocks until playback has finished.
func (s *Speaker) Speak(text string) error {
	if text == "" {
		return nil
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(s.Language)
	defer C.free(unsafe.Pointer(clang))

	mu.Lock()
	defer mu.Unlock()

	if rc := C.espeak_say(ctext, clang, C.int(s.Rate)); rc != 0 {
		return fmt.Errorf("tts: espeak failed: %d", int(rc))
	}
	return nil
}
