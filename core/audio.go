package core

import (
	"fmt"
	"strings"
	"time"
)

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear PCM.
	ULAW                            // G.711 µ-law.
	ALAW                            // G.711 A-law.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case ULAW:
		return "ulaw"
	case ALAW:
		return "alaw"
	default:
		return fmt.Sprintf("encoding(%d)", int(f))
	}
}

// ParseAudioEncoding accepts "pcm", "ulaw"/"mulaw" and "alaw".
func ParseAudioEncoding(name string) (AudioEncodingFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pcm", "linear16", "pcm_s16le":
		return PCM, nil
	case "ulaw", "mulaw", "pcm_mulaw":
		return ULAW, nil
	case "alaw", "pcm_alaw":
		return ALAW, nil
	default:
		return PCM, fmt.Errorf("unknown audio encoding %q", name)
	}
}

type AudioChunk struct {
	Data       []byte              // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

// Duration assumes 16-bit samples for PCM and 8-bit samples for G.711.
func (ac AudioChunk) Duration() time.Duration {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	frames := len(ac.Data) / (bytesPerSample * ac.Channels)
	return time.Duration(frames) * time.Second / time.Duration(ac.SampleRate)
}
