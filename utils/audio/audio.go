package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"

	"voicechat/core"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

var (
	ErrOddPCM        = errors.New("PCM length must be even (16-bit samples)")
	ErrNoDataChunk   = errors.New("invalid WAV: data chunk not found")
	ErrTruncatedData = errors.New("invalid WAV: data chunk exceeds buffer length")
)

// Encode converts 16-bit PCM into format.
func Encode(pcm []byte, format core.AudioEncodingFormat) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCM
	}
	switch format {
	case core.PCM:
		return pcm, nil
	case core.ULAW:
		return g711.EncodeUlaw(pcm), nil
	case core.ALAW:
		return g711.EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("cannot encode to %s", format)
	}
}

// ToPCM returns the chunk's samples as 16-bit little-endian PCM.
func ToPCM(chunk core.AudioChunk) ([]byte, error) {
	switch chunk.Format {
	case core.PCM:
		return chunk.Data, nil
	case core.ULAW:
		return g711.DecodeUlaw(chunk.Data), nil
	case core.ALAW:
		return g711.DecodeAlaw(chunk.Data), nil
	default:
		return nil, fmt.Errorf("unsupported format for PCM conversion: %s", chunk.Format)
	}
}

// wavHeader is the canonical 44-byte RIFF header for linear PCM.
type wavHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps 16-bit little-endian PCM in a WAV container.
func EncodeWAV(pcm []byte, channels, sampleRate int) ([]byte, error) {
	switch {
	case len(pcm) == 0:
		return nil, errors.New("PCM data is empty")
	case channels < 1 || channels > 2:
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	case sampleRate <= 0:
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	case len(pcm)%(2*channels) != 0:
		return nil, fmt.Errorf("PCM length %d is not a whole number of %d-channel frames", len(pcm), channels)
	}

	blockAlign := channels * bitsPerSample / 8
	header := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      uint32(wavHeaderSize - 8 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	out.Write(pcm)
	return out.Bytes(), nil
}

// PCMFromWAV returns the data chunk of a RIFF/WAVE container. ok is false,
// and data is returned unchanged, when data is not a WAV container.
func PCMFromWAV(data []byte) (pcm []byte, ok bool, err error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return data, false, nil
	}

	for i := 12; i+8 <= len(data); {
		id := string(data[i : i+4])
		size := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		body := i + 8
		if id == "data" {
			if body+size > len(data) {
				return nil, true, ErrTruncatedData
			}
			return data[body : body+size], true, nil
		}
		// Chunks are padded to an even length.
		i = body + size + size%2
	}
	return nil, true, ErrNoDataChunk
}

// Buffer accumulates streamed provider audio of a single encoding.
type Buffer struct {
	format     core.AudioEncodingFormat
	sampleRate int
	channels   int
	data       bytes.Buffer
}

func NewBuffer(format core.AudioEncodingFormat, sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{format: format, sampleRate: sampleRate, channels: channels}
}

// Write appends raw provider bytes. It implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.data.Write(p)
}

func (b *Buffer) Len() int {
	return b.data.Len()
}

// Chunk returns everything written so far as one chunk. Providers that wrap
// linear PCM in a WAV container have the container removed.
func (b *Buffer) Chunk() (core.AudioChunk, error) {
	data := b.data.Bytes()
	if b.format == core.PCM {
		pcm, _, err := PCMFromWAV(data)
		if err != nil {
			return core.AudioChunk{}, err
		}
		data = pcm
	}
	return core.AudioChunk{
		Data:       append([]byte(nil), data...),
		SampleRate: b.sampleRate,
		Channels:   b.channels,
		Format:     b.format,
	}, nil
}
