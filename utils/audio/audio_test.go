package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
)

func silence(samples int) []byte {
	return make([]byte, samples*2)
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := silence(160)

	wav, err := EncodeWAV(pcm, 1, 16000)
	require.NoError(t, err)

	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestEncodeWAV_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		channels   int
		sampleRate int
	}{
		{"empty", nil, 1, 16000},
		{"three channels", silence(2), 3, 16000},
		{"zero rate", silence(2), 1, 0},
		{"partial frame", []byte{1, 2, 3, 4, 5, 6}, 2, 16000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeWAV(tt.pcm, tt.channels, tt.sampleRate)
			assert.Error(t, err)
		})
	}
}

func TestPCMFromWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav, err := EncodeWAV(pcm, 1, 8000)
	require.NoError(t, err)

	got, ok, err := PCMFromWAV(wav)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pcm, got)

	raw, ok, err := PCMFromWAV(pcm)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, pcm, raw)

	_, _, err = PCMFromWAV(wav[:wavHeaderSize+2])
	assert.ErrorIs(t, err, ErrTruncatedData)

	_, _, err = PCMFromWAV(wav[:12])
	assert.ErrorIs(t, err, ErrNoDataChunk)
}

func TestEncode_G711KeepsSampleCount(t *testing.T) {
	pcm := silence(80)

	ulaw, err := Encode(pcm, core.ULAW)
	require.NoError(t, err)
	assert.Len(t, ulaw, 80)

	back, err := ToPCM(core.AudioChunk{Data: ulaw, Format: core.ULAW})
	require.NoError(t, err)
	assert.Len(t, back, 160)

	_, err = Encode([]byte{1}, core.ULAW)
	assert.ErrorIs(t, err, ErrOddPCM)
}

func TestToPCM_DecodesALaw(t *testing.T) {
	alaw, err := Encode(silence(10), core.ALAW)
	require.NoError(t, err)

	pcm, err := ToPCM(core.AudioChunk{Data: alaw, Format: core.ALAW})
	require.NoError(t, err)
	assert.Len(t, pcm, 20)
}

func TestBuffer_StripsWAVContainer(t *testing.T) {
	pcm := silence(8)
	wav, err := EncodeWAV(pcm, 1, 24000)
	require.NoError(t, err)

	buf := NewBuffer(core.PCM, 24000, 0)
	_, _ = buf.Write(wav)
	chunk, err := buf.Chunk()
	require.NoError(t, err)

	assert.Equal(t, pcm, chunk.Data)
	assert.Equal(t, 1, chunk.Channels)
	assert.Equal(t, core.PCM, chunk.Format)
}

func TestArtifactWriter_WritesWAV(t *testing.T) {
	dir := t.TempDir()
	writer := NewArtifactWriter(filepath.Join(dir, "audio"))

	buf := NewBuffer(core.ULAW, 8000, 1)
	_, _ = buf.Write(make([]byte, 8000))
	chunk, err := buf.Chunk()
	require.NoError(t, err)
	handle, err := writer.Write(chunk, "hi", "deepgram")
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", handle.MimeType)
	assert.Equal(t, "hi", handle.Language)
	assert.Equal(t, "deepgram", handle.Provider)
	assert.Equal(t, time.Second, handle.Duration)
	assert.Equal(t, wavHeaderSize+16000, handle.SizeBytes)

	info, err := os.Stat(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(handle.SizeBytes), info.Size())

	entries, err := os.ReadDir(filepath.Join(dir, "audio"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestArtifactWriter_EmptyAudio(t *testing.T) {
	writer := NewArtifactWriter(t.TempDir())
	_, err := writer.Write(core.AudioChunk{SampleRate: 16000, Channels: 1}, "hi", "x")
	assert.Error(t, err)
}
