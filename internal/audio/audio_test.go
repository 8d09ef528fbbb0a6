// ABOUTME: Tests for u-law decoding and WAV container framing
// ABOUTME: Validates header fields and size accounting

package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUlawToWAV(t *testing.T) {
	ulaw := make([]byte, 160) // 20ms of 8kHz u-law
	for i := range ulaw {
		ulaw[i] = byte(i)
	}

	wav, err := UlawToWAV(ulaw)
	require.NoError(t, err)

	// u-law expands to 16-bit samples: 44-byte header + 2 bytes per frame
	require.Len(t, wav, 44+len(ulaw)*2)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(UlawSampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(ulaw)*2), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestUlawToWAV_Empty(t *testing.T) {
	_, err := UlawToWAV(nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestPCMToWAV_OddLength(t *testing.T) {
	_, err := PCMToWAV([]byte{1, 2, 3}, UlawSampleRate)
	assert.Error(t, err)
}
