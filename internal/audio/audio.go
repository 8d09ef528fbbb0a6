// ABOUTME: Audio conversion helpers for inbound voice notes
// ABOUTME: Decodes 8kHz G.711 u-law frames to 16-bit PCM and wraps PCM in a WAV container

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// Telephony-grade voice notes arrive as 8kHz mono u-law.
const (
	UlawSampleRate = 8000
	numChannels    = 1
	bitsPerSample  = 16
)

// ErrEmptyAudio is returned when there are no samples to convert
var ErrEmptyAudio = errors.New("empty audio data")

// UlawToWAV decodes u-law frames and returns a WAV file the STT engine can
// consume directly.
func UlawToWAV(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, ErrEmptyAudio
	}
	pcm := g711.DecodeUlaw(ulaw)
	return PCMToWAV(pcm, UlawSampleRate)
}

// PCMToWAV wraps raw 16-bit little-endian mono PCM in a RIFF/WAV container.
func PCMToWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd PCM byte count %d", len(pcm))
	}

	dataSize := len(pcm)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM subchunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}
