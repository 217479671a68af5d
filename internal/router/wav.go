package router

import (
	"bytes"
	"encoding/binary"
)

// Speech output is raw little-endian PCM with these fixed parameters.
const (
	SpeechSampleRate    = 24000
	SpeechChannels      = 1
	SpeechBitsPerSample = 16

	wavHeaderSize = 44
)

// EncodeWAV wraps 24kHz mono 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte) []byte {
	return EncodeWAVWith(pcm, SpeechSampleRate, SpeechChannels, SpeechBitsPerSample)
}

// EncodeWAVWith wraps PCM with an explicit format. The result is always a
// 44-byte header followed by pcm unchanged.
func EncodeWAVWith(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
