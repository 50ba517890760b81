package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// WAV container helpers for the 16-bit mono PCM files exchanged with the
// media stack: synthesized replies are written as WAV, and playback length
// is estimated from the header.

const wavHeaderSize = 44

// WriteWAV writes raw little-endian 16-bit PCM samples as a WAV file.
func WriteWAV(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer f.Close()

	byteRate := sampleRate * channels * 2
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := f.Write(pcm); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	return nil
}

// WAVDuration estimates the play time of a WAV file from its header
// (data length divided by byte rate).
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := f.Read(header); err != nil {
		return 0, fmt.Errorf("failed to read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a wav file: %s", path)
	}

	byteRate := binary.LittleEndian.Uint32(header[28:32])
	if byteRate == 0 {
		return 0, fmt.Errorf("wav header has zero byte rate: %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	dataLen := info.Size() - wavHeaderSize
	if dataLen < 0 {
		dataLen = 0
	}

	return time.Duration(float64(dataLen) / float64(byteRate) * float64(time.Second)), nil
}
