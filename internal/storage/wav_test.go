package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteWAVDurationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	// 1 second of 16kHz 16-bit mono PCM.
	require.NoError(t, WriteWAV(path, make([]byte, 32000), 16000, 1))

	d, err := WAVDuration(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestWAVDurationFractional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, WriteWAV(path, make([]byte, 16000), 16000, 1))

	d, err := WAVDuration(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestWAVDurationRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF data here"), 0o644))

	_, err := WAVDuration(path)
	assert.Error(t, err)
}

func TestWAVDurationMissingFile(t *testing.T) {
	_, err := WAVDuration(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
