package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDiskVoiceStoreRequiresDirectory(t *testing.T) {
	_, err := NewDiskVoiceStore("", "/media")
	require.Error(t, err)
}

func TestDiskVoiceStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskVoiceStore(dir, "/uploads/voice/")
	require.NoError(t, err)

	url, err := store.Save("clip.webm", strings.NewReader("voice-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/uploads/voice/"))
	require.True(t, strings.HasSuffix(url, ".webm"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
	require.NoError(t, err)
	require.Equal(t, "voice-bytes", string(data))
}

func TestDiskVoiceStoreDefaultsExtension(t *testing.T) {
	store, err := NewDiskVoiceStore(t.TempDir(), "")
	require.NoError(t, err)

	url, err := store.Save("no-extension", strings.NewReader("x"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(url, ".webm"))

	// Two saves of the same name never collide.
	again, err := store.Save("no-extension", strings.NewReader("y"))
	require.NoError(t, err)
	require.NotEqual(t, url, again)
}
