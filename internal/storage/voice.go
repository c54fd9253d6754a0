package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// VoiceStore persists uploaded voice clips and returns a URL clients can fetch.
// Binary storage is a collaborator of the messaging core, not part of it, so
// alternative backends (object storage, CDN) only need to satisfy this interface.
type VoiceStore interface {
	Save(filename string, data io.Reader) (url string, err error)
}

// DiskVoiceStore writes voice clips under a local directory served as static files.
type DiskVoiceStore struct {
	dir     string
	baseURL string
}

// NewDiskVoiceStore prepares the upload directory and returns the store.
func NewDiskVoiceStore(dir, baseURL string) (*DiskVoiceStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("voice store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("voice store: create directory: %w", err)
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "/uploads/voice"
	}

	return &DiskVoiceStore{dir: dir, baseURL: baseURL}, nil
}

// Save stores the clip under a random name, keeping the original extension.
func (s *DiskVoiceStore) Save(filename string, data io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".webm"
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("voice store: create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("voice store: write file: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

// Dir exposes the backing directory so the router can serve it statically.
func (s *DiskVoiceStore) Dir() string {
	return s.dir
}
