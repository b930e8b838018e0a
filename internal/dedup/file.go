package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ObiAU/slotwatch/internal/fsutil"
	"github.com/ObiAU/slotwatch/internal/models"
)

const fileFormatVersion = 1

type fileDocument struct {
	Version   int              `json:"version"`
	Keys      []models.SlotKey `json:"keys"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FileBackend stores the notified set as a JSON document that is replaced
// atomically on every commit.
type FileBackend struct {
	path string
	now  func() time.Time
}

func NewFileBackend(dataDir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dataDir, "notified.json"), now: time.Now}
}

func (b *FileBackend) Name() string { return "file:" + b.path }

func (b *FileBackend) Load(context.Context) ([]models.SlotKey, error) {
	data, err := fsutil.ReadFileIfExists(b.path)
	if err != nil || data == nil {
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("%s: unsupported format version %d", b.path, doc.Version)
	}
	return doc.Keys, nil
}

func (b *FileBackend) Commit(_ context.Context, _, all []models.SlotKey) error {
	return b.write(all)
}

func (b *FileBackend) Clear(context.Context) error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) write(keys []models.SlotKey) error {
	if keys == nil {
		keys = []models.SlotKey{}
	}
	data, err := json.MarshalIndent(fileDocument{
		Version:   fileFormatVersion,
		Keys:      keys,
		UpdatedAt: b.now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(b.path, data, 0o644)
}
