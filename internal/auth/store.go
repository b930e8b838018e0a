package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ObiAU/slotwatch/internal/fsutil"
	"github.com/ObiAU/slotwatch/internal/models"
)

// ErrCorruptState is returned by Load when the persisted state cannot be
// decoded. The caller may discard it and log in afresh.
var ErrCorruptState = errors.New("persisted session state is corrupt")

// StateStore persists the SessionState between restarts.
type StateStore interface {
	Load(ctx context.Context) (models.SessionState, error)
	Save(ctx context.Context, state models.SessionState) error
	Invalidate(ctx context.Context) error
}

// FileStore keeps the SessionState as a JSON document replaced atomically.
type FileStore struct {
	path string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, "session.json")}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (models.SessionState, error) {
	data, err := fsutil.ReadFileIfExists(s.path)
	if err != nil {
		return models.SessionState{}, models.Storage("read session", err)
	}
	if data == nil {
		return models.SessionState{}, nil
	}
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.SessionState{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return state, nil
}

func (s *FileStore) Save(_ context.Context, state models.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return models.Storage("encode session", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return models.Storage("write session", err)
	}
	return nil
}

func (s *FileStore) Invalidate(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.Storage("remove session", err)
	}
	return nil
}
