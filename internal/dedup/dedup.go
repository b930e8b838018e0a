// Package dedup remembers which slots have already been reported so that a
// slot is announced once, across restarts.
package dedup

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/fsutil"
	"github.com/ObiAU/slotwatch/internal/models"
)

// Backend is the durable half of the Store. Commit must not return until
// the keys are on durable storage.
type Backend interface {
	Load(ctx context.Context) ([]models.SlotKey, error)
	// Commit persists added; all is the complete set after the addition for
	// backends that rewrite the whole set.
	Commit(ctx context.Context, added, all []models.SlotKey) error
	Clear(ctx context.Context) error
	Name() string
}

// Store is the notified set. Writes go through the backend first and only
// then become visible in memory.
type Store struct {
	mu       sync.RWMutex
	notified map[models.SlotKey]struct{}
	backend  Backend
	logger   *zap.Logger
}

func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	keys, err := backend.Load(ctx)
	if err != nil {
		return nil, models.Storage("load notified set", err)
	}
	s := &Store{
		notified: make(map[models.SlotKey]struct{}, len(keys)),
		backend:  backend,
		logger:   logger.Named("dedup"),
	}
	for _, k := range keys {
		s.notified[k] = struct{}{}
	}
	s.logger.Info("Notified set loaded",
		zap.String("backend", backend.Name()),
		zap.Int("keys", len(keys)),
	)
	return s, nil
}

func (s *Store) IsNew(slot models.Slot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, seen := s.notified[slot.Key()]
	return !seen
}

// MarkNotified commits the keys of slots to the backend and then records
// them in memory. On error nothing is recorded.
func (s *Store) MarkNotified(ctx context.Context, slots []models.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []models.SlotKey
	for _, slot := range slots {
		k := slot.Key()
		if _, seen := s.notified[k]; seen || slices.Contains(added, k) {
			continue
		}
		added = append(added, k)
	}
	if len(added) == 0 {
		return nil
	}

	all := make([]models.SlotKey, 0, len(s.notified)+len(added))
	for k := range s.notified {
		all = append(all, k)
	}
	all = append(all, added...)
	slices.Sort(all)

	if err := s.backend.Commit(ctx, added, all); err != nil {
		if !errors.Is(err, fsutil.ErrNotDurable) {
			return models.Storage("commit notified set", err)
		}
		// The new set is already what a restart would load.
		s.logger.Warn("Notified set written but not flushed", zap.String("event", "commit_not_durable"), zap.Error(err))
	}
	for _, k := range added {
		s.notified[k] = struct{}{}
	}
	s.logger.Debug("Slots marked notified", zap.Int("added", len(added)), zap.Int("total", len(all)))
	return nil
}

// Reset empties the notified set.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(ctx); err != nil {
		return models.Storage("clear notified set", err)
	}
	cleared := len(s.notified)
	s.notified = make(map[models.SlotKey]struct{})
	s.logger.Info("Notified set cleared", zap.String("event", "dedup_reset"), zap.Int("cleared", cleared))
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notified)
}

type Stats struct {
	Notified int    `json:"notified"`
	Backend  string `json:"backend"`
}

func (s *Store) Stats() Stats {
	return Stats{Notified: s.Len(), Backend: s.backend.Name()}
}
