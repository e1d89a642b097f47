// Package snapshot persists the last fetched collection and the destination
// table id between runs.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage"
)

// Object names, compatible with caches written by earlier releases.
const (
	SnapshotKey   = "bgm_cache.json"
	DatabaseIDKey = "notion_db_cache.json"
)

type databaseRecord struct {
	DatabaseID string `json:"database_id"`
}

// Store implements collection.SnapshotStore over an object store.
type Store struct {
	objects storage.ObjectStore
	logger  *zap.Logger
}

// New builds a Store.
func New(objects storage.ObjectStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{objects: objects, logger: logger}
}

// LoadSnapshot returns the cached snapshot. A missing or unreadable cache
// yields an empty snapshot, which makes every fetched item count as added.
func (s *Store) LoadSnapshot(ctx context.Context) (collection.Snapshot, error) {
	data, err := s.objects.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return collection.Snapshot{}, nil
		}
		return collection.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap collection.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("snapshot cache is corrupt; treating as empty", zap.String("key", SnapshotKey), zap.Error(err))
		return collection.Snapshot{}, nil
	}
	return snap, nil
}

// SaveSnapshot replaces the cached snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap collection.Snapshot) error {
	if snap.Items == nil {
		snap.Items = []collection.Item{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.objects.Put(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadDatabaseID returns the cached table id, or "" when none is cached.
func (s *Store) LoadDatabaseID(ctx context.Context) (string, error) {
	data, err := s.objects.Get(ctx, DatabaseIDKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load database id: %w", err)
	}
	var rec databaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("database id cache is corrupt; ignoring", zap.String("key", DatabaseIDKey), zap.Error(err))
		return "", nil
	}
	return rec.DatabaseID, nil
}

// SaveDatabaseID caches the table id.
func (s *Store) SaveDatabaseID(ctx context.Context, databaseID string) error {
	data, err := json.Marshal(databaseRecord{DatabaseID: databaseID})
	if err != nil {
		return fmt.Errorf("encode database id: %w", err)
	}
	if err := s.objects.Put(ctx, DatabaseIDKey, data); err != nil {
		return fmt.Errorf("save database id: %w", err)
	}
	return nil
}

// Clear drops both cache objects.
func (s *Store) Clear(ctx context.Context) error {
	for _, key := range []string{DatabaseIDKey, SnapshotKey} {
		if err := s.objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	return nil
}
