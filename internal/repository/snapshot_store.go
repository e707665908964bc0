package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
	"DigitCast/pkg/cache"
)

const snapshotPrefix = "session"

// CacheSnapshotStore keeps the latest SessionView per session in a cache.Service (Redis in production).
type CacheSnapshotStore struct {
	c cache.Service
}

func NewCacheSnapshotStore(c cache.Service) *CacheSnapshotStore {
	return &CacheSnapshotStore{c: c}
}

func (s *CacheSnapshotStore) Save(ctx context.Context, v models.SessionView, ttl time.Duration) error {
	if err := s.c.Set(ctx, cache.Key(snapshotPrefix, v.ID), v, ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *CacheSnapshotStore) Load(ctx context.Context, id string) (models.SessionView, error) {
	var v models.SessionView
	if err := s.c.Get(ctx, cache.Key(snapshotPrefix, id), &v); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.SessionView{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		return models.SessionView{}, fmt.Errorf("load snapshot: %w", err)
	}
	return v, nil
}

func (s *CacheSnapshotStore) Delete(ctx context.Context, id string) error {
	return s.c.Delete(ctx, cache.Key(snapshotPrefix, id))
}

var _ domrepo.SnapshotStore = (*CacheSnapshotStore)(nil)
