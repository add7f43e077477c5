package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"leavn/api/internal/store"
)

const (
	reindexBatchSize = 500
	writeTimeout     = 10 * time.Second
	resyncTimeout    = 5 * time.Minute
)

// Service is the facade that tries the search backend first and falls back
// to the database. It satisfies the tag service's Index.
//
// Writes skipped or failed while the backend is down mark the index stale.
// A stale index is never read: the next call after recovery serves from the
// database and rebuilds the index in the background.
type Service struct {
	backend  Backend
	fallback Fallback
	logger   *zap.Logger

	// mu is held shared by index writes and exclusively by a rebuild, so
	// writes issued during a rebuild land after it.
	mu        sync.RWMutex
	stale     atomic.Bool
	resyncing atomic.Bool
}

// NewService creates a search service. backend may be nil when no search
// engine is configured.
func NewService(backend Backend, fallback Fallback, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{backend: backend, fallback: fallback, logger: logger}
	// Down at startup: writes from an earlier run may be missing.
	if backend != nil && !backend.Healthy() {
		s.stale.Store(true)
	}
	return s
}

func (s *Service) available() bool {
	return s.backend != nil && s.backend.Healthy()
}

// synced reports whether reads may use the backend.
func (s *Service) synced() bool {
	return s.available() && !s.stale.Load() && !s.resyncing.Load()
}

func (s *Service) markStale(reason string) {
	if s.stale.CompareAndSwap(false, true) {
		s.logger.Warn("search index marked stale", zap.String("reason", reason))
	}
}

// References uses the backend when it is healthy and in sync, otherwise the
// database.
func (s *Service) References(ctx context.Context, tagName, viewerID string, limit int) ([]string, error) {
	if s.available() && s.stale.Load() {
		s.startResync()
	}
	if s.synced() {
		refs, err := s.backend.References(ctx, Query{Tag: tagName, ViewerID: viewerID, Limit: limit})
		if err == nil {
			return refs, nil
		}
		s.logger.Warn("search backend failed, falling back to database", zap.String("tag", tagName), zap.Error(err))
	}
	return s.fallback.ListReferencesByTag(ctx, tagName, viewerID, limit)
}

// IndexAssociation pushes one association to the backend (fire-and-forget).
func (s *Service) IndexAssociation(record store.AssociationRecord) {
	if !s.writable("index association") {
		return
	}
	go func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.backend.IndexRecords(ctx, []Record{RecordFrom(record)}); err != nil {
			s.logger.Warn("index association", zap.String("association_id", record.ID), zap.Error(err))
			s.markStale("index write failed")
		}
	}()
}

// DeleteAssociations removes associations from the backend (fire-and-forget).
func (s *Service) DeleteAssociations(ids []string) {
	if len(ids) == 0 || !s.writable("delete associations") {
		return
	}
	ids = append([]string(nil), ids...)
	go func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.backend.DeleteRecords(ctx, ids); err != nil {
			s.logger.Warn("delete associations from index", zap.Strings("association_ids", ids), zap.Error(err))
			s.markStale("index delete failed")
		}
	}()
}

// writable reports whether a write should be sent to the backend. A dropped
// write marks the index stale; a write against a stale index starts the
// rebuild instead, which reads the already committed row from the database.
func (s *Service) writable(op string) bool {
	if s.backend == nil {
		return false
	}
	if !s.backend.Healthy() {
		s.markStale(op + " skipped while backend unhealthy")
		return false
	}
	if s.stale.Load() {
		s.startResync()
		return false
	}
	return true
}

func (s *Service) startResync() {
	if !s.resyncing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.resyncing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		if _, err := s.Resync(ctx); err != nil {
			s.logger.Warn("search index rebuild failed", zap.Error(err))
		}
	}()
}

// Resync clears the backend and reindexes every association from the
// database, dropping entries deleted while the backend was unreachable.
func (s *Service) Resync(ctx context.Context) (int, error) {
	if !s.available() {
		return 0, errUnhealthy
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stale.Store(false)
	if err := s.backend.ClearRecords(ctx); err != nil {
		s.stale.Store(true)
		return 0, err
	}
	n, err := s.reindex(ctx)
	if err != nil {
		s.stale.Store(true)
		return n, err
	}
	return n, nil
}

// ReindexAll reads every association from the database and pushes it to the
// backend in batches. It returns the number of records indexed.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.available() {
		return 0, errUnhealthy
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reindex(ctx)
}

func (s *Service) reindex(ctx context.Context) (int, error) {
	associations, err := s.fallback.ListAllAssociations(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	batch := make([]Record, 0, reindexBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.backend.IndexRecords(ctx, batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, association := range associations {
		batch = append(batch, RecordFrom(association))
		if len(batch) == reindexBatchSize {
			if err := flush(); err != nil {
				return indexed, err
			}
		}
	}
	if err := flush(); err != nil {
		return indexed, err
	}
	s.logger.Info("search reindex complete", zap.Int("records", indexed))
	return indexed, nil
}
