package search

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"voxium/internal/store"
)

// RecordLoader lists every message for a full reindex.
type RecordLoader interface {
	ListIndexRecords(ctx context.Context) ([]store.IndexRecord, error)
}

type index interface {
	Searcher
	Indexer
}

// Service is the facade used by the mutation pipeline. Index writes are
// fire-and-forget; a nil backend disables everything.
type Service struct {
	backend index
	log     *slog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, log *slog.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.backend = meili
	}
	return s
}

// SearchIDs queries the index. ok is false when the caller should fall back
// to the database.
func (s *Service) SearchIDs(q Query) (ids []string, ok bool) {
	if s == nil || s.backend == nil || !s.backend.Healthy() {
		return nil, false
	}
	ids, err := s.backend.SearchIDs(q)
	if err != nil {
		s.log.Warn("index search failed, falling back to database", "error", err)
		return nil, false
	}
	return ids, true
}

func (s *Service) IndexMessage(msg store.Message, requiredRole string) {
	if s == nil || s.backend == nil || !s.backend.Healthy() {
		return
	}
	record := RecordFromMessage(msg, requiredRole)
	go func() {
		if err := s.backend.IndexMessages([]MessageRecord{record}); err != nil {
			s.log.Warn("index message", "message_id", record.ID, "error", err)
		}
	}()
}

func (s *Service) DeleteMessages(ids []string) {
	if s == nil || s.backend == nil || !s.backend.Healthy() || len(ids) == 0 {
		return
	}
	ids = lo.Uniq(ids)
	go func() {
		for _, id := range ids {
			if err := s.backend.DeleteMessage(id); err != nil {
				s.log.Warn("delete indexed message", "message_id", id, "error", err)
			}
		}
	}()
}

// ReindexAll pushes every stored message to the index. Called at startup.
func (s *Service) ReindexAll(ctx context.Context, loader RecordLoader) {
	if s == nil || s.backend == nil || !s.backend.Healthy() {
		return
	}
	records, err := loader.ListIndexRecords(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", "error", err)
		return
	}
	docs := lo.Map(records, func(rec store.IndexRecord, _ int) MessageRecord { return RecordFromIndex(rec) })
	for _, batch := range lo.Chunk(docs, 1000) {
		if err := s.backend.IndexMessages(batch); err != nil {
			s.log.Warn("reindex messages", "error", err)
			return
		}
	}
	s.log.Info("search index rebuilt", "messages", len(docs))
}
