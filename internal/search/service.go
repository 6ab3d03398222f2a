package search

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"jobboard/api/internal/board"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	index    Indexer
	fallback Searcher
	pg       *PgSearch

	startIndexer sync.Once
	pending      chan board.Item
	// indexedAt is owned by runIndexer.
	indexedAt map[string]time.Time
}

const indexQueueSize = 256

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	s := &Service{pg: pg}
	if meili != nil {
		s.index = meili
	}
	if pg != nil {
		s.fallback = pg
	}
	return s
}

func newServiceWith(index Indexer, fallback Searcher) *Service {
	return &Service{index: index, fallback: fallback}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: visible(nonNil(results), q.IncludeHidden), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("meilisearch search failed, falling back to postgres")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.WithError(err).Error("postgres search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: visible(nonNil(results), q.IncludeHidden), Total: total, Query: q.Text}
}

// IndexItem queues one item for the index without blocking the caller.
// A single worker drains the queue, so writes for one item reach
// Meilisearch in order and a version older than one already indexed is
// skipped.
func (s *Service) IndexItem(item board.Item) {
	if !s.indexReady() {
		return
	}
	s.startIndexer.Do(func() {
		s.pending = make(chan board.Item, indexQueueSize)
		s.indexedAt = map[string]time.Time{}
		go s.runIndexer()
	})
	select {
	case s.pending <- item:
	default:
		log.WithField("item", item.ID).Warn("search index queue full, item waits for the next reindex")
	}
}

func (s *Service) runIndexer() {
	for item := range s.pending {
		if last, ok := s.indexedAt[item.ID]; ok && item.UpdatedAt.Before(last) {
			continue
		}
		s.indexedAt[item.ID] = item.UpdatedAt
		s.indexOne(item)
	}
}

// indexOne looks up invoice references and writes one document.
func (s *Service) indexOne(item board.Item) {
	record := RecordFromItem(item)
	if s.pg != nil {
		invoices, err := s.pg.LoadInvoices(context.Background(), item.ID)
		if err != nil {
			log.WithError(err).WithField("item", item.ID).Warn("load invoices for index")
		}
		record.Invoices = invoices
	}
	if err := s.index.IndexItems([]ItemRecord{record}); err != nil {
		log.WithError(err).WithField("item", item.ID).Error("index item")
	}
}

// ReindexAll pushes records to Meilisearch in one batch.
func (s *Service) ReindexAll(records []ItemRecord) {
	if !s.indexReady() || len(records) == 0 {
		return
	}
	if err := s.index.IndexItems(records); err != nil {
		log.WithError(err).WithField("count", len(records)).Error("reindex items")
	}
}

// ReindexAllFromPG reindexes every work item from Postgres into
// Meilisearch. Called during bootstrap.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.WithError(err).Error("reindex load failed")
		return
	}
	s.ReindexAll(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// visible drops hits in hidden statuses unless the caller asked for them.
// The backends already filter; this guards against a stale index.
func visible(results []Result, includeHidden bool) []Result {
	if includeHidden {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if board.IsHidden(result.Status) {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
