package search

import (
	"context"
	"log"
)

// index is a search backend that can also be written to.
type index interface {
	Searcher
	Indexer
}

var (
	_ index        = (*Meili)(nil)
	_ Searcher     = (*PgFTS)(nil)
	_ RecordSource = (*PgFTS)(nil)
)

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    index
	fallback Searcher
	records  RecordSource
	close    func()
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	svc := &Service{}
	if meili != nil {
		svc.index = meili
		svc.close = meili.Close
	}
	if pgfts != nil {
		svc.fallback = pgfts
		svc.records = pgfts
	}
	return svc
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: index error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// RefreshSheet reloads a sheet and its members from PG and pushes it to
// the index in the background. Called after any sheet or grant change.
func (s *Service) RefreshSheet(sheetID int64) {
	if !s.indexReady() || s.records == nil {
		return
	}
	go func() {
		rec, err := s.records.LoadSheetRecord(context.Background(), sheetID)
		if err != nil {
			log.Printf("search: load sheet %d: %v", sheetID, err)
			return
		}
		if err := s.index.IndexSheet(rec); err != nil {
			log.Printf("search: index sheet %d: %v", sheetID, err)
		}
	}()
}

// DeleteSheet removes a sheet from the search index (fire-and-forget).
func (s *Service) DeleteSheet(id int64) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteSheet(id); err != nil {
			log.Printf("search: delete sheet %d: %v", id, err)
		}
	}()
}

// ReindexAllFromPG pushes every sheet from PostgreSQL into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.records == nil {
		return
	}
	records, err := s.records.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.index.IndexSheets(records); err != nil {
		log.Printf("search: reindex sheets: %v", err)
	}
}

// Close releases the Meilisearch health loop, if any.
func (s *Service) Close() {
	if s.close != nil {
		s.close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
