package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    *Meili
	fallback *SQLSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback *SQLSearch) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: sql fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexQuotation indexes a quotation (fire-and-forget to Meilisearch).
func (s *Service) IndexQuotation(rec QuotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexQuotation(rec); err != nil {
			log.Printf("search: index quotation %s: %v", rec.ID, err)
		}
	}()
}

// DeleteQuotation removes a quotation from the search index (fire-and-forget).
func (s *Service) DeleteQuotation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteQuotation(id); err != nil {
			log.Printf("search: delete quotation %s: %v", id, err)
		}
	}()
}

// ReindexAll reads all quotations from Postgres and pushes them to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexQuotations(records); err != nil {
		log.Printf("search: reindex quotations: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
