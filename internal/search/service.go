package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSubmission indexes a submission (fire-and-forget to Meilisearch).
func (s *Service) IndexSubmission(rec SubmissionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSubmission(rec); err != nil {
			log.Printf("search: index submission %s: %v", rec.ID, err)
		}
	}()
}

// IndexContributor indexes a contributor (fire-and-forget to Meilisearch).
func (s *Service) IndexContributor(rec ContributorRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexContributor(rec); err != nil {
			log.Printf("search: index contributor %s: %v", rec.ID, err)
		}
	}()
}

// IndexMerge indexes a merge log entry (fire-and-forget to Meilisearch).
func (s *Service) IndexMerge(rec MergeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMerge(rec); err != nil {
			log.Printf("search: index merge %s: %v", rec.ID, err)
		}
	}()
}

// DeleteSubmission removes a submission from the search index (fire-and-forget).
func (s *Service) DeleteSubmission(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSubmission(id); err != nil {
			log.Printf("search: delete submission %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records into Meilisearch in bulk.
func (s *Service) ReindexAll(submissions []SubmissionRecord, contributors []ContributorRecord, merges []MergeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(submissions) > 0 {
		if err := s.meili.IndexSubmissions(submissions); err != nil {
			log.Printf("search: reindex submissions: %v", err)
		}
	}
	if len(contributors) > 0 {
		if err := s.meili.IndexContributors(contributors); err != nil {
			log.Printf("search: reindex contributors: %v", err)
		}
	}
	if len(merges) > 0 {
		if err := s.meili.IndexMerges(merges); err != nil {
			log.Printf("search: reindex merges: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	submissions, contributors, merges, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(submissions, contributors, merges)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
