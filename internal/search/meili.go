package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSubmissions  = "masthead_submissions"
	idxContributors = "masthead_contributors"
	idxMerges       = "masthead_merges"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns nil if the initial connection fails (caller should proceed without it).
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxSubmissions,
			primaryKey: "id",
			filterable: []string{"status", "tier"},
			searchable: []string{"title", "contributorName", "contributorEmail"},
		},
		{
			uid:        idxContributors,
			primaryKey: "id",
			filterable: nil,
			searchable: []string{"name", "email"},
		},
		{
			uid:        idxMerges,
			primaryKey: "id",
			filterable: []string{"survivorId"},
			searchable: []string{"note", "mergedBy"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		if len(idx.filterable) > 0 {
			filterableInterface := make([]interface{}, len(idx.filterable))
			for i, v := range idx.filterable {
				filterableInterface[i] = v
			}
			if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
				log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
			}
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxSubmissions, ResultSubmission},
		{idxContributors, ResultContributor},
		{idxMerges, ResultMerge},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterStatus != "" && ti.rtyp == ResultSubmission {
			sr.Filter = []string{fmt.Sprintf("status = %q", q.FilterStatus)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxSubmissions:
		return ResultSubmission
	case idxContributors:
		return ResultContributor
	case idxMerges:
		return ResultMerge
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")

	switch rtyp {
	case ResultSubmission:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "contributorName"), decodeString(hit, "contributorName"))
		r.Status = decodeString(hit, "status")
		r.SubmissionID = r.ID
	case ResultContributor:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "email"), decodeString(hit, "email"))
	case ResultMerge:
		r.Title = firstNonBlank(decodeFormattedString(hit, "mergedBy"), decodeString(hit, "mergedBy"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "note"), decodeString(hit, "note"))
		r.SubmissionID = decodeString(hit, "survivorId")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSubmission adds or updates a submission in the search index.
func (m *Meili) IndexSubmission(s SubmissionRecord) error {
	_, err := m.client.Index(idxSubmissions).AddDocuments([]SubmissionRecord{s}, nil)
	return err
}

// IndexContributor adds or updates a contributor in the search index.
func (m *Meili) IndexContributor(c ContributorRecord) error {
	_, err := m.client.Index(idxContributors).AddDocuments([]ContributorRecord{c}, nil)
	return err
}

// IndexMerge adds or updates a merge log entry in the search index.
func (m *Meili) IndexMerge(mr MergeRecord) error {
	_, err := m.client.Index(idxMerges).AddDocuments([]MergeRecord{mr}, nil)
	return err
}

// DeleteSubmission removes a submission from the search index.
func (m *Meili) DeleteSubmission(id string) error {
	_, err := m.client.Index(idxSubmissions).DeleteDocument(id, nil)
	return err
}

// IndexSubmissions bulk-indexes submissions.
func (m *Meili) IndexSubmissions(submissions []SubmissionRecord) error {
	if len(submissions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSubmissions).AddDocuments(submissions, nil)
	return err
}

// IndexContributors bulk-indexes contributors.
func (m *Meili) IndexContributors(contributors []ContributorRecord) error {
	if len(contributors) == 0 {
		return nil
	}
	_, err := m.client.Index(idxContributors).AddDocuments(contributors, nil)
	return err
}

// IndexMerges bulk-indexes merge log records.
func (m *Meili) IndexMerges(merges []MergeRecord) error {
	if len(merges) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMerges).AddDocuments(merges, nil)
	return err
}
