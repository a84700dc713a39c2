package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across submissions, contributors, and
// merge_log using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Submissions sub-query
	if q.FilterType == "" || q.FilterType == ResultSubmission {
		subWhere := "s.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			subWhere += fmt.Sprintf(" AND s.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'submission'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(c.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS submission_id, s.status,
				ts_rank(s.fts, %s) AS rank
			FROM submissions s
			LEFT JOIN contributors c ON c.id = s.contributor_id
			WHERE %s`, tsQuery, tsQuery, subWhere))
	}

	// Contributors sub-query
	if q.FilterType == "" || q.FilterType == ResultContributor {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'contributor'::text AS type, c.id, c.name AS title,
				ts_headline('english', coalesce(c.email, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS submission_id, ''::text AS status,
				ts_rank(c.fts, %s) AS rank
			FROM contributors c
			WHERE c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Merge log sub-query
	if q.FilterType == "" || q.FilterType == ResultMerge {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'merge'::text AS type, ml.id::text, ml.merged_by_name AS title,
				ts_headline('english', coalesce(ml.note, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ml.survivor_id AS submission_id, ''::text AS status,
				ts_rank(ml.fts, %s) AS rank
			FROM merge_log ml
			WHERE ml.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, submission_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SubmissionID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SubmissionRecord, []ContributorRecord, []MergeRecord, error) {
	subRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.title, coalesce(c.name, ''), coalesce(c.email, ''), s.status, s.tier
		FROM submissions s
		LEFT JOIN contributors c ON c.id = s.contributor_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load submissions: %w", err)
	}
	defer subRows.Close()

	submissions := make([]SubmissionRecord, 0)
	for subRows.Next() {
		var s SubmissionRecord
		if err := subRows.Scan(&s.ID, &s.Title, &s.ContributorName, &s.ContributorEmail, &s.Status, &s.Tier); err != nil {
			return nil, nil, nil, fmt.Errorf("scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	if err := subRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate submissions: %w", err)
	}

	contribRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email
		FROM contributors
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load contributors: %w", err)
	}
	defer contribRows.Close()

	contributors := make([]ContributorRecord, 0)
	for contribRows.Next() {
		var c ContributorRecord
		if err := contribRows.Scan(&c.ID, &c.Name, &c.Email); err != nil {
			return nil, nil, nil, fmt.Errorf("scan contributor: %w", err)
		}
		contributors = append(contributors, c)
	}
	if err := contribRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate contributors: %w", err)
	}

	mergeRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, survivor_id, coalesce(note, ''), merged_by_name
		FROM merge_log
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load merges: %w", err)
	}
	defer mergeRows.Close()

	merges := make([]MergeRecord, 0)
	for mergeRows.Next() {
		var m MergeRecord
		if err := mergeRows.Scan(&m.ID, &m.SurvivorID, &m.Note, &m.MergedBy); err != nil {
			return nil, nil, nil, fmt.Errorf("scan merge: %w", err)
		}
		merges = append(merges, m)
	}
	if err := mergeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate merges: %w", err)
	}

	return submissions, contributors, merges, nil
}
