package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSubmission  ResultType = "submission"
	ResultContributor ResultType = "contributor"
	ResultMerge       ResultType = "merge"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	SubmissionID string     `json:"submissionId,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexSubmission(s SubmissionRecord) error
	IndexContributor(c ContributorRecord) error
	IndexMerge(m MergeRecord) error
	DeleteSubmission(id string) error
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	ContributorName  string `json:"contributorName"`
	ContributorEmail string `json:"contributorEmail"`
	Status           string `json:"status"`
	Tier             string `json:"tier"`
}

// ContributorRecord is the data we index for a contributor.
type ContributorRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MergeRecord is the data we index for a merge log entry.
type MergeRecord struct {
	ID         string `json:"id"`
	SurvivorID string `json:"survivorId"`
	Note       string `json:"note"`
	MergedBy   string `json:"mergedBy"`
}
