package store

import "time"

type Operator struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Contributor struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Submission struct {
	ID            string
	Title         string
	ContributorID *string
	Status        string
	Tier          string
	Bonuses       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UpdatedBy     string
	// Joined contributor fields; empty when the submission has no
	// contributor on file.
	ContactName  string
	ContactEmail string
}

type Attachment struct {
	ID           string
	SubmissionID string
	ObjectKey    string
	Filename     string
	ContentType  string
	SizeBytes    int64
	CreatedAt    time.Time
}

// SubmissionDetail is a submission with its dependent rows loaded.
type SubmissionDetail struct {
	Submission
	Tags        []string
	SourceIDs   []string
	Attachments []Attachment
}

type MergeLogEntry struct {
	ID          int64
	SurvivorID  string
	MergedIDs   []string
	MergedCount int
	MergedBy    string
	Note        string
	MergedAt    time.Time
}

// SummaryCounts is the analytics rollup for the dashboard endpoint.
type SummaryCounts struct {
	Submissions  int
	Contributors int
	Attachments  int
	Merges       int
}
