// Package export provides submission export functionality for PDF and ZIP formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatZIP Format = "zip"
)

// Request contains parameters for an export operation
type Request struct {
	SubmissionID       string
	Format             Format
	IncludeAttachments bool
}

// SubmissionInfo holds the submission data needed for export
type SubmissionInfo struct {
	ID               string
	Title            string
	ContributorName  string
	ContributorEmail string
	Status           string
	Tier             string
	Bonuses          []string
	Tags             []string
	SourceIDs        []string
	Attachments      []AttachmentInfo
	UpdatedBy        string
	UpdatedAt        time.Time
}

// AttachmentInfo holds attachment metadata for export
type AttachmentInfo struct {
	ID          string
	ObjectKey   string
	Filename    string
	ContentType string
	SizeBytes   int64
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
