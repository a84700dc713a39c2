package export

import (
	"context"
	"fmt"

	"masthead/api/internal/payrate"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSubmissionForExport(ctx context.Context, id string) (SubmissionInfo, error)
}

// Service provides submission export functionality
type Service struct {
	store DataStore
	blobs BlobGetter
}

// NewService creates a new export service. blobs may be nil; ZIP exports then
// omit attachment bytes.
func NewService(store DataStore, blobs BlobGetter) *Service {
	return &Service{store: store, blobs: blobs}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetSubmissionForExport(ctx, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	html, err := RenderSubmissionHTML(templateData(info))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, info.Title)
	case FormatZIP:
		return exportZIP(ctx, info, html, s.blobs, req.IncludeAttachments)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func templateData(info SubmissionInfo) TemplateData {
	return TemplateData{
		Title:            info.Title,
		ContributorName:  info.ContributorName,
		ContributorEmail: info.ContributorEmail,
		Status:           info.Status,
		Tier:             info.Tier,
		Bonuses:          info.Bonuses,
		Tags:             info.Tags,
		SourceIDs:        info.SourceIDs,
		Attachments:      info.Attachments,
		RateDollars:      formatCents(payrate.Rate(info.Tier, info.Bonuses)),
		UpdatedBy:        info.UpdatedBy,
		UpdatedAt:        info.UpdatedAt,
	}
}

func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
