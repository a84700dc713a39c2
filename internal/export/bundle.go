package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"
)

type bundleManifest struct {
	Submissions []zipManifest `json:"submissions"`
	Count       int           `json:"count"`
	ExportedAt  time.Time     `json:"exportedAt"`
}

// ExportBundle produces one archive covering several submissions, each under
// its own directory. Missing attachment blobs are skipped per submission; a
// missing submission id fails the whole request.
func (s *Service) ExportBundle(ctx context.Context, ids []string, includeAttachments bool) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := bundleManifest{
		Submissions: make([]zipManifest, 0, len(ids)),
		ExportedAt:  time.Now().UTC(),
	}

	for _, id := range ids {
		info, err := s.store.GetSubmissionForExport(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get submission %s: %w", id, err)
		}

		html, err := RenderSubmissionHTML(templateData(info))
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", id, err)
		}

		dir := sanitizeFilename(info.Title) + "-" + info.ID
		entry, err := zw.Create(dir + "/submission.html")
		if err != nil {
			return nil, fmt.Errorf("create entry for %s: %w", id, err)
		}
		if _, err := entry.Write([]byte(html)); err != nil {
			return nil, fmt.Errorf("write entry for %s: %w", id, err)
		}

		subManifest := zipManifest{
			SubmissionID: info.ID,
			Title:        info.Title,
			Status:       info.Status,
			Tier:         info.Tier,
			Tags:         info.Tags,
			SourceIDs:    info.SourceIDs,
			Attachments:  []string{},
			ExportedAt:   manifest.ExportedAt,
		}

		if includeAttachments && s.blobs != nil {
			for _, att := range info.Attachments {
				rc, err := s.blobs.Get(ctx, att.ObjectKey)
				if err != nil {
					log.Printf("export: attachment %s (%s) unavailable, skipping: %v", att.ID, att.ObjectKey, err)
					continue
				}
				attEntry, err := zw.Create(dir + "/attachments/" + att.Filename)
				if err != nil {
					rc.Close()
					return nil, fmt.Errorf("create attachment entry: %w", err)
				}
				if _, err := io.Copy(attEntry, rc); err != nil {
					rc.Close()
					log.Printf("export: attachment %s (%s) read failed, archive entry may be truncated: %v", att.ID, att.ObjectKey, err)
					continue
				}
				rc.Close()
				subManifest.Attachments = append(subManifest.Attachments, att.Filename)
			}
		}

		manifest.Submissions = append(manifest.Submissions, subManifest)
	}

	manifest.Count = len(manifest.Submissions)

	manifestEntry, err := zw.Create("manifest.json")
	if err != nil {
		return nil, fmt.Errorf("create manifest entry: %w", err)
	}
	enc := json.NewEncoder(manifestEntry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: fmt.Sprintf("submissions-%s.zip", manifest.ExportedAt.Format("20060102-150405")),
		MimeType: "application/zip",
	}, nil
}
