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

// BlobGetter fetches attachment bytes by object key.
type BlobGetter interface {
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// zipManifest is the machine-readable index written into each archive.
type zipManifest struct {
	SubmissionID string    `json:"submissionId"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	Tier         string    `json:"tier"`
	Tags         []string  `json:"tags"`
	SourceIDs    []string  `json:"sourceIds"`
	Attachments  []string  `json:"attachments"`
	ExportedAt   time.Time `json:"exportedAt"`
}

// exportZIP bundles the rendered dossier, a manifest, and the attachment
// objects into a single archive. Attachments whose blobs are missing are
// logged and skipped; the archive is still produced.
func exportZIP(ctx context.Context, info SubmissionInfo, html string, blobs BlobGetter, includeAttachments bool) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := zipManifest{
		SubmissionID: info.ID,
		Title:        info.Title,
		Status:       info.Status,
		Tier:         info.Tier,
		Tags:         info.Tags,
		SourceIDs:    info.SourceIDs,
		Attachments:  []string{},
		ExportedAt:   time.Now().UTC(),
	}

	htmlEntry, err := zw.Create("submission.html")
	if err != nil {
		return nil, fmt.Errorf("create html entry: %w", err)
	}
	if _, err := htmlEntry.Write([]byte(html)); err != nil {
		return nil, fmt.Errorf("write html entry: %w", err)
	}

	if includeAttachments && blobs != nil {
		for _, att := range info.Attachments {
			rc, err := blobs.Get(ctx, att.ObjectKey)
			if err != nil {
				log.Printf("export: attachment %s (%s) unavailable, skipping: %v", att.ID, att.ObjectKey, err)
				continue
			}
			entry, err := zw.Create("attachments/" + att.Filename)
			if err != nil {
				rc.Close()
				return nil, fmt.Errorf("create attachment entry: %w", err)
			}
			if _, err := io.Copy(entry, rc); err != nil {
				rc.Close()
				log.Printf("export: attachment %s (%s) read failed, archive entry may be truncated: %v", att.ID, att.ObjectKey, err)
				continue
			}
			rc.Close()
			manifest.Attachments = append(manifest.Attachments, att.Filename)
		}
	}

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
		Filename: sanitizeFilename(info.Title) + ".zip",
		MimeType: "application/zip",
	}, nil
}
