package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Piece v1.2", "My-Piece-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "submission"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderSubmissionHTML(t *testing.T) {
	data := TemplateData{
		Title:            "Harbor Lights at Dusk",
		ContributorName:  "Priya Narayan",
		ContributorEmail: "priya@example.org",
		Status:           "accepted",
		Tier:             "feature",
		Bonuses:          []string{"front-page"},
		Tags:             []string{"photography", "waterfront"},
		SourceIDs:        []string{"src-form-81"},
		RateDollars:      "$75.00",
		UpdatedBy:        "Dana",
		UpdatedAt:        time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}

	html, err := RenderSubmissionHTML(data)
	if err != nil {
		t.Fatalf("RenderSubmissionHTML() error = %v", err)
	}

	for _, want := range []string{
		"Harbor Lights at Dusk",
		"Priya Narayan",
		"priya@example.org",
		"feature",
		"$75.00",
		"photography",
		"src-form-81",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestRenderSubmissionHTMLWithoutContributor(t *testing.T) {
	html, err := RenderSubmissionHTML(TemplateData{
		Title:  "Anonymous Tip",
		Status: "new",
		Tier:   "standard",
	})
	if err != nil {
		t.Fatalf("RenderSubmissionHTML() error = %v", err)
	}
	if !strings.Contains(html, "No contributor on file") {
		t.Error("HTML should flag the missing contributor")
	}
}

type fakeBlobGetter struct {
	objects map[string][]byte
}

func (f *fakeBlobGetter) Get(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestExportZIPBundlesAttachmentsAndManifest(t *testing.T) {
	info := SubmissionInfo{
		ID:     "sub_1",
		Title:  "Field Notes",
		Status: "new",
		Tier:   "standard",
		Tags:   []string{"notes"},
		Attachments: []AttachmentInfo{
			{ID: "att_1", ObjectKey: "sub_1/photo.jpg", Filename: "photo.jpg", ContentType: "image/jpeg", SizeBytes: 3},
			{ID: "att_2", ObjectKey: "sub_1/gone.pdf", Filename: "gone.pdf", ContentType: "application/pdf", SizeBytes: 9},
		},
	}
	blobs := &fakeBlobGetter{objects: map[string][]byte{
		"sub_1/photo.jpg": []byte("jpg"),
	}}

	result, err := exportZIP(context.Background(), info, "<html>dossier</html>", blobs, true)
	if err != nil {
		t.Fatalf("exportZIP() error = %v", err)
	}
	if result.MimeType != "application/zip" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}

	zr, err := zip.NewReader(bytes.NewReader(result.Data), int64(len(result.Data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["submission.html"] {
		t.Error("archive missing submission.html")
	}
	if !names["manifest.json"] {
		t.Error("archive missing manifest.json")
	}
	if !names["attachments/photo.jpg"] {
		t.Error("archive missing attachments/photo.jpg")
	}
	// Missing blob is skipped, not fatal.
	if names["attachments/gone.pdf"] {
		t.Error("missing blob should be skipped")
	}

	mf, err := zr.Open("manifest.json")
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer mf.Close()
	var manifest zipManifest
	if err := json.NewDecoder(mf).Decode(&manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.SubmissionID != "sub_1" {
		t.Errorf("manifest submissionId = %q", manifest.SubmissionID)
	}
	if len(manifest.Attachments) != 1 || manifest.Attachments[0] != "photo.jpg" {
		t.Errorf("manifest attachments = %v", manifest.Attachments)
	}
}

type fakeDataStore struct {
	infos map[string]SubmissionInfo
}

func (f *fakeDataStore) GetSubmissionForExport(ctx context.Context, id string) (SubmissionInfo, error) {
	info, ok := f.infos[id]
	if !ok {
		return SubmissionInfo{}, errors.New("submission not found")
	}
	return info, nil
}

func TestExportBundle(t *testing.T) {
	store := &fakeDataStore{infos: map[string]SubmissionInfo{
		"sub_1": {
			ID: "sub_1", Title: "Field Notes", Status: "new", Tier: "standard",
			Attachments: []AttachmentInfo{
				{ID: "att_1", ObjectKey: "sub_1/photo.jpg", Filename: "photo.jpg", ContentType: "image/jpeg", SizeBytes: 3},
			},
		},
		"sub_2": {ID: "sub_2", Title: "Short Piece", Status: "accepted", Tier: "feature"},
	}}
	blobs := &fakeBlobGetter{objects: map[string][]byte{
		"sub_1/photo.jpg": []byte("jpg"),
	}}
	svc := NewService(store, blobs)

	result, err := svc.ExportBundle(context.Background(), []string{"sub_1", "sub_2"}, true)
	if err != nil {
		t.Fatalf("ExportBundle() error = %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(result.Data), int64(len(result.Data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["Field-Notes-sub_1/submission.html"] {
		t.Error("archive missing sub_1 dossier")
	}
	if !names["Field-Notes-sub_1/attachments/photo.jpg"] {
		t.Error("archive missing sub_1 attachment")
	}
	if !names["Short-Piece-sub_2/submission.html"] {
		t.Error("archive missing sub_2 dossier")
	}
	if !names["manifest.json"] {
		t.Error("archive missing manifest")
	}

	mf, err := zr.Open("manifest.json")
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer mf.Close()
	var manifest bundleManifest
	if err := json.NewDecoder(mf).Decode(&manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Count != 2 {
		t.Errorf("manifest count = %d, want 2", manifest.Count)
	}

	// An unknown id fails the whole bundle.
	if _, err := svc.ExportBundle(context.Background(), []string{"sub_gone"}, false); err == nil {
		t.Error("missing submission should fail the bundle")
	}
}

func TestExportZIPWithoutAttachments(t *testing.T) {
	info := SubmissionInfo{ID: "sub_2", Title: "Short Piece", Status: "new", Tier: "standard"}

	result, err := exportZIP(context.Background(), info, "<html>x</html>", nil, false)
	if err != nil {
		t.Fatalf("exportZIP() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(result.Data), int64(len(result.Data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("expected 2 entries (html + manifest), got %d", len(zr.File))
	}
}
