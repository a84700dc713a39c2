package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"masthead/api/internal/config"
	"masthead/api/internal/search"
	"masthead/api/internal/store"
)

type fakeStore struct {
	operators    map[string]store.Operator
	contributors map[string]store.Contributor
	submissions  map[string]store.Submission
	tags         map[string]map[string]struct{}
	sources      map[string]map[string]struct{}
	attachments  map[string]store.Attachment
	mergeLog     []store.MergeLogEntry
	revoked      map[string]bool

	mergeErr error
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		operators:    map[string]store.Operator{},
		contributors: map[string]store.Contributor{},
		submissions:  map[string]store.Submission{},
		tags:         map[string]map[string]struct{}{},
		sources:      map[string]map[string]struct{}{},
		attachments:  map[string]store.Attachment{},
		revoked:      map[string]bool{},
	}
}

func (f *fakeStore) GetOperatorByEmail(_ context.Context, email string) (store.Operator, error) {
	for _, op := range f.operators {
		if strings.EqualFold(op.Email, email) {
			return op, nil
		}
	}
	return store.Operator{}, sql.ErrNoRows
}

func (f *fakeStore) GetOperatorByID(_ context.Context, id string) (store.Operator, error) {
	op, ok := f.operators[id]
	if !ok {
		return store.Operator{}, sql.ErrNoRows
	}
	return op, nil
}

func (f *fakeStore) CreateOperator(_ context.Context, op store.Operator) error {
	f.operators[op.ID] = op
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeStore) ListContributors(_ context.Context) ([]store.Contributor, error) {
	out := make([]store.Contributor, 0, len(f.contributors))
	for _, c := range f.contributors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetContributor(_ context.Context, id string) (store.Contributor, error) {
	c, ok := f.contributors[id]
	if !ok {
		return store.Contributor{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) EnsureContributor(_ context.Context, c store.Contributor) (store.Contributor, error) {
	for _, existing := range f.contributors {
		if strings.EqualFold(existing.Email, c.Email) {
			return existing, nil
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	f.contributors[c.ID] = c
	return c, nil
}

func (f *fakeStore) joined(sub store.Submission) store.Submission {
	if sub.ContributorID != nil {
		if c, ok := f.contributors[*sub.ContributorID]; ok {
			sub.ContactName = c.Name
			sub.ContactEmail = c.Email
		}
	}
	return sub
}

func (f *fakeStore) ListSubmissionsWithContributor(_ context.Context) ([]store.Submission, error) {
	out := make([]store.Submission, 0, len(f.submissions))
	for _, sub := range f.submissions {
		out = append(out, f.joined(sub))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) GetSubmission(_ context.Context, id string) (store.Submission, error) {
	sub, ok := f.submissions[id]
	if !ok {
		return store.Submission{}, sql.ErrNoRows
	}
	return f.joined(sub), nil
}

func (f *fakeStore) GetSubmissionDetail(ctx context.Context, id string) (store.SubmissionDetail, error) {
	sub, err := f.GetSubmission(ctx, id)
	if err != nil {
		return store.SubmissionDetail{}, err
	}
	tags, _ := f.ListTags(ctx, id)
	sources, _ := f.ListSourceIDs(ctx, id)
	attachments, _ := f.ListAttachments(ctx, id)
	return store.SubmissionDetail{
		Submission:  sub,
		Tags:        tags,
		SourceIDs:   sources,
		Attachments: attachments,
	}, nil
}

func (f *fakeStore) InsertSubmission(_ context.Context, sub store.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = sub.CreatedAt
	f.submissions[sub.ID] = sub
	return nil
}

func (f *fakeStore) UpdateSubmission(_ context.Context, id, title, status, tier string, bonuses []string, updatedBy string) error {
	sub, ok := f.submissions[id]
	if !ok {
		return sql.ErrNoRows
	}
	sub.Title = title
	sub.Status = status
	sub.Tier = tier
	sub.Bonuses = bonuses
	sub.UpdatedBy = updatedBy
	sub.UpdatedAt = time.Now()
	f.submissions[id] = sub
	return nil
}

func (f *fakeStore) ListTags(_ context.Context, id string) ([]string, error) {
	out := make([]string, 0, len(f.tags[id]))
	for tag := range f.tags[id] {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) AddTag(_ context.Context, id, tag string) error {
	if f.tags[id] == nil {
		f.tags[id] = map[string]struct{}{}
	}
	f.tags[id][tag] = struct{}{}
	return nil
}

func (f *fakeStore) ListSourceIDs(_ context.Context, id string) ([]string, error) {
	out := make([]string, 0, len(f.sources[id]))
	for src := range f.sources[id] {
		out = append(out, src)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) AddSourceID(_ context.Context, id, sourceID string) error {
	if f.sources[id] == nil {
		f.sources[id] = map[string]struct{}{}
	}
	f.sources[id][sourceID] = struct{}{}
	return nil
}

func (f *fakeStore) SourceIDExists(_ context.Context, sourceID string) (bool, error) {
	for _, set := range f.sources {
		if _, ok := set[sourceID]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListAttachments(_ context.Context, submissionID string) ([]store.Attachment, error) {
	out := make([]store.Attachment, 0)
	for _, att := range f.attachments {
		if att.SubmissionID == submissionID {
			out = append(out, att)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, id string) (store.Attachment, error) {
	att, ok := f.attachments[id]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return att, nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, att store.Attachment) error {
	f.attachments[att.ID] = att
	return nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, id string) error {
	if _, ok := f.attachments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.attachments, id)
	return nil
}

func (f *fakeStore) MergeSubmissions(_ context.Context, survivorID string, discardIDs []string, mergedBy string) (store.MergeLogEntry, error) {
	if f.mergeErr != nil {
		return store.MergeLogEntry{}, f.mergeErr
	}

	var missing []string
	ids := append([]string{survivorID}, discardIDs...)
	for _, id := range ids {
		if _, ok := f.submissions[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return store.MergeLogEntry{}, &store.MissingError{IDs: missing}
	}

	for _, discardID := range discardIDs {
		for src := range f.sources[discardID] {
			if f.sources[survivorID] == nil {
				f.sources[survivorID] = map[string]struct{}{}
			}
			f.sources[survivorID][src] = struct{}{}
		}
		for tag := range f.tags[discardID] {
			if f.tags[survivorID] == nil {
				f.tags[survivorID] = map[string]struct{}{}
			}
			f.tags[survivorID][tag] = struct{}{}
		}
		for id, att := range f.attachments {
			if att.SubmissionID == discardID {
				att.SubmissionID = survivorID
				f.attachments[id] = att
			}
		}
		delete(f.sources, discardID)
		delete(f.tags, discardID)
		delete(f.submissions, discardID)
	}

	mergedIDs := append([]string(nil), discardIDs...)
	sort.Strings(mergedIDs)
	entry := store.MergeLogEntry{
		ID:          int64(len(f.mergeLog) + 1),
		SurvivorID:  survivorID,
		MergedIDs:   mergedIDs,
		MergedCount: len(mergedIDs),
		MergedBy:    mergedBy,
		Note:        fmt.Sprintf("Merged %d submissions into %s", len(mergedIDs), survivorID),
		MergedAt:    time.Now(),
	}
	f.mergeLog = append(f.mergeLog, entry)
	return entry, nil
}

func (f *fakeStore) DeleteSubmission(_ context.Context, id string) error {
	if _, ok := f.submissions[id]; !ok {
		return &store.MissingError{IDs: []string{id}}
	}
	for attID, att := range f.attachments {
		if att.SubmissionID == id {
			delete(f.attachments, attID)
		}
	}
	delete(f.sources, id)
	delete(f.tags, id)
	delete(f.submissions, id)
	return nil
}

func (f *fakeStore) ListMergeLog(_ context.Context, limit int) ([]store.MergeLogEntry, error) {
	out := append([]store.MergeLogEntry(nil), f.mergeLog...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Summary(_ context.Context) (store.SummaryCounts, error) {
	return store.SummaryCounts{
		Submissions:  len(f.submissions),
		Contributors: len(f.contributors),
		Attachments:  len(f.attachments),
		Merges:       len(f.mergeLog),
	}, nil
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

type fakeSessions struct {
	sessions map[string]string // token hash -> operator id
	ops      map[string]store.Operator
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]string{}, ops: map[string]store.Operator{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, operatorID string, _ time.Time) error {
	f.sessions[tokenHash] = operatorID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.Operator, error) {
	id, ok := f.sessions[tokenHash]
	if !ok {
		return store.Operator{}, sql.ErrNoRows
	}
	if op, ok := f.ops[id]; ok {
		return op, nil
	}
	return store.Operator{ID: id}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

type fakeBlobs struct {
	objects   map[string][]byte
	failPut   bool
	failDel   bool
	deleted   []string
	putCalled []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if f.failPut {
		return errors.New("put refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	f.putCalled = append(f.putCalled, key)
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.failDel {
		return errors.New("delete refused")
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeSearch struct {
	indexedSubmissions []search.SubmissionRecord
	indexedMerges      []search.MergeRecord
	deleted            []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexSubmission(rec search.SubmissionRecord) {
	f.indexedSubmissions = append(f.indexedSubmissions, rec)
}
func (f *fakeSearch) IndexContributor(search.ContributorRecord) {}
func (f *fakeSearch) IndexMerge(rec search.MergeRecord) {
	f.indexedMerges = append(f.indexedMerges, rec)
}
func (f *fakeSearch) DeleteSubmission(id string) {
	f.deleted = append(f.deleted, id)
}

func testService(t *testing.T, fs *fakeStore) (*Service, *fakeBlobs, *fakeSearch) {
	t.Helper()
	blobs := newFakeBlobs()
	searchIdx := &fakeSearch{}
	s := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: newFakeSessions(),
		blobs:    blobs,
		search:   searchIdx,
	}
	return s, blobs, searchIdx
}

func seedSubmission(fs *fakeStore, id, title string, contributorID *string, createdAt time.Time, sources, tags []string) {
	fs.submissions[id] = store.Submission{
		ID:            id,
		Title:         title,
		ContributorID: contributorID,
		Status:        "new",
		Tier:          "standard",
		Bonuses:       []string{},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	for _, src := range sources {
		if fs.sources[id] == nil {
			fs.sources[id] = map[string]struct{}{}
		}
		fs.sources[id][src] = struct{}{}
	}
	for _, tag := range tags {
		if fs.tags[id] == nil {
			fs.tags[id] = map[string]struct{}{}
		}
		fs.tags[id][tag] = struct{}{}
	}
}

func seedContributor(fs *fakeStore, id, name, email string) *string {
	fs.contributors[id] = store.Contributor{ID: id, Name: name, Email: email, CreatedAt: time.Now()}
	return &id
}

func TestListDuplicateGroups(t *testing.T) {
	fs := newFakeStore()
	priya := seedContributor(fs, "ctr_1", "Priya Narayan", "priya@example.org")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedSubmission(fs, "sub_b", "Harbor  Lights at  Dusk", priya, base.Add(time.Hour), []string{"email-88"}, nil)
	seedSubmission(fs, "sub_a", "Harbor Lights at Dusk", priya, base, []string{"form-2201"}, nil)
	seedSubmission(fs, "sub_solo", "Night Bus", priya, base, []string{"form-2202"}, nil)
	seedSubmission(fs, "sub_anon1", "Letters to the Editor", nil, base, []string{"mail-14"}, nil)
	seedSubmission(fs, "sub_anon2", "Letters to the Editor", nil, base.Add(time.Minute), []string{"mail-15"}, nil)

	s, _, _ := testService(t, fs)
	payload, err := s.ListDuplicateGroups(context.Background())
	if err != nil {
		t.Fatalf("ListDuplicateGroups() error = %v", err)
	}
	if payload["count"] != 2 {
		t.Fatalf("expected 2 groups, got %v", payload["count"])
	}

	groups := payload["groups"].([]map[string]any)
	var titled, anonymous map[string]any
	for _, g := range groups {
		if g["anonymous"].(bool) {
			anonymous = g
		} else {
			titled = g
		}
	}
	if titled == nil || anonymous == nil {
		t.Fatalf("expected one titled and one anonymous group, got %v", groups)
	}

	members := titled["members"].([]map[string]any)
	if len(members) != 2 {
		t.Fatalf("titled group has %d members, want 2", len(members))
	}
	// Oldest member first.
	if members[0]["id"] != "sub_a" || members[1]["id"] != "sub_b" {
		t.Errorf("member order = [%v %v], want [sub_a sub_b]", members[0]["id"], members[1]["id"])
	}

	anonMembers := anonymous["members"].([]map[string]any)
	if len(anonMembers) != 2 {
		t.Errorf("anonymous group has %d members, want 2", len(anonMembers))
	}
}

func TestMergeValidation(t *testing.T) {
	s, _, _ := testService(t, newFakeStore())
	ctx := context.Background()

	cases := []struct {
		name  string
		input MergeInput
	}{
		{"empty survivor", MergeInput{SurvivorID: "", DiscardIDs: []string{"sub_b"}}},
		{"empty discards", MergeInput{SurvivorID: "sub_a", DiscardIDs: nil}},
		{"blank discard", MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"  "}}},
		{"survivor in discards", MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"sub_b", "sub_a"}}},
		{"repeated discard", MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"sub_b", "sub_b"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.MergeSubmissions(ctx, tc.input, "Dana")
			var domainErr *DomainError
			if !errors.As(err, &domainErr) {
				t.Fatalf("expected DomainError, got %v", err)
			}
			if domainErr.Code != "VALIDATION_ERROR" || domainErr.Status != 422 {
				t.Errorf("got %d %s, want 422 VALIDATION_ERROR", domainErr.Status, domainErr.Code)
			}
		})
	}
}

func TestMergeMissingIDs(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), []string{"form-1"}, nil)
	s, _, _ := testService(t, fs)

	_, err := s.MergeSubmissions(context.Background(), MergeInput{
		SurvivorID: "sub_a",
		DiscardIDs: []string{"sub_gone", "sub_also_gone"},
	}, "Dana")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "NOT_FOUND" || domainErr.Status != 404 {
		t.Fatalf("got %d %s, want 404 NOT_FOUND", domainErr.Status, domainErr.Code)
	}
	details := domainErr.Details.(map[string]any)
	missing := details["missingIds"].([]string)
	if len(missing) != 2 {
		t.Errorf("missingIds = %v, want both absent ids", missing)
	}
}

func TestMergeHappyPathAndRepeatMerge(t *testing.T) {
	fs := newFakeStore()
	priya := seedContributor(fs, "ctr_1", "Priya Narayan", "priya@example.org")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedSubmission(fs, "sub_a", "Harbor Lights at Dusk", priya, base, []string{"form-2201"}, []string{"photography"})
	seedSubmission(fs, "sub_b", "Harbor  Lights at  Dusk", priya, base.Add(time.Hour), []string{"email-88"}, []string{"photography", "waterfront"})
	fs.attachments["att_1"] = store.Attachment{ID: "att_1", SubmissionID: "sub_b", ObjectKey: "sub_b/photo.jpg", Filename: "photo.jpg"}

	s, _, searchIdx := testService(t, fs)
	ctx := context.Background()

	payload, err := s.MergeSubmissions(ctx, MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"sub_b"}}, "Dana")
	if err != nil {
		t.Fatalf("MergeSubmissions() error = %v", err)
	}

	merge := payload["merge"].(map[string]any)
	if merge["mergedCount"] != 1 {
		t.Errorf("mergedCount = %v, want 1", merge["mergedCount"])
	}
	if merge["mergedBy"] != "Dana" {
		t.Errorf("mergedBy = %v", merge["mergedBy"])
	}

	// Source ids unioned onto the survivor, tags set-unioned, attachment moved.
	sources, _ := fs.ListSourceIDs(ctx, "sub_a")
	if len(sources) != 2 {
		t.Errorf("survivor sources = %v, want both", sources)
	}
	tags, _ := fs.ListTags(ctx, "sub_a")
	if len(tags) != 2 {
		t.Errorf("survivor tags = %v, want photography+waterfront", tags)
	}
	if fs.attachments["att_1"].SubmissionID != "sub_a" {
		t.Errorf("attachment not reassigned: %v", fs.attachments["att_1"].SubmissionID)
	}
	if _, ok := fs.submissions["sub_b"]; ok {
		t.Error("discard row still present")
	}

	if len(searchIdx.deleted) != 1 || searchIdx.deleted[0] != "sub_b" {
		t.Errorf("search deletions = %v, want [sub_b]", searchIdx.deleted)
	}
	if len(searchIdx.indexedMerges) != 1 {
		t.Errorf("merge not indexed: %v", searchIdx.indexedMerges)
	}

	// Re-running the same merge names the already-absorbed discard.
	_, err = s.MergeSubmissions(ctx, MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"sub_b"}}, "Dana")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("repeat merge: got %v, want NOT_FOUND", err)
	}
}

func TestMergeTransactionFailure(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	seedSubmission(fs, "sub_b", "Harbor Lights", nil, time.Now(), nil, nil)
	fs.mergeErr = errors.New("deadlock detected")
	s, _, _ := testService(t, fs)

	_, err := s.MergeSubmissions(context.Background(), MergeInput{SurvivorID: "sub_a", DiscardIDs: []string{"sub_b"}}, "Dana")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "TRANSACTION_ERROR" || domainErr.Status != 409 {
		t.Errorf("got %d %s, want 409 TRANSACTION_ERROR", domainErr.Status, domainErr.Code)
	}
	if !strings.Contains(domainErr.Message, "no changes were applied") {
		t.Errorf("message %q should state the rollback", domainErr.Message)
	}
}

func TestDeleteSubmissionBestEffortBlobs(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	fs.attachments["att_1"] = store.Attachment{ID: "att_1", SubmissionID: "sub_a", ObjectKey: "sub_a/one.jpg"}
	fs.attachments["att_2"] = store.Attachment{ID: "att_2", SubmissionID: "sub_a", ObjectKey: "sub_a/two.jpg"}

	s, blobs, searchIdx := testService(t, fs)
	blobs.failDel = true

	payload, err := s.DeleteSubmission(context.Background(), "sub_a")
	if err != nil {
		t.Fatalf("blob failures must not fail the delete: %v", err)
	}
	if payload["blobsOrphaned"] != 2 {
		t.Errorf("blobsOrphaned = %v, want 2", payload["blobsOrphaned"])
	}
	if _, ok := fs.submissions["sub_a"]; ok {
		t.Error("metadata row should be gone regardless of blob outcome")
	}
	if len(searchIdx.deleted) != 1 {
		t.Errorf("search deletions = %v", searchIdx.deleted)
	}
}

func TestDeleteSubmissionNotFound(t *testing.T) {
	s, _, _ := testService(t, newFakeStore())
	_, err := s.DeleteSubmission(context.Background(), "sub_gone")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("got %v, want NOT_FOUND", err)
	}
}

func TestImportIntake(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_existing", "Old Piece", nil, time.Now(), []string{"form-1"}, nil)
	s, _, searchIdx := testService(t, fs)
	ctx := context.Background()

	payload, err := s.ImportIntake(ctx, []IntakeItem{
		{SourceID: "form-1", Title: "Old Piece Again"},
		{SourceID: "form-2", Title: "Fresh Piece", ContributorName: "Marcus Klein", ContributorEmail: "marcus@example.org", Tags: []string{"transit"},
			Attachments: []IntakeAttachment{{ObjectKey: "intake/form-2/notes.pdf", Filename: "notes.pdf", ContentType: "application/pdf", SizeBytes: 12}}},
		{SourceID: "", Title: "No Source"},
	}, "Dana")
	if err != nil {
		t.Fatalf("ImportIntake() error = %v", err)
	}

	if payload["importedCount"] != 1 {
		t.Errorf("importedCount = %v, want 1", payload["importedCount"])
	}
	if payload["skippedCount"] != 1 {
		t.Errorf("skippedCount = %v, want 1", payload["skippedCount"])
	}
	rejected := payload["rejected"].([]map[string]any)
	if len(rejected) != 1 || rejected[0]["index"] != 2 {
		t.Errorf("rejected = %v", rejected)
	}

	imported := payload["imported"].([]string)
	sub, err := fs.GetSubmission(ctx, imported[0])
	if err != nil {
		t.Fatalf("imported submission missing: %v", err)
	}
	if sub.ContactEmail != "marcus@example.org" {
		t.Errorf("contributor not linked: %q", sub.ContactEmail)
	}
	if sub.Status != "new" {
		t.Errorf("status = %q, want new", sub.Status)
	}
	if len(searchIdx.indexedSubmissions) != 1 {
		t.Errorf("indexed %d submissions, want 1", len(searchIdx.indexedSubmissions))
	}
	atts, _ := fs.ListAttachments(ctx, imported[0])
	if len(atts) != 1 || atts[0].ObjectKey != "intake/form-2/notes.pdf" {
		t.Errorf("intake attachments = %+v", atts)
	}

	// Re-running the batch is a no-op for what already landed.
	again, err := s.ImportIntake(ctx, []IntakeItem{
		{SourceID: "form-2", Title: "Fresh Piece"},
	}, "Dana")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again["importedCount"] != 0 || again["skippedCount"] != 1 {
		t.Errorf("re-import = %v/%v, want 0 imported 1 skipped", again["importedCount"], again["skippedCount"])
	}
}

func TestImportIntakeEmptyBatch(t *testing.T) {
	s, _, _ := testService(t, newFakeStore())
	_, err := s.ImportIntake(context.Background(), nil, "Dana")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}
}

func TestCreateContributor(t *testing.T) {
	fs := newFakeStore()
	s, _, _ := testService(t, fs)
	ctx := context.Background()

	payload, err := s.CreateContributor(ctx, "Priya Narayan", "priya@example.org")
	if err != nil {
		t.Fatalf("CreateContributor() error = %v", err)
	}
	if payload["name"] != "Priya Narayan" {
		t.Errorf("payload = %v", payload)
	}

	// Same email resolves to the existing row.
	again, err := s.CreateContributor(ctx, "P. Narayan", "PRIYA@example.org")
	if err != nil {
		t.Fatalf("CreateContributor() error = %v", err)
	}
	if again["id"] != payload["id"] {
		t.Errorf("duplicate email created a second contributor: %v vs %v", again["id"], payload["id"])
	}

	if _, err := s.CreateContributor(ctx, "  ", ""); err == nil {
		t.Error("blank contributor should be rejected")
	}
}

func TestCreateSubmissionRejectsUnknownStatus(t *testing.T) {
	s, _, _ := testService(t, newFakeStore())
	_, err := s.CreateSubmission(context.Background(), SubmissionInput{Title: "X", Status: "published"}, "Dana")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}
}

func TestUpdateSubmissionKeepsBonusesWhenOmitted(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	sub := fs.submissions["sub_a"]
	sub.Bonuses = []string{"rush"}
	fs.submissions["sub_a"] = sub

	s, _, _ := testService(t, fs)
	ctx := context.Background()

	if _, err := s.UpdateSubmission(ctx, "sub_a", SubmissionInput{Status: "review"}, "Dana"); err != nil {
		t.Fatalf("UpdateSubmission() error = %v", err)
	}
	if got := fs.submissions["sub_a"].Bonuses; len(got) != 1 || got[0] != "rush" {
		t.Errorf("bonuses = %v, want [rush] preserved", got)
	}

	if _, err := s.UpdateSubmission(ctx, "sub_a", SubmissionInput{Bonuses: []string{}}, "Dana"); err != nil {
		t.Fatalf("UpdateSubmission() error = %v", err)
	}
	if got := fs.submissions["sub_a"].Bonuses; len(got) != 0 {
		t.Errorf("bonuses = %v, want cleared", got)
	}
}

func TestUploadAttachmentRollsBackBlobOnRowFailure(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	s, blobs, _ := testService(t, fs)
	ctx := context.Background()

	payload, err := s.UploadAttachment(ctx, "sub_a", "photo.jpg", "image/jpeg", 3, strings.NewReader("jpg"))
	if err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	if payload["filename"] != "photo.jpg" {
		t.Errorf("payload = %v", payload)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("blob store holds %d objects, want 1", len(blobs.objects))
	}

	// Unknown submission: nothing written anywhere.
	if _, err := s.UploadAttachment(ctx, "sub_gone", "x.txt", "text/plain", 1, strings.NewReader("x")); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("got %v, want sql.ErrNoRows", err)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("blob written for unknown submission")
	}
}

func TestUploadAttachmentBlobFailure(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	s, blobs, _ := testService(t, fs)
	blobs.failPut = true

	_, err := s.UploadAttachment(context.Background(), "sub_a", "photo.jpg", "image/jpeg", 3, strings.NewReader("jpg"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fs.attachments) != 0 {
		t.Error("metadata row written despite blob failure")
	}
}

func TestDeleteAttachment(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	fs.attachments["att_1"] = store.Attachment{ID: "att_1", SubmissionID: "sub_a", ObjectKey: "sub_a/one.jpg"}
	s, blobs, _ := testService(t, fs)
	blobs.objects["sub_a/one.jpg"] = []byte("jpg")

	if err := s.DeleteAttachment(context.Background(), "att_1"); err != nil {
		t.Fatalf("DeleteAttachment() error = %v", err)
	}
	if _, ok := fs.attachments["att_1"]; ok {
		t.Error("row still present")
	}
	if _, ok := blobs.objects["sub_a/one.jpg"]; ok {
		t.Error("blob still present")
	}
}

func TestSummaryIncludesDuplicateGroups(t *testing.T) {
	fs := newFakeStore()
	priya := seedContributor(fs, "ctr_1", "Priya Narayan", "priya@example.org")
	base := time.Now()
	seedSubmission(fs, "sub_a", "Harbor Lights", priya, base, nil, nil)
	seedSubmission(fs, "sub_b", "harbor lights", priya, base.Add(time.Minute), nil, nil)
	s, _, _ := testService(t, fs)

	payload, err := s.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if payload["submissions"] != 2 {
		t.Errorf("submissions = %v", payload["submissions"])
	}
	if payload["duplicateGroups"] != 1 {
		t.Errorf("duplicateGroups = %v, want 1", payload["duplicateGroups"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	fs := newFakeStore()
	fs.operators["op_1"] = store.Operator{
		ID:          "op_1",
		DisplayName: "Dana",
		Email:       "dana@masthead.test",
		Role:        "editor",
	}
	s, _, _ := testService(t, fs)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "op_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}
	if session.Role != "editor" {
		t.Errorf("role = %q", session.Role)
	}

	parsed, err := s.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.OperatorName != "Dana" {
		t.Errorf("operator name = %q", parsed.OperatorName)
	}

	refreshed, err := s.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.OperatorID != "op_1" {
		t.Errorf("refreshed operator = %q", refreshed.OperatorID)
	}

	// Refresh tokens are single-use.
	if _, err := s.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("reused refresh token should fail")
	}

	// Logout revokes the access token.
	if err := s.Logout(ctx, parsed, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := s.SessionFromToken(ctx, session.Token); err == nil {
		t.Error("revoked token should be rejected")
	}
}
