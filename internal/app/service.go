package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"masthead/api/internal/auth"
	"masthead/api/internal/authpw"
	"masthead/api/internal/blob"
	"masthead/api/internal/config"
	"masthead/api/internal/dedupe"
	"masthead/api/internal/email"
	"masthead/api/internal/export"
	"masthead/api/internal/payrate"
	"masthead/api/internal/rbac"
	"masthead/api/internal/search"
	"masthead/api/internal/store"
	"masthead/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	OperatorID   string
	OperatorName string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type SubmissionInput struct {
	Title            string   `json:"title"`
	ContributorName  string   `json:"contributorName"`
	ContributorEmail string   `json:"contributorEmail"`
	Status           string   `json:"status"`
	Tier             string   `json:"tier"`
	Bonuses          []string `json:"bonuses"`
	Tags             []string `json:"tags"`
}

type IntakeItem struct {
	SourceID         string             `json:"sourceId"`
	Title            string             `json:"title"`
	ContributorName  string             `json:"contributorName"`
	ContributorEmail string             `json:"contributorEmail"`
	Tier             string             `json:"tier"`
	Bonuses          []string           `json:"bonuses"`
	Tags             []string           `json:"tags"`
	Attachments      []IntakeAttachment `json:"attachments"`
}

// IntakeAttachment references an object the intake pipeline already placed in
// the blob store; import only records the metadata row.
type IntakeAttachment struct {
	ObjectKey   string `json:"objectKey"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type MergeInput struct {
	SurvivorID string   `json:"survivorId"`
	DiscardIDs []string `json:"discardIds"`
}

var allowedStatuses = map[string]struct{}{
	"new":      {},
	"review":   {},
	"accepted": {},
	"declined": {},
	"archived": {},
}

type dataStore interface {
	GetOperatorByEmail(context.Context, string) (store.Operator, error)
	GetOperatorByID(context.Context, string) (store.Operator, error)
	CreateOperator(context.Context, store.Operator) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListContributors(context.Context) ([]store.Contributor, error)
	GetContributor(context.Context, string) (store.Contributor, error)
	EnsureContributor(context.Context, store.Contributor) (store.Contributor, error)

	ListSubmissionsWithContributor(context.Context) ([]store.Submission, error)
	GetSubmission(context.Context, string) (store.Submission, error)
	GetSubmissionDetail(context.Context, string) (store.SubmissionDetail, error)
	InsertSubmission(context.Context, store.Submission) error
	UpdateSubmission(context.Context, string, string, string, string, []string, string) error

	ListTags(context.Context, string) ([]string, error)
	AddTag(context.Context, string, string) error
	ListSourceIDs(context.Context, string) ([]string, error)
	AddSourceID(context.Context, string, string) error
	SourceIDExists(context.Context, string) (bool, error)

	ListAttachments(context.Context, string) ([]store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)
	InsertAttachment(context.Context, store.Attachment) error
	DeleteAttachment(context.Context, string) error

	MergeSubmissions(context.Context, string, []string, string) (store.MergeLogEntry, error)
	DeleteSubmission(context.Context, string) error
	ListMergeLog(context.Context, int) ([]store.MergeLogEntry, error)

	Summary(context.Context) (store.SummaryCounts, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Operator, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexSubmission(rec search.SubmissionRecord)
	IndexContributor(rec search.ContributorRecord)
	IndexMerge(rec search.MergeRecord)
	DeleteSubmission(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	ExportBundle(ctx context.Context, ids []string, includeAttachments bool) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    blobStore
	search   searchIndex
	exporter exporter
	authPw   *authpw.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobs *blob.Store, searchSvc *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, blobs, searchSvc)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, blobs *blob.Store, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authPw:   authpw.NewService(dataStore),
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
	if blobs != nil {
		s.blobs = blobs
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	var blobGetter export.BlobGetter
	if blobs != nil {
		blobGetter = blobs
	}
	s.exporter = export.NewService(s, blobGetter)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) AppBaseURL() string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/")
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Bootstrap seeds demo data on an empty database so a fresh deployment has
// something to look at, including one duplicate pair and one anonymous pair.
func (s *Service) Bootstrap(ctx context.Context) error {
	submissions, err := s.store.ListSubmissionsWithContributor(ctx)
	if err != nil {
		return err
	}
	if len(submissions) > 0 {
		return nil
	}

	priya, err := s.store.EnsureContributor(ctx, store.Contributor{
		ID:    util.NewID("ctr"),
		Name:  "Priya Narayan",
		Email: "priya@example.org",
	})
	if err != nil {
		return err
	}
	marcus, err := s.store.EnsureContributor(ctx, store.Contributor{
		ID:    util.NewID("ctr"),
		Name:  "Marcus Klein",
		Email: "marcus@example.org",
	})
	if err != nil {
		return err
	}

	seeds := []struct {
		ID          string
		Title       string
		Contributor *string
		Status      string
		Tier        string
		Tags        []string
		SourceID    string
	}{
		{ID: "sub-harbor-1", Title: "Harbor Lights at Dusk", Contributor: &priya.ID, Status: "review", Tier: payrate.TierPhotoEssay, Tags: []string{"photography"}, SourceID: "form-2201"},
		{ID: "sub-harbor-2", Title: "Harbor  Lights at  Dusk", Contributor: &priya.ID, Status: "new", Tier: payrate.TierPhotoEssay, Tags: []string{"waterfront"}, SourceID: "email-88"},
		{ID: "sub-transit", Title: "Night Bus: Riding the Owl Routes", Contributor: &marcus.ID, Status: "accepted", Tier: payrate.TierFeature, Tags: []string{"transit"}, SourceID: "form-2202"},
		{ID: "sub-anon-1", Title: "Letters to the Editor", Contributor: nil, Status: "new", Tier: payrate.TierStandard, Tags: nil, SourceID: "mail-drop-14"},
		{ID: "sub-anon-2", Title: "Letters to the Editor", Contributor: nil, Status: "new", Tier: payrate.TierStandard, Tags: nil, SourceID: "mail-drop-15"},
	}

	for _, seed := range seeds {
		if err := s.store.InsertSubmission(ctx, store.Submission{
			ID:            seed.ID,
			Title:         seed.Title,
			ContributorID: seed.Contributor,
			Status:        seed.Status,
			Tier:          seed.Tier,
			Bonuses:       []string{},
			UpdatedBy:     "Masthead",
		}); err != nil {
			return err
		}
		if err := s.store.AddSourceID(ctx, seed.ID, seed.SourceID); err != nil {
			return err
		}
		for _, tag := range seed.Tags {
			if err := s.store.AddTag(ctx, seed.ID, tag); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateSession issues a token pair for an already-authenticated operator.
func (s *Service) CreateSession(ctx context.Context, operatorID string) (Session, error) {
	op, err := s.store.GetOperatorByID(ctx, operatorID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, op)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	op, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session payload is minimal; reload the full operator row.
	full, err := s.store.GetOperatorByID(ctx, op.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full)
}

func (s *Service) issueSession(ctx context.Context, op store.Operator) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   op.ID,
		Name:  op.DisplayName,
		Email: op.Email,
		Role:  op.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), op.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		OperatorID:   op.ID,
		OperatorName: op.DisplayName,
		Email:        op.Email,
		Role:         op.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	op, err := s.store.GetOperatorByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		OperatorID:   op.ID,
		OperatorName: op.DisplayName,
		Email:        op.Email,
		Role:         op.Role,
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ListDuplicateGroups recomputes duplicate groups on demand. Nothing is
// persisted; the view reflects whatever the submissions table holds right now.
func (s *Service) ListDuplicateGroups(ctx context.Context) (map[string]any, error) {
	submissions, err := s.store.ListSubmissionsWithContributor(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]dedupe.Member, 0, len(submissions))
	for _, sub := range submissions {
		members = append(members, dedupe.Member{
			ID:           sub.ID,
			Title:        sub.Title,
			ContactEmail: sub.ContactEmail,
			CreatedAt:    sub.CreatedAt.UnixMilli(),
		})
	}

	groups := dedupe.Detect(members)
	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		groupMembers := make([]map[string]any, 0, len(group.Members))
		for _, m := range group.Members {
			groupMembers = append(groupMembers, map[string]any{
				"id":           m.ID,
				"title":        m.Title,
				"contactEmail": m.ContactEmail,
				"createdAt":    m.CreatedAt,
			})
		}
		items = append(items, map[string]any{
			"key":       group.Key,
			"anonymous": group.Anonymous,
			"count":     len(group.Members),
			"members":   groupMembers,
		})
	}

	return map[string]any{
		"groups": items,
		"count":  len(items),
	}, nil
}

// MergeSubmissions validates the merge request and runs it as one store
// transaction. Blob objects are untouched: attachments change owner, not
// location.
func (s *Service) MergeSubmissions(ctx context.Context, input MergeInput, operatorName string) (map[string]any, error) {
	survivorID := strings.TrimSpace(input.SurvivorID)
	if survivorID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "survivorId is required", nil)
	}
	if len(input.DiscardIDs) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "discardIds must not be empty", nil)
	}

	discardIDs := make([]string, 0, len(input.DiscardIDs))
	seen := make(map[string]struct{}, len(input.DiscardIDs))
	for _, raw := range input.DiscardIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "discardIds must not contain blanks", nil)
		}
		if id == survivorID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "survivor cannot appear in discardIds", map[string]any{"id": id})
		}
		if _, dup := seen[id]; dup {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "discardIds must not repeat", map[string]any{"id": id})
		}
		seen[id] = struct{}{}
		discardIDs = append(discardIDs, id)
	}

	entry, err := s.store.MergeSubmissions(ctx, survivorID, discardIDs, operatorName)
	if err != nil {
		var missing *store.MissingError
		if errors.As(err, &missing) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Some submissions do not exist", map[string]any{"missingIds": missing.IDs})
		}
		log.Printf("merge: transaction failed, rolled back: %v", err)
		return nil, domainError(http.StatusConflict, "TRANSACTION_ERROR", "Merge aborted; no changes were applied", nil)
	}

	if s.search != nil {
		for _, id := range entry.MergedIDs {
			s.search.DeleteSubmission(id)
		}
		s.search.IndexMerge(search.MergeRecord{
			ID:         fmt.Sprintf("%d", entry.ID),
			SurvivorID: entry.SurvivorID,
			Note:       entry.Note,
			MergedBy:   entry.MergedBy,
		})
	}

	detail, err := s.GetSubmissionDetail(ctx, survivorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"survivor": detail,
		"merge": map[string]any{
			"id":          entry.ID,
			"survivorId":  entry.SurvivorID,
			"mergedIds":   entry.MergedIDs,
			"mergedCount": entry.MergedCount,
			"mergedBy":    entry.MergedBy,
			"note":        entry.Note,
			"mergedAt":    entry.MergedAt,
		},
	}, nil
}

// DeleteSubmission removes a submission's metadata transactionally, then makes
// a best-effort pass over its blob objects. A failed blob delete is logged and
// never fails the request; the metadata transaction is authoritative.
func (s *Service) DeleteSubmission(ctx context.Context, submissionID string) (map[string]any, error) {
	attachments, err := s.store.ListAttachments(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteSubmission(ctx, submissionID); err != nil {
		var missing *store.MissingError
		if errors.As(err, &missing) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Submission not found", map[string]any{"missingIds": missing.IDs})
		}
		return nil, err
	}

	orphaned := 0
	if s.blobs != nil {
		for _, att := range attachments {
			if err := s.blobs.Delete(ctx, att.ObjectKey); err != nil {
				orphaned++
				log.Printf("delete: blob %s for attachment %s not removed: %v", att.ObjectKey, att.ID, err)
			}
		}
	} else if len(attachments) > 0 {
		orphaned = len(attachments)
		log.Printf("delete: blob store unavailable, %d objects left behind for %s", len(attachments), submissionID)
	}

	if s.search != nil {
		s.search.DeleteSubmission(submissionID)
	}

	return map[string]any{
		"deleted":            submissionID,
		"attachmentsRemoved": len(attachments) - orphaned,
		"blobsOrphaned":      orphaned,
	}, nil
}

// ImportIntake ingests a batch of intake items. Items whose source id is
// already on file are skipped, which makes re-running an import a no-op.
func (s *Service) ImportIntake(ctx context.Context, items []IntakeItem, operatorName string) (map[string]any, error) {
	if len(items) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "items must not be empty", nil)
	}

	imported := make([]string, 0)
	skipped := make([]string, 0)
	rejected := make([]map[string]any, 0)

	for idx, item := range items {
		sourceID := strings.TrimSpace(item.SourceID)
		title := strings.TrimSpace(item.Title)
		if sourceID == "" || title == "" {
			rejected = append(rejected, map[string]any{
				"index":  idx,
				"reason": "sourceId and title are required",
			})
			continue
		}

		exists, err := s.store.SourceIDExists(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if exists {
			skipped = append(skipped, sourceID)
			continue
		}

		var contributorID *string
		if contactEmail := strings.TrimSpace(item.ContributorEmail); contactEmail != "" {
			contributor, err := s.store.EnsureContributor(ctx, store.Contributor{
				ID:    util.NewID("ctr"),
				Name:  strings.TrimSpace(item.ContributorName),
				Email: contactEmail,
			})
			if err != nil {
				return nil, err
			}
			contributorID = &contributor.ID
			if s.search != nil {
				s.search.IndexContributor(search.ContributorRecord{
					ID:    contributor.ID,
					Name:  contributor.Name,
					Email: contributor.Email,
				})
			}
		}

		tier := strings.TrimSpace(item.Tier)
		if tier == "" {
			tier = payrate.TierStandard
		}
		sub := store.Submission{
			ID:            util.NewID("sub"),
			Title:         title,
			ContributorID: contributorID,
			Status:        "new",
			Tier:          tier,
			Bonuses:       normalizeList(item.Bonuses),
			UpdatedBy:     operatorName,
		}
		if err := s.store.InsertSubmission(ctx, sub); err != nil {
			return nil, err
		}
		if err := s.store.AddSourceID(ctx, sub.ID, sourceID); err != nil {
			return nil, err
		}
		for _, tag := range normalizeList(item.Tags) {
			if err := s.store.AddTag(ctx, sub.ID, tag); err != nil {
				return nil, err
			}
		}
		for _, att := range item.Attachments {
			if strings.TrimSpace(att.ObjectKey) == "" || strings.TrimSpace(att.Filename) == "" {
				continue
			}
			contentType := att.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			if err := s.store.InsertAttachment(ctx, store.Attachment{
				ID:           util.NewID("att"),
				SubmissionID: sub.ID,
				ObjectKey:    att.ObjectKey,
				Filename:     att.Filename,
				ContentType:  contentType,
				SizeBytes:    att.SizeBytes,
			}); err != nil {
				return nil, err
			}
		}

		if s.search != nil {
			s.search.IndexSubmission(search.SubmissionRecord{
				ID:               sub.ID,
				Title:            sub.Title,
				ContributorName:  strings.TrimSpace(item.ContributorName),
				ContributorEmail: strings.TrimSpace(item.ContributorEmail),
				Status:           sub.Status,
				Tier:             sub.Tier,
			})
		}
		imported = append(imported, sub.ID)
	}

	return map[string]any{
		"imported":      imported,
		"importedCount": len(imported),
		"skipped":       skipped,
		"skippedCount":  len(skipped),
		"rejected":      rejected,
	}, nil
}

func (s *Service) ListSubmissions(ctx context.Context) ([]map[string]any, error) {
	submissions, err := s.store.ListSubmissionsWithContributor(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(submissions))
	for _, sub := range submissions {
		items = append(items, submissionPayload(sub))
	}
	return items, nil
}

func (s *Service) GetSubmissionDetail(ctx context.Context, submissionID string) (map[string]any, error) {
	detail, err := s.store.GetSubmissionDetail(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	attachments := make([]map[string]any, 0, len(detail.Attachments))
	for _, att := range detail.Attachments {
		attachments = append(attachments, map[string]any{
			"id":          att.ID,
			"filename":    att.Filename,
			"contentType": att.ContentType,
			"sizeBytes":   att.SizeBytes,
			"createdAt":   att.CreatedAt,
		})
	}

	payload := submissionPayload(detail.Submission)
	payload["tags"] = detail.Tags
	payload["sourceIds"] = detail.SourceIDs
	payload["attachments"] = attachments
	return payload, nil
}

func (s *Service) CreateSubmission(ctx context.Context, input SubmissionInput, operatorName string) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = "new"
	}
	if _, ok := allowedStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": status})
	}
	tier := strings.TrimSpace(input.Tier)
	if tier == "" {
		tier = payrate.TierStandard
	}

	var contributorID *string
	if contactEmail := strings.TrimSpace(input.ContributorEmail); contactEmail != "" {
		contributor, err := s.store.EnsureContributor(ctx, store.Contributor{
			ID:    util.NewID("ctr"),
			Name:  strings.TrimSpace(input.ContributorName),
			Email: contactEmail,
		})
		if err != nil {
			return nil, err
		}
		contributorID = &contributor.ID
	}

	sub := store.Submission{
		ID:            util.NewID("sub"),
		Title:         title,
		ContributorID: contributorID,
		Status:        status,
		Tier:          tier,
		Bonuses:       normalizeList(input.Bonuses),
		UpdatedBy:     operatorName,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	for _, tag := range normalizeList(input.Tags) {
		if err := s.store.AddTag(ctx, sub.ID, tag); err != nil {
			return nil, err
		}
	}

	if s.search != nil {
		s.search.IndexSubmission(search.SubmissionRecord{
			ID:               sub.ID,
			Title:            sub.Title,
			ContributorName:  strings.TrimSpace(input.ContributorName),
			ContributorEmail: strings.TrimSpace(input.ContributorEmail),
			Status:           sub.Status,
			Tier:             sub.Tier,
		})
	}

	return s.GetSubmissionDetail(ctx, sub.ID)
}

func (s *Service) UpdateSubmission(ctx context.Context, submissionID string, input SubmissionInput, operatorName string) (map[string]any, error) {
	existing, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = existing.Title
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = existing.Status
	}
	if _, ok := allowedStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": status})
	}
	tier := strings.TrimSpace(input.Tier)
	if tier == "" {
		tier = existing.Tier
	}
	bonuses := existing.Bonuses
	if input.Bonuses != nil {
		bonuses = normalizeList(input.Bonuses)
	}

	if err := s.store.UpdateSubmission(ctx, submissionID, title, status, tier, bonuses, operatorName); err != nil {
		return nil, err
	}
	for _, tag := range normalizeList(input.Tags) {
		if err := s.store.AddTag(ctx, submissionID, tag); err != nil {
			return nil, err
		}
	}

	if s.search != nil {
		updated, err := s.store.GetSubmission(ctx, submissionID)
		if err == nil {
			s.search.IndexSubmission(search.SubmissionRecord{
				ID:               updated.ID,
				Title:            updated.Title,
				ContributorName:  updated.ContactName,
				ContributorEmail: updated.ContactEmail,
				Status:           updated.Status,
				Tier:             updated.Tier,
			})
		}
	}

	return s.GetSubmissionDetail(ctx, submissionID)
}

func (s *Service) ListContributors(ctx context.Context) ([]map[string]any, error) {
	contributors, err := s.store.ListContributors(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(contributors))
	for _, c := range contributors {
		items = append(items, map[string]any{
			"id":        c.ID,
			"name":      c.Name,
			"email":     c.Email,
			"createdAt": c.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreateContributor(ctx context.Context, name, contactEmail string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	contactEmail = strings.TrimSpace(contactEmail)
	if name == "" && contactEmail == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name or email is required", nil)
	}

	contributor, err := s.store.EnsureContributor(ctx, store.Contributor{
		ID:    util.NewID("ctr"),
		Name:  name,
		Email: contactEmail,
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexContributor(search.ContributorRecord{
			ID:    contributor.ID,
			Name:  contributor.Name,
			Email: contributor.Email,
		})
	}
	return map[string]any{
		"id":        contributor.ID,
		"name":      contributor.Name,
		"email":     contributor.Email,
		"createdAt": contributor.CreatedAt,
	}, nil
}

func (s *Service) GetContributor(ctx context.Context, contributorID string) (map[string]any, error) {
	c, err := s.store.GetContributor(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        c.ID,
		"name":      c.Name,
		"email":     c.Email,
		"createdAt": c.CreatedAt,
	}, nil
}

func (s *Service) ListMergeLog(ctx context.Context, limit int) ([]map[string]any, error) {
	entries, err := s.store.ListMergeLog(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"id":          e.ID,
			"survivorId":  e.SurvivorID,
			"mergedIds":   e.MergedIDs,
			"mergedCount": e.MergedCount,
			"mergedBy":    e.MergedBy,
			"note":        e.Note,
			"mergedAt":    e.MergedAt,
		})
	}
	return items, nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	counts, err := s.store.Summary(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.ListDuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"submissions":     counts.Submissions,
		"contributors":    counts.Contributors,
		"attachments":     counts.Attachments,
		"merges":          counts.Merges,
		"duplicateGroups": groups["count"],
	}, nil
}

func (s *Service) Search(ctx context.Context, text, filterType, filterStatus string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:         text,
		FilterType:   search.ResultType(filterType),
		FilterStatus: filterStatus,
		Limit:        limit,
		Offset:       offset,
	}), nil
}

// UploadAttachment streams the file into the blob store first, then records
// the metadata row. A blob failure means no row, never the reverse.
func (s *Service) UploadAttachment(ctx context.Context, submissionID, filename, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if s.blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if strings.TrimSpace(filename) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}
	if _, err := s.store.GetSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	attachmentID := util.NewID("att")
	objectKey := submissionID + "/" + attachmentID + "-" + filename
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.blobs.Put(ctx, objectKey, body, size, contentType); err != nil {
		return nil, err
	}

	att := store.Attachment{
		ID:           attachmentID,
		SubmissionID: submissionID,
		ObjectKey:    objectKey,
		Filename:     filename,
		ContentType:  contentType,
		SizeBytes:    size,
	}
	if err := s.store.InsertAttachment(ctx, att); err != nil {
		// The row failed; try not to leave the object behind.
		if delErr := s.blobs.Delete(ctx, objectKey); delErr != nil {
			log.Printf("upload: orphaned blob %s after insert failure: %v", objectKey, delErr)
		}
		return nil, err
	}

	return map[string]any{
		"id":          att.ID,
		"filename":    att.Filename,
		"contentType": att.ContentType,
		"sizeBytes":   att.SizeBytes,
	}, nil
}

func (s *Service) OpenAttachment(ctx context.Context, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	if s.blobs == nil {
		return store.Attachment{}, nil, domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	rc, err := s.blobs.Get(ctx, att.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return att, rc, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, attachmentID string) error {
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return err
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, att.ObjectKey); err != nil {
			log.Printf("delete: blob %s for attachment %s not removed: %v", att.ObjectKey, att.ID, err)
		}
	}
	return nil
}

func (s *Service) ExportSubmission(ctx context.Context, submissionID, format string, includeAttachments bool) (*export.Result, error) {
	var f export.Format
	switch format {
	case "pdf", "":
		f = export.FormatPDF
	case "zip":
		f = export.FormatZIP
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or zip", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		SubmissionID:       submissionID,
		Format:             f,
		IncludeAttachments: includeAttachments,
	})
}

// ExportSubmissionsBundle bundles several submissions into one archive.
func (s *Service) ExportSubmissionsBundle(ctx context.Context, ids []string, includeAttachments bool) (*export.Result, error) {
	ids = normalizeList(ids)
	if len(ids) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ids must not be empty", nil)
	}
	return s.exporter.ExportBundle(ctx, ids, includeAttachments)
}

// GetSubmissionForExport adapts the store's detail row to the export package.
func (s *Service) GetSubmissionForExport(ctx context.Context, submissionID string) (export.SubmissionInfo, error) {
	detail, err := s.store.GetSubmissionDetail(ctx, submissionID)
	if err != nil {
		return export.SubmissionInfo{}, err
	}
	attachments := make([]export.AttachmentInfo, 0, len(detail.Attachments))
	for _, att := range detail.Attachments {
		attachments = append(attachments, export.AttachmentInfo{
			ID:          att.ID,
			ObjectKey:   att.ObjectKey,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   att.SizeBytes,
		})
	}
	return export.SubmissionInfo{
		ID:               detail.ID,
		Title:            detail.Title,
		ContributorName:  detail.ContactName,
		ContributorEmail: detail.ContactEmail,
		Status:           detail.Status,
		Tier:             detail.Tier,
		Bonuses:          detail.Bonuses,
		Tags:             detail.Tags,
		SourceIDs:        detail.SourceIDs,
		Attachments:      attachments,
		UpdatedBy:        detail.UpdatedBy,
		UpdatedAt:        detail.UpdatedAt,
	}, nil
}

func submissionPayload(sub store.Submission) map[string]any {
	return map[string]any{
		"id":           sub.ID,
		"title":        sub.Title,
		"status":       sub.Status,
		"tier":         sub.Tier,
		"bonuses":      sub.Bonuses,
		"rateCents":    payrate.Rate(sub.Tier, sub.Bonuses),
		"contactName":  sub.ContactName,
		"contactEmail": sub.ContactEmail,
		"updatedBy":    sub.UpdatedBy,
		"createdAt":    sub.CreatedAt,
		"updatedAt":    sub.UpdatedAt,
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
