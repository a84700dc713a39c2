package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Operators -------------------------------------------------------------

func (s *PostgresStore) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	var op Operator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, verification_token, deactivated_at
		FROM operators
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&op.ID, &op.DisplayName, &op.Email, &op.PasswordHash, &op.Role, &op.IsEmailVerified, &op.VerificationToken, &op.DeactivatedAt)
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

func (s *PostgresStore) GetOperatorByID(ctx context.Context, operatorID string) (Operator, error) {
	var op Operator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, verification_token, deactivated_at
		FROM operators
		WHERE id=$1
	`, operatorID).Scan(&op.ID, &op.DisplayName, &op.Email, &op.PasswordHash, &op.Role, &op.IsEmailVerified, &op.VerificationToken, &op.DeactivatedAt)
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

func (s *PostgresStore) CreateOperator(ctx context.Context, op Operator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, op.ID, op.DisplayName, op.Email, op.PasswordHash, op.Role, op.IsEmailVerified, op.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOperatorVerificationToken(ctx context.Context, operatorID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operators
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, operatorID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyOperatorEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operators
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateOperatorPassword(ctx context.Context, operatorID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operators SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, operatorID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, operatorID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, operator_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, operatorID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var operatorID string
	err := s.db.QueryRowContext(ctx, `
		SELECT operator_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&operatorID)
	if err != nil {
		return "", err
	}
	return operatorID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- Refresh sessions (Postgres fallback when Redis is not configured) -----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, operatorID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, operator_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET operator_id=EXCLUDED.operator_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, operatorID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Operator, error) {
	const query = `
		SELECT o.id, o.display_name, o.email, o.role
		FROM refresh_sessions rs
		JOIN operators o ON o.id = rs.operator_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var op Operator
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&op.ID, &op.DisplayName, &op.Email, &op.Role)
	if err != nil {
		return Operator{}, err
	}
	if op.Role == "" {
		op.Role = "viewer"
	}
	return op, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- Contributors ----------------------------------------------------------

func (s *PostgresStore) ListContributors(ctx context.Context) ([]Contributor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at
		FROM contributors
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	items := make([]Contributor, 0)
	for rows.Next() {
		var item Contributor
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContributor(ctx context.Context, contributorID string) (Contributor, error) {
	var item Contributor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM contributors WHERE id=$1
	`, contributorID).Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt)
	if err != nil {
		return Contributor{}, err
	}
	return item, nil
}

// EnsureContributor finds a contributor by email (case-insensitive) or
// creates one. Contributors without an email are always created fresh; there
// is nothing to match them on.
func (s *PostgresStore) EnsureContributor(ctx context.Context, contributor Contributor) (Contributor, error) {
	if contributor.Email != "" {
		var existing Contributor
		err := s.db.QueryRowContext(ctx, `
			SELECT id, name, email, created_at FROM contributors WHERE LOWER(email)=LOWER($1)
		`, contributor.Email).Scan(&existing.ID, &existing.Name, &existing.Email, &existing.CreatedAt)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Contributor{}, fmt.Errorf("lookup contributor: %w", err)
		}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contributors (id, name, email)
		VALUES ($1, $2, $3)
		RETURNING id, name, email, created_at
	`, contributor.ID, contributor.Name, contributor.Email).Scan(&contributor.ID, &contributor.Name, &contributor.Email, &contributor.CreatedAt)
	if err != nil {
		return Contributor{}, fmt.Errorf("insert contributor: %w", err)
	}
	return contributor, nil
}

// --- Submissions -----------------------------------------------------------

const submissionColumns = `
	s.id, s.title, s.contributor_id, s.status, s.tier, s.bonuses,
	s.created_at, s.updated_at, s.updated_by_name,
	COALESCE(c.name, ''), COALESCE(c.email, '')
`

func scanSubmission(scan func(dest ...any) error) (Submission, error) {
	var item Submission
	var bonusesRaw []byte
	err := scan(
		&item.ID, &item.Title, &item.ContributorID, &item.Status, &item.Tier, &bonusesRaw,
		&item.CreatedAt, &item.UpdatedAt, &item.UpdatedBy,
		&item.ContactName, &item.ContactEmail,
	)
	if err != nil {
		return Submission{}, err
	}
	_ = json.Unmarshal(bonusesRaw, &item.Bonuses)
	return item, nil
}

// ListSubmissionsWithContributor returns every submission joined with its
// contributor, the full candidate set for duplicate detection.
func (s *PostgresStore) ListSubmissionsWithContributor(ctx context.Context) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions s
		LEFT JOIN contributors c ON c.id = s.contributor_id
		ORDER BY s.created_at ASC, s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		item, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions s
		LEFT JOIN contributors c ON c.id = s.contributor_id
		WHERE s.id=$1
	`, submissionID)
	return scanSubmission(row.Scan)
}

func (s *PostgresStore) GetSubmissionDetail(ctx context.Context, submissionID string) (SubmissionDetail, error) {
	submission, err := s.GetSubmission(ctx, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	detail := SubmissionDetail{Submission: submission}

	detail.Tags, err = s.ListTags(ctx, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	detail.SourceIDs, err = s.ListSourceIDs(ctx, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	detail.Attachments, err = s.ListAttachments(ctx, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	return detail, nil
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission) error {
	bonuses := item.Bonuses
	if bonuses == nil {
		bonuses = []string{}
	}
	encoded, err := json.Marshal(bonuses)
	if err != nil {
		return fmt.Errorf("marshal bonuses: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, title, contributor_id, status, tier, bonuses, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, item.ID, item.Title, item.ContributorID, item.Status, item.Tier, string(encoded), item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, submissionID, title, status, tier string, bonuses []string, updatedBy string) error {
	if bonuses == nil {
		bonuses = []string{}
	}
	encoded, err := json.Marshal(bonuses)
	if err != nil {
		return fmt.Errorf("marshal bonuses: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET title=$2, status=$3, tier=$4, bonuses=$5::jsonb, updated_by_name=$6, updated_at=NOW()
		WHERE id=$1
	`, submissionID, title, status, tier, string(encoded), updatedBy)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Tags, sources, attachments -------------------------------------------

func (s *PostgresStore) ListTags(ctx context.Context, submissionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM submission_tags WHERE submission_id=$1 ORDER BY tag ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) AddTag(ctx context.Context, submissionID, tag string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_tags (submission_id, tag)
		VALUES ($1, $2)
		ON CONFLICT (submission_id, tag) DO NOTHING
	`, submissionID, tag)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSourceIDs(ctx context.Context, submissionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id FROM submission_sources WHERE submission_id=$1 ORDER BY source_id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list source ids: %w", err)
	}
	defer rows.Close()

	sources := make([]string, 0)
	for rows.Next() {
		var sourceID string
		if err := rows.Scan(&sourceID); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		sources = append(sources, sourceID)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) AddSourceID(ctx context.Context, submissionID, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_sources (submission_id, source_id)
		VALUES ($1, $2)
		ON CONFLICT (submission_id, source_id) DO NOTHING
	`, submissionID, sourceID)
	if err != nil {
		return fmt.Errorf("add source id: %w", err)
	}
	return nil
}

// SourceIDExists reports whether any submission already carries the given
// provenance marker. Re-imports use this to recognize rows that are already
// present, including rows folded into a survivor by a past merge.
func (s *PostgresStore) SourceIDExists(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM submission_sources WHERE source_id=$1)
	`, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check source id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, submissionID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, object_key, filename, content_type, size_bytes, created_at
		FROM attachments
		WHERE submission_id=$1
		ORDER BY created_at ASC, id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.SubmissionID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.SizeBytes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, object_key, filename, content_type, size_bytes, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.SubmissionID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.SizeBytes, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, submission_id, object_key, filename, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.SubmissionID, item.ObjectKey, item.Filename, item.ContentType, item.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attachment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Merge log and summary -------------------------------------------------

func (s *PostgresStore) ListMergeLog(ctx context.Context, limit int) ([]MergeLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survivor_id, merged_ids, merged_count, merged_by_name, note, merged_at
		FROM merge_log
		ORDER BY merged_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list merge log: %w", err)
	}
	defer rows.Close()

	items := make([]MergeLogEntry, 0)
	for rows.Next() {
		var item MergeLogEntry
		var mergedRaw []byte
		if err := rows.Scan(&item.ID, &item.SurvivorID, &mergedRaw, &item.MergedCount, &item.MergedBy, &item.Note, &item.MergedAt); err != nil {
			return nil, fmt.Errorf("scan merge log: %w", err)
		}
		_ = json.Unmarshal(mergedRaw, &item.MergedIDs)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Summary(ctx context.Context) (SummaryCounts, error) {
	var counts SummaryCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(*) FROM contributors),
			(SELECT COUNT(*) FROM attachments),
			(SELECT COUNT(*) FROM merge_log)
	`).Scan(&counts.Submissions, &counts.Contributors, &counts.Attachments, &counts.Merges)
	if err != nil {
		return SummaryCounts{}, fmt.Errorf("summary counts: %w", err)
	}
	return counts, nil
}
