package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubmissionStore provides append-only access to submission records.
type SubmissionStore struct {
	db *gorm.DB
}

// NewSubmissionStore creates a new SubmissionStore.
func NewSubmissionStore(db *gorm.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// AutoMigrate creates or updates the submission_records table.
func (s *SubmissionStore) AutoMigrate() error {
	return s.db.AutoMigrate(&SubmissionRecord{})
}

// SubmissionFilter defines filters for listing submissions.
type SubmissionFilter struct {
	TemplateID       string
	ValidationStatus string
	BeneficiaryID    string
	Source           Source
}

// Create inserts a submission record. ErrDuplicateSubmission is returned when
// one already exists for the external submission id.
func (s *SubmissionStore) Create(ctx context.Context, rec *SubmissionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("create submission %s: %w", rec.ExternalSubmissionID, ErrDuplicateSubmission)
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// GetByExternalID returns the record for an external submission id, or nil.
func (s *SubmissionStore) GetByExternalID(ctx context.Context, externalSubmissionID string) (*SubmissionRecord, error) {
	var rec SubmissionRecord
	err := s.db.WithContext(ctx).Where("external_submission_id = ?", externalSubmissionID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &rec, nil
}

// CountByTemplate returns how many submissions a template has collected.
func (s *SubmissionStore) CountByTemplate(ctx context.Context, templateID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&SubmissionRecord{}).Where("template_id = ?", templateID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// List returns submissions newest first.
// pageToken is an RFC3339Nano timestamp; records with received_at < pageToken are returned.
func (s *SubmissionStore) List(ctx context.Context, filter SubmissionFilter, pageSize int, pageToken string) ([]SubmissionRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&SubmissionRecord{})
		if filter.TemplateID != "" {
			q = q.Where("template_id = ?", filter.TemplateID)
		}
		if filter.ValidationStatus != "" {
			q = q.Where("validation_status = ?", filter.ValidationStatus)
		}
		if filter.BeneficiaryID != "" {
			q = q.Where("matched_beneficiary_id = ?", filter.BeneficiaryID)
		}
		if filter.Source != "" {
			q = q.Where("source = ?", filter.Source)
		}
		return q
	}

	var totalSize int64
	if err := scoped().Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count submissions: %w", err)
	}

	query := scoped().Order("received_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("received_at < ?", t)
	}

	var records []SubmissionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list submissions: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].ReceivedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}
