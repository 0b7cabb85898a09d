package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReceiptStore provides database operations for webhook receipts.
type ReceiptStore struct {
	db *gorm.DB
}

// NewReceiptStore creates a new ReceiptStore.
func NewReceiptStore(db *gorm.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// AutoMigrate creates or updates the webhook_receipts table.
func (s *ReceiptStore) AutoMigrate() error {
	return s.db.AutoMigrate(&WebhookReceipt{})
}

// ReceiptFilter defines filters for listing receipts.
type ReceiptFilter struct {
	Status         ReceiptStatus
	Source         Source
	ExternalFormID string
}

// Begin records a delivery before it is processed. When a receipt for the
// same external submission id already exists, its delivery counter is bumped
// and the existing row is returned with duplicate=true. The insert is the
// guard: no read precedes it, so concurrent deliveries race on the unique
// index and exactly one wins.
func (s *ReceiptStore) Begin(ctx context.Context, r *WebhookReceipt) (receipt *WebhookReceipt, duplicate bool, err error) {
	if r.ExternalSubmissionID == "" {
		return nil, false, errors.New("begin receipt: external submission id is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Source == "" {
		r.Source = SourceWebhook
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	r.Status = ReceiptReceived
	r.Deliveries = 1

	err = s.db.WithContext(ctx).Create(r).Error
	if err == nil {
		return r, false, nil
	}
	if !IsUniqueViolation(err) {
		return nil, false, fmt.Errorf("begin receipt: %w", err)
	}

	existing, err := s.Get(ctx, r.ExternalSubmissionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("begin receipt: conflicting receipt for %s vanished", r.ExternalSubmissionID)
	}
	if err := s.db.WithContext(ctx).Model(&WebhookReceipt{}).
		Where("id = ?", existing.ID).
		Update("deliveries", gorm.Expr("deliveries + 1")).Error; err != nil {
		return nil, false, fmt.Errorf("count duplicate delivery: %w", err)
	}
	existing.Deliveries++
	return existing, true, nil
}

// Finish moves a receipt to a terminal status.
func (s *ReceiptStore) Finish(ctx context.Context, id string, status ReceiptStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish receipt: %q is not a terminal status", status)
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&WebhookReceipt{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"error":        errMsg,
		"processed_at": &now,
	})
	if res.Error != nil {
		return fmt.Errorf("finish receipt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish receipt: receipt %s not found", id)
	}
	return nil
}

// Get returns the receipt for an external submission id, or nil.
func (s *ReceiptStore) Get(ctx context.Context, externalSubmissionID string) (*WebhookReceipt, error) {
	var r WebhookReceipt
	err := s.db.WithContext(ctx).Where("external_submission_id = ?", externalSubmissionID).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return &r, nil
}

// List returns receipts newest first.
// pageToken is an RFC3339Nano timestamp; receipts with received_at < pageToken are returned.
func (s *ReceiptStore) List(ctx context.Context, filter ReceiptFilter, pageSize int, pageToken string) ([]WebhookReceipt, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&WebhookReceipt{})
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Source != "" {
			q = q.Where("source = ?", filter.Source)
		}
		if filter.ExternalFormID != "" {
			q = q.Where("external_form_id = ?", filter.ExternalFormID)
		}
		return q
	}

	var totalSize int64
	if err := scoped().Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count receipts: %w", err)
	}

	query := scoped().Order("received_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("received_at < ?", t)
	}

	var records []WebhookReceipt
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list receipts: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].ReceivedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}
