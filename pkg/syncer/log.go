package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation is what a sync attempt did on the platform.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Trigger records why a sync attempt ran.
type Trigger string

const (
	TriggerActivation Trigger = "activation"
	TriggerManual     Trigger = "manual"
	TriggerAssignment Trigger = "assignment"
)

// LogStatus is the outcome of one attempt.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	// LogPartial means the form was deployed but an optional step failed.
	LogPartial LogStatus = "partial"
	LogFailed  LogStatus = "failed"
)

// SyncLogEntry is the append-only record of one sync attempt.
type SyncLogEntry struct {
	ID               string         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TemplateID       string         `gorm:"column:template_id;type:varchar(36);index:idx_synclog_tpl_created,priority:1;not null" json:"templateId"`
	TemplateVersion  int            `gorm:"column:template_version" json:"templateVersion"`
	Operation        Operation      `gorm:"column:operation;type:varchar(16);not null" json:"operation"`
	Trigger          Trigger        `gorm:"column:trigger_source;type:varchar(16);not null" json:"trigger"`
	Status           LogStatus      `gorm:"column:status;type:varchar(16);index:idx_synclog_status;not null" json:"status"`
	ExternalID       string         `gorm:"column:external_id" json:"externalId,omitempty"`
	RequestSnapshot  datatypes.JSON `gorm:"column:request_snapshot" json:"requestSnapshot,omitempty"`
	ResponseSnapshot datatypes.JSON `gorm:"column:response_snapshot" json:"responseSnapshot,omitempty"`
	Warnings         []string       `gorm:"column:warnings;type:text;serializer:json" json:"warnings,omitempty"`
	Error            string         `gorm:"column:error;type:text" json:"error,omitempty"`
	DurationMs       int64          `gorm:"column:duration_ms" json:"durationMs"`
	TriggeredBy      string         `gorm:"column:triggered_by" json:"triggeredBy,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at;index:idx_synclog_tpl_created,priority:2" json:"createdAt"`
}

// TableName returns the GORM table name.
func (SyncLogEntry) TableName() string { return "sync_log_entries" }

// LogStore persists sync log entries.
type LogStore struct {
	db *gorm.DB
}

// NewLogStore creates a new LogStore.
func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

// AutoMigrate creates or updates the sync_log_entries table.
func (s *LogStore) AutoMigrate() error {
	return s.db.AutoMigrate(&SyncLogEntry{})
}

// Append inserts an entry. Entries are never updated.
func (s *LogStore) Append(ctx context.Context, e *SyncLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// ListByTemplate returns entries for one template, newest first.
// pageToken is an RFC3339Nano timestamp; entries with created_at < pageToken are returned.
func (s *LogStore) ListByTemplate(ctx context.Context, templateID string, pageSize int, pageToken string) ([]SyncLogEntry, string, int, error) {
	return s.list(ctx, templateID, "", pageSize, pageToken)
}

// ListAll returns entries across templates, newest first, optionally by status.
func (s *LogStore) ListAll(ctx context.Context, status LogStatus, pageSize int, pageToken string) ([]SyncLogEntry, string, int, error) {
	return s.list(ctx, "", status, pageSize, pageToken)
}

func (s *LogStore) list(ctx context.Context, templateID string, status LogStatus, pageSize int, pageToken string) ([]SyncLogEntry, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&SyncLogEntry{})
		if templateID != "" {
			q = q.Where("template_id = ?", templateID)
		}
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}

	var totalSize int64
	if err := scoped().Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count sync logs: %w", err)
	}

	query := scoped().Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var entries []SyncLogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list sync logs: %w", err)
	}

	var nextToken string
	if len(entries) > pageSize {
		nextToken = entries[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		entries = entries[:pageSize]
	}
	return entries, nextToken, int(totalSize), nil
}
