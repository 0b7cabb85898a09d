// Package ledger persists webhook receipts and submission records. The
// unique external submission id on both tables is the only concurrency guard
// of the ingestion pipeline.
package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// ReceiptStatus is the processing state of a receipt.
type ReceiptStatus string

const (
	ReceiptReceived  ReceiptStatus = "received"
	ReceiptProcessed ReceiptStatus = "processed"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptDuplicate ReceiptStatus = "duplicate"
)

// IsTerminal returns true once processing has ended.
func (s ReceiptStatus) IsTerminal() bool {
	return s == ReceiptProcessed || s == ReceiptFailed || s == ReceiptDuplicate
}

// Source is the entry point a submission arrived through.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePull    Source = "pull"
)

// WebhookReceipt is written before a submission is processed and moved to a
// terminal status when processing ends. Rows are never deleted.
type WebhookReceipt struct {
	ID                   string         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ExternalSubmissionID string         `gorm:"column:external_submission_id;type:varchar(255);uniqueIndex:idx_receipt_submission;not null" json:"externalSubmissionId"`
	ExternalFormID       string         `gorm:"column:external_form_id;type:varchar(255);index:idx_receipt_form" json:"externalFormId,omitempty"`
	Source               Source         `gorm:"column:source;type:varchar(16);not null;default:webhook" json:"source"`
	SignatureVerified    bool           `gorm:"column:signature_verified;not null;default:false" json:"signatureVerified"`
	Status               ReceiptStatus  `gorm:"column:status;type:varchar(16);index:idx_receipt_status;not null;default:received" json:"status"`
	Deliveries           int            `gorm:"column:deliveries;not null;default:1" json:"deliveries"`
	RawPayload           datatypes.JSON `gorm:"column:raw_payload" json:"rawPayload,omitempty"`
	Error                string         `gorm:"column:error;type:text" json:"error,omitempty"`
	ReceivedAt           time.Time      `gorm:"column:received_at;not null;index:idx_receipt_received" json:"receivedAt"`
	ProcessedAt          *time.Time     `gorm:"column:processed_at" json:"processedAt,omitempty"`
	UpdatedAt            time.Time      `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (WebhookReceipt) TableName() string { return "webhook_receipts" }

// SubmissionRecord is the stored, reconciled form of one external submission.
// It is written once and never updated.
type SubmissionRecord struct {
	ID                   string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ExternalSubmissionID string            `gorm:"column:external_submission_id;type:varchar(255);uniqueIndex:idx_submission_external;not null" json:"externalSubmissionId"`
	TemplateID           string            `gorm:"column:template_id;type:varchar(36);index:idx_submission_template;not null" json:"templateId"`
	ExternalFormID       string            `gorm:"column:external_form_id;type:varchar(255)" json:"externalFormId,omitempty"`
	Purpose              string            `gorm:"column:purpose;type:varchar(32);not null" json:"purpose"`
	Source               Source            `gorm:"column:source;type:varchar(16);not null" json:"source"`
	RawPayload           datatypes.JSON    `gorm:"column:raw_payload" json:"rawPayload,omitempty"`
	MappedValues         datatypes.JSONMap `gorm:"column:mapped_values" json:"mappedValues,omitempty"`
	Latitude             *float64          `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude            *float64          `gorm:"column:longitude" json:"longitude,omitempty"`
	ValidationStatus     string            `gorm:"column:validation_status;type:varchar(32);index:idx_submission_validation;not null" json:"validationStatus"`
	MatchType            string            `gorm:"column:match_type;type:varchar(32)" json:"matchType,omitempty"`
	Confidence           string            `gorm:"column:confidence;type:varchar(16)" json:"confidence,omitempty"`
	Outcome              string            `gorm:"column:outcome;type:varchar(32)" json:"outcome,omitempty"`
	MatchedBeneficiaryID *string           `gorm:"column:matched_beneficiary_id;type:varchar(36);index:idx_submission_beneficiary" json:"matchedBeneficiaryId,omitempty"`
	ChangedFields        []string          `gorm:"column:changed_fields;type:text;serializer:json" json:"changedFields,omitempty"`
	Message              string            `gorm:"column:message;type:text" json:"message,omitempty"`
	SubmittedAt          *time.Time        `gorm:"column:submitted_at" json:"submittedAt,omitempty"`
	ReceivedAt           time.Time         `gorm:"column:received_at;not null;index:idx_submission_received" json:"receivedAt"`
}

// TableName returns the GORM table name.
func (SubmissionRecord) TableName() string { return "submission_records" }
