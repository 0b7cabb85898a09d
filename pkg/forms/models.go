package forms

import (
	"strings"
	"time"
)

// Purpose decides how submissions collected with a template are reconciled
// against beneficiary records.
type Purpose string

const (
	PurposeGeneral           Purpose = "general"
	PurposeNewRegistration   Purpose = "new_registration"
	PurposeProgramEnrollment Purpose = "program_enrollment"
	PurposeSurvey            Purpose = "survey"
	PurposeUpdateDetails     Purpose = "update_details"
)

// Purposes lists every supported purpose.
var Purposes = []Purpose{
	PurposeGeneral,
	PurposeNewRegistration,
	PurposeProgramEnrollment,
	PurposeSurvey,
	PurposeUpdateDetails,
}

// IsValid reports whether p is a known purpose.
func (p Purpose) IsValid() bool {
	for _, known := range Purposes {
		if p == known {
			return true
		}
	}
	return false
}

// SyncStatus tracks whether the deployed external form matches the template.
type SyncStatus string

const (
	SyncNeverSynced SyncStatus = "never_synced"
	SyncSynced      SyncStatus = "synced"
	SyncPending     SyncStatus = "sync_pending"
	SyncFailed      SyncStatus = "sync_failed"
	SyncOutdated    SyncStatus = "sync_outdated"
)

// TemplateStatus is the authoring lifecycle of a template.
type TemplateStatus string

const (
	StatusDraft    TemplateStatus = "draft"
	StatusActive   TemplateStatus = "active"
	StatusArchived TemplateStatus = "archived"
)

// FieldType is the internal question type chosen by the form author.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldTextarea       FieldType = "textarea"
	FieldNote           FieldType = "note"
	FieldInteger        FieldType = "integer"
	FieldDecimal        FieldType = "decimal"
	FieldCalculated     FieldType = "calculated"
	FieldDate           FieldType = "date"
	FieldTime           FieldType = "time"
	FieldDateTime       FieldType = "datetime"
	FieldSingleChoice   FieldType = "single_choice"
	FieldMultipleChoice FieldType = "multiple_choice"
	FieldBoolean        FieldType = "boolean"
	FieldFile           FieldType = "file"
	FieldImage          FieldType = "image"
	FieldAudio          FieldType = "audio"
	FieldVideo          FieldType = "video"
	FieldRating         FieldType = "rating"
	FieldGeolocation    FieldType = "geolocation"
	FieldSignature      FieldType = "signature"
	FieldBarcode        FieldType = "barcode"
	FieldRange          FieldType = "range"
	FieldPhone          FieldType = "phone"
	FieldEmail          FieldType = "email"
	FieldGroup          FieldType = "group"
	FieldSection        FieldType = "section"
)

// IsChoice reports whether the type carries a choice list.
func (t FieldType) IsChoice() bool {
	return t == FieldSingleChoice || t == FieldMultipleChoice
}

// Choice is one selectable option of a choice field.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FormTemplate is the GORM model for an internally authored form.
type FormTemplate struct {
	ID            string            `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name          string            `gorm:"column:name;not null"`
	Description   string            `gorm:"column:description"`
	Purpose       Purpose           `gorm:"column:purpose;not null;default:general"`
	Status        TemplateStatus    `gorm:"column:status;index:idx_tpl_status;not null;default:draft"`
	SyncEnabled   bool              `gorm:"column:sync_enabled;not null"`
	SyncStatus    SyncStatus        `gorm:"column:sync_status;index:idx_tpl_sync_status;not null;default:never_synced"`
	ExternalID    string            `gorm:"column:external_id;index:idx_tpl_external_id"`
	ExternalURL   string            `gorm:"column:external_url"`
	FormKey       string            `gorm:"column:form_key;uniqueIndex:idx_tpl_form_key"`
	Version       int               `gorm:"column:version;not null;default:1"`
	ContentHash   string            `gorm:"column:content_hash"`
	LastSyncError string            `gorm:"column:last_sync_error"`
	LastSyncedAt  *time.Time        `gorm:"column:last_synced_at"`
	FieldMapping  map[string]string `gorm:"column:field_mapping;type:text;serializer:json"`
	CreatedBy     string            `gorm:"column:created_by"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at"`
	Fields        []FormField       `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
}

// TableName returns the GORM table name.
func (FormTemplate) TableName() string { return "form_templates" }

// HasBeenSynced reports whether the template was ever pushed successfully.
func (t *FormTemplate) HasBeenSynced() bool {
	return t.ExternalID != "" || t.LastSyncedAt != nil
}

// FormKeyFor derives the stable form identifier used before the platform
// assigns an external id.
func FormKeyFor(templateID string) string {
	return "upg_" + strings.ReplaceAll(templateID, "-", "")
}

// FormField is one question of a template. Name is unique per template.
type FormField struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TemplateID  string    `gorm:"column:template_id;type:varchar(36);uniqueIndex:idx_field_tpl_name,priority:1;not null"`
	Name        string    `gorm:"column:name;uniqueIndex:idx_field_tpl_name,priority:2;not null"`
	Label       string    `gorm:"column:label"`
	Hint        string    `gorm:"column:hint"`
	Type        FieldType `gorm:"column:type;not null"`
	Required    bool      `gorm:"column:required"`
	Position    int       `gorm:"column:position"`
	MinLength   *int      `gorm:"column:min_length"`
	MaxLength   *int      `gorm:"column:max_length"`
	MinValue    *float64  `gorm:"column:min_value"`
	MaxValue    *float64  `gorm:"column:max_value"`
	Pattern     string    `gorm:"column:pattern"`
	Choices     []Choice  `gorm:"column:choices;type:text;serializer:json"`
	ShowIf      string    `gorm:"column:show_if"`
	Calculation string    `gorm:"column:calculation"`
	Default     string    `gorm:"column:default_value"`
}

// TableName returns the GORM table name.
func (FormField) TableName() string { return "form_fields" }
