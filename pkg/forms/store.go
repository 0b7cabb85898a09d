package forms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrTemplateNotFound is returned when no template matches the lookup.
	ErrTemplateNotFound = errors.New("form template not found")
	// ErrInvalidTemplate is returned for templates that cannot be stored.
	ErrInvalidTemplate = errors.New("invalid form template")
)

// TemplateStore provides database operations for form templates and fields.
type TemplateStore struct {
	db      *gorm.DB
	machine *Machine
}

// NewTemplateStore creates a new TemplateStore.
func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db, machine: NewMachine()}
}

// AutoMigrate creates or updates the form_templates and form_fields tables.
func (s *TemplateStore) AutoMigrate() error {
	return s.db.AutoMigrate(&FormTemplate{}, &FormField{})
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     TemplateStatus
	SyncStatus SyncStatus
	Purpose    Purpose
}

// ContentUpdate replaces the authored content of a template.
type ContentUpdate struct {
	Name         string
	Description  string
	Purpose      Purpose
	Fields       []FormField
	FieldMapping map[string]string
}

// ContentChange describes what an UpdateContent call did.
type ContentChange struct {
	Changed       bool
	VersionBumped bool
	Previous      SyncStatus
}

// Activation is the outcome of Activate. Previous is read inside the same
// transaction that writes the new status.
type Activation struct {
	Template     *FormTemplate
	Previous     TemplateStatus
	ShouldCreate bool
}

// SyncSuccess carries the result of a completed push.
type SyncSuccess struct {
	ExternalID  string
	ExternalURL string
	At          time.Time
	// Version and ContentHash identify the template content that was
	// converted and pushed.
	Version     int
	ContentHash string
}

// Create stores a new draft template together with its fields.
func (s *TemplateStore) Create(ctx context.Context, tpl *FormTemplate) (*FormTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if tpl.Purpose == "" {
		tpl.Purpose = PurposeGeneral
	}
	if !tpl.Purpose.IsValid() {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidTemplate, tpl.Purpose)
	}
	if err := validateFieldNames(tpl.Fields); err != nil {
		return nil, err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	tpl.FormKey = FormKeyFor(tpl.ID)
	if tpl.Status == "" {
		tpl.Status = StatusDraft
	}
	tpl.SyncStatus = SyncNeverSynced
	tpl.Version = 1
	prepareFields(tpl.ID, tpl.Fields)
	tpl.ContentHash = contentHash(tpl.Name, tpl.Purpose, tpl.Fields)

	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return tpl, nil
}

// Get loads a template with its fields ordered by position.
func (s *TemplateStore) Get(ctx context.Context, id string) (*FormTemplate, error) {
	return s.first(s.db.WithContext(ctx), "id = ?", id)
}

// GetByFormRef resolves the template that owns an external form reference,
// matching either the platform-assigned external id or the derived form key.
func (s *TemplateStore) GetByFormRef(ctx context.Context, ref string) (*FormTemplate, error) {
	if ref == "" {
		return nil, ErrTemplateNotFound
	}
	return s.first(s.db.WithContext(ctx), "external_id = ? OR form_key = ?", ref, ref)
}

func (s *TemplateStore) first(tx *gorm.DB, query string, args ...any) (*FormTemplate, error) {
	var tpl FormTemplate
	err := tx.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where(query, args...).First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

// List returns templates matching the filter, newest first, without fields.
func (s *TemplateStore) List(ctx context.Context, filter ListFilter) ([]FormTemplate, error) {
	q := s.db.WithContext(ctx).Model(&FormTemplate{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SyncStatus != "" {
		q = q.Where("sync_status = ?", filter.SyncStatus)
	}
	if filter.Purpose != "" {
		q = q.Where("purpose = ?", filter.Purpose)
	}
	var out []FormTemplate
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// UpdateContent replaces name, purpose and fields. When the content actually
// differs and the template has been synced before, the version is bumped once
// and the sync status moves to sync_outdated. A template in sync_pending keeps
// its status; the running push ends sync_outdated because the content hash it
// pushed no longer matches. No push is triggered.
func (s *TemplateStore) UpdateContent(ctx context.Context, id string, upd ContentUpdate) (*FormTemplate, ContentChange, error) {
	var change ContentChange
	if strings.TrimSpace(upd.Name) == "" {
		return nil, change, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if upd.Purpose == "" {
		upd.Purpose = PurposeGeneral
	}
	if !upd.Purpose.IsValid() {
		return nil, change, fmt.Errorf("%w: unknown purpose %q", ErrInvalidTemplate, upd.Purpose)
	}
	if err := validateFieldNames(upd.Fields); err != nil {
		return nil, change, err
	}

	var updated *FormTemplate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		change.Previous = current.SyncStatus

		prepareFields(id, upd.Fields)
		hash := contentHash(upd.Name, upd.Purpose, upd.Fields)
		updates := map[string]any{
			"description":   upd.Description,
			"field_mapping": marshalMapping(upd.FieldMapping),
		}

		if hash != current.ContentHash {
			change.Changed = true
			updates["name"] = upd.Name
			updates["purpose"] = upd.Purpose
			updates["content_hash"] = hash
			if current.HasBeenSynced() {
				change.VersionBumped = true
				updates["version"] = gorm.Expr("version + 1")
				if current.SyncStatus != SyncPending {
					if err := s.machine.ValidateTransition(current.SyncStatus, SyncOutdated); err != nil {
						return err
					}
					updates["sync_status"] = SyncOutdated
				}
			}
			if err := tx.Where("template_id = ?", id).Delete(&FormField{}).Error; err != nil {
				return fmt.Errorf("replace fields: %w", err)
			}
			if len(upd.Fields) > 0 {
				if err := tx.Create(&upd.Fields).Error; err != nil {
					return fmt.Errorf("replace fields: %w", err)
				}
			}
		}

		if err := tx.Model(&FormTemplate{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		updated, err = s.first(tx, "id = ?", id)
		return err
	})
	if err != nil {
		return nil, ContentChange{}, err
	}
	return updated, change, nil
}

// Activate sets the template active. ShouldCreate is true when this call moved
// a sync-enabled, never-synced template into the active state.
func (s *TemplateStore) Activate(ctx context.Context, id string) (*Activation, error) {
	var act Activation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		act.Previous = current.Status
		if current.Status != StatusActive {
			if err := tx.Model(&FormTemplate{}).Where("id = ?", id).Update("status", StatusActive).Error; err != nil {
				return fmt.Errorf("activate template: %w", err)
			}
			current.Status = StatusActive
		}
		act.Template = current
		act.ShouldCreate = act.Previous != StatusActive &&
			current.SyncEnabled &&
			current.SyncStatus == SyncNeverSynced
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &act, nil
}

// Archive sets the template archived. Its external form is left untouched.
func (s *TemplateStore) Archive(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&FormTemplate{}).Where("id = ?", id).Update("status", StatusArchived)
	if res.Error != nil {
		return fmt.Errorf("archive template: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// SetSyncEnabled turns automatic pushing of a template on or off.
func (s *TemplateStore) SetSyncEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&FormTemplate{}).Where("id = ?", id).Update("sync_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("set sync enabled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// MarkSyncPending records that a push has started.
func (s *TemplateStore) MarkSyncPending(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		return s.setSyncStatus(tx, current, SyncPending, nil)
	})
}

// RecordSyncSuccess stores the external identity of a pushed template. If the
// template was edited while the push ran, it ends sync_outdated.
func (s *TemplateStore) RecordSyncSuccess(ctx context.Context, id string, res SyncSuccess) (*FormTemplate, error) {
	var out *FormTemplate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		status := SyncSynced
		if current.Version != res.Version || current.ContentHash != res.ContentHash {
			status = SyncOutdated
		}
		at := res.At
		updates := map[string]any{
			"external_id":     res.ExternalID,
			"external_url":    res.ExternalURL,
			"last_synced_at":  &at,
			"last_sync_error": "",
		}
		if err := s.setSyncStatus(tx, current, status, updates); err != nil {
			return err
		}
		out, err = s.first(tx, "id = ?", id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordSyncFailure marks the template sync_failed. A non-empty externalID
// obtained before the failure is stored; an existing one is never cleared.
func (s *TemplateStore) RecordSyncFailure(ctx context.Context, id, externalID, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		updates := map[string]any{"last_sync_error": message}
		if externalID != "" {
			updates["external_id"] = externalID
		}
		return s.setSyncStatus(tx, current, SyncFailed, updates)
	})
}

// setSyncStatus writes to together with updates after checking the move
// from the status read in the same transaction.
func (s *TemplateStore) setSyncStatus(tx *gorm.DB, current *FormTemplate, to SyncStatus, updates map[string]any) error {
	if err := s.machine.ValidateTransition(current.SyncStatus, to); err != nil {
		return err
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["sync_status"] = to
	if err := tx.Model(&FormTemplate{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("set sync status %s: %w", to, err)
	}
	return nil
}

func validateFieldNames(fields []FormField) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("%w: field name is required", ErrInvalidTemplate)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate field name %q", ErrInvalidTemplate, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func prepareFields(templateID string, fields []FormField) {
	for i := range fields {
		fields[i].ID = uuid.NewString()
		fields[i].TemplateID = templateID
		fields[i].Name = strings.TrimSpace(fields[i].Name)
		if fields[i].Position == 0 {
			fields[i].Position = i + 1
		}
	}
}

// hashedField is the subset of a field that counts as content.
type hashedField struct {
	Name        string    `json:"n"`
	Label       string    `json:"l"`
	Hint        string    `json:"h,omitempty"`
	Type        FieldType `json:"t"`
	Required    bool      `json:"r"`
	Position    int       `json:"p"`
	MinLength   *int      `json:"minl,omitempty"`
	MaxLength   *int      `json:"maxl,omitempty"`
	MinValue    *float64  `json:"minv,omitempty"`
	MaxValue    *float64  `json:"maxv,omitempty"`
	Pattern     string    `json:"re,omitempty"`
	Choices     []Choice  `json:"c,omitempty"`
	ShowIf      string    `json:"if,omitempty"`
	Calculation string    `json:"calc,omitempty"`
	Default     string    `json:"d,omitempty"`
}

func contentHash(name string, purpose Purpose, fields []FormField) string {
	hf := make([]hashedField, len(fields))
	for i, f := range fields {
		hf[i] = hashedField{
			Name: f.Name, Label: f.Label, Hint: f.Hint, Type: f.Type, Required: f.Required,
			Position: f.Position, MinLength: f.MinLength, MaxLength: f.MaxLength,
			MinValue: f.MinValue, MaxValue: f.MaxValue, Pattern: f.Pattern, Choices: f.Choices,
			ShowIf: f.ShowIf, Calculation: f.Calculation, Default: f.Default,
		}
	}
	payload, _ := json.Marshal(struct {
		Name    string        `json:"name"`
		Purpose Purpose       `json:"purpose"`
		Fields  []hashedField `json:"fields"`
	}{name, purpose, hf})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func marshalMapping(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}
