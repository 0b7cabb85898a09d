package forms

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewTemplateStore(db).AutoMigrate())
	return db
}

func sampleFields() []FormField {
	return []FormField{
		{Name: "id_number", Label: "ID Number", Type: FieldText, Required: true},
		{Name: "gender", Label: "Gender", Type: FieldSingleChoice, Choices: []Choice{{Value: "female", Label: "Female"}, {Value: "male", Label: "Male"}}},
	}
}

func createTemplate(t *testing.T, store *TemplateStore) *FormTemplate {
	t.Helper()
	tpl, err := store.Create(context.Background(), &FormTemplate{
		Name:        "Enrollment",
		Purpose:     PurposeProgramEnrollment,
		SyncEnabled: true,
		Fields:      sampleFields(),
	})
	require.NoError(t, err)
	return tpl
}

// markSynced runs a template through a successful push of its current content.
func markSynced(t *testing.T, store *TemplateStore, tpl *FormTemplate, externalID string) *FormTemplate {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.MarkSyncPending(ctx, tpl.ID))
	got, err := store.RecordSyncSuccess(ctx, tpl.ID, SyncSuccess{
		ExternalID:  externalID,
		At:          time.Now(),
		Version:     tpl.Version,
		ContentHash: tpl.ContentHash,
	})
	require.NoError(t, err)
	require.Equal(t, SyncSynced, got.SyncStatus)
	return got
}

func TestCreateTemplateDefaults(t *testing.T) {
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, StatusDraft, tpl.Status)
	assert.Equal(t, SyncNeverSynced, tpl.SyncStatus)
	assert.Equal(t, 1, tpl.Version)
	assert.Equal(t, FormKeyFor(tpl.ID), tpl.FormKey)

	got, err := store.Get(context.Background(), tpl.ID)
	require.NoError(t, err)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, "id_number", got.Fields[0].Name)
	assert.Equal(t, 1, got.Fields[0].Position)
	assert.Equal(t, "Female", got.Fields[1].Choices[0].Label)
}

func TestCreateRejectsDuplicateFieldNames(t *testing.T) {
	store := NewTemplateStore(setupTestDB(t))
	_, err := store.Create(context.Background(), &FormTemplate{
		Name:   "Dup",
		Fields: []FormField{{Name: "a", Type: FieldText}, {Name: "a", Type: FieldText}},
	})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateRejectsUnknownPurpose(t *testing.T) {
	store := NewTemplateStore(setupTestDB(t))
	_, err := store.Create(context.Background(), &FormTemplate{Name: "X", Purpose: "census"})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestGetNotFound(t *testing.T) {
	store := NewTemplateStore(setupTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestGetByFormRef(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	got, err := store.GetByFormRef(ctx, tpl.FormKey)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)

	markSynced(t, store, tpl, "aBc123")
	got, err = store.GetByFormRef(ctx, "aBc123")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)

	_, err = store.GetByFormRef(ctx, "")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestUpdateContentOnNeverSyncedKeepsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	fields := sampleFields()
	fields = append(fields, FormField{Name: "village", Label: "Village", Type: FieldText})
	updated, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: tpl.Name, Purpose: tpl.Purpose, Fields: fields})
	require.NoError(t, err)

	assert.True(t, change.Changed)
	assert.False(t, change.VersionBumped)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, SyncNeverSynced, updated.SyncStatus)
	assert.Len(t, updated.Fields, 3)
}

func TestUpdateContentOnSyncedBumpsVersionOncePerEdit(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)
	markSynced(t, store, tpl, "ext-1")

	fields := sampleFields()
	fields[0].Label = "National ID"
	updated, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: tpl.Name, Purpose: tpl.Purpose, Fields: fields})
	require.NoError(t, err)
	assert.True(t, change.VersionBumped)
	assert.Equal(t, SyncSynced, change.Previous)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, SyncOutdated, updated.SyncStatus)

	// Same content again is not an edit.
	again, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: tpl.Name, Purpose: tpl.Purpose, Fields: sampleFieldsWithLabel("National ID")})
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, 2, again.Version)

	// A second real edit bumps exactly once more.
	third, _, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: "Enrollment v2", Purpose: tpl.Purpose, Fields: sampleFieldsWithLabel("National ID")})
	require.NoError(t, err)
	assert.Equal(t, 3, third.Version)
	assert.Equal(t, "ext-1", third.ExternalID)
}

func sampleFieldsWithLabel(label string) []FormField {
	fields := sampleFields()
	fields[0].Label = label
	return fields
}

func TestUpdateContentDescriptionOnlyIsNotAnEdit(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)
	markSynced(t, store, tpl, "ext-1")

	updated, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{
		Name:         tpl.Name,
		Description:  "new words",
		Purpose:      tpl.Purpose,
		Fields:       sampleFields(),
		FieldMapping: map[string]string{"id_number": "id_number"},
	})
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, SyncSynced, updated.SyncStatus)
	assert.Equal(t, "new words", updated.Description)
	assert.Equal(t, "id_number", updated.FieldMapping["id_number"])
}

func TestActivateCapturesPreviousStatus(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	act, err := store.Activate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, act.Previous)
	assert.True(t, act.ShouldCreate)
	assert.Equal(t, StatusActive, act.Template.Status)

	again, err := store.Activate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Previous)
	assert.False(t, again.ShouldCreate)
}

func TestActivateSyncDisabledDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl, err := store.Create(ctx, &FormTemplate{Name: "Offline", Fields: sampleFields()})
	require.NoError(t, err)
	require.NoError(t, store.db.Model(&FormTemplate{}).Where("id = ?", tpl.ID).Update("sync_enabled", false).Error)

	act, err := store.Activate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, act.ShouldCreate)
}

func TestRecordSyncSuccessAfterConcurrentEditStaysOutdated(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)
	markSynced(t, store, tpl, "ext-1")

	require.NoError(t, store.MarkSyncPending(ctx, tpl.ID))
	edited, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: "Renamed", Purpose: tpl.Purpose, Fields: sampleFields()})
	require.NoError(t, err)
	assert.True(t, change.VersionBumped)
	assert.Equal(t, SyncPending, edited.SyncStatus)

	// The push that started at version 1 finishes after the edit.
	got, err := store.RecordSyncSuccess(ctx, tpl.ID, SyncSuccess{ExternalID: "ext-1", At: time.Now(), Version: 1, ContentHash: tpl.ContentHash})
	require.NoError(t, err)
	assert.Equal(t, SyncOutdated, got.SyncStatus)
	assert.Equal(t, 2, got.Version)
}

func TestRecordSyncSuccessAfterEditDuringFirstPushStaysOutdated(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	require.NoError(t, store.MarkSyncPending(ctx, tpl.ID))
	fields := append(sampleFields(), FormField{Name: "q2_added", Label: "Added", Type: FieldText})
	_, change, err := store.UpdateContent(ctx, tpl.ID, ContentUpdate{Name: tpl.Name, Purpose: tpl.Purpose, Fields: fields})
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.False(t, change.VersionBumped)

	got, err := store.RecordSyncSuccess(ctx, tpl.ID, SyncSuccess{ExternalID: "ext-1", At: time.Now(), Version: 1, ContentHash: tpl.ContentHash})
	require.NoError(t, err)
	assert.Equal(t, SyncOutdated, got.SyncStatus)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, got.Fields, 3)
	assert.True(t, got.SyncStatus.NeedsPush())
}

func TestRecordSyncFailureKeepsExternalID(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	require.NoError(t, store.MarkSyncPending(ctx, tpl.ID))
	require.NoError(t, store.RecordSyncFailure(ctx, tpl.ID, "ext-partial", "deploy failed"))
	got, err := store.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, got.SyncStatus)
	assert.Equal(t, "ext-partial", got.ExternalID)
	assert.Equal(t, "deploy failed", got.LastSyncError)

	require.NoError(t, store.MarkSyncPending(ctx, tpl.ID))
	require.NoError(t, store.RecordSyncFailure(ctx, tpl.ID, "", "timeout"))
	got, err = store.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-partial", got.ExternalID)

	assert.ErrorIs(t, store.RecordSyncFailure(ctx, "missing", "", "x"), ErrTemplateNotFound)
}

func TestSyncWritesRejectUndefinedTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)

	_, err := store.RecordSyncSuccess(ctx, tpl.ID, SyncSuccess{ExternalID: "ext-1", At: time.Now(), Version: 1, ContentHash: tpl.ContentHash})
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "SYNC_TRANSITION_DENIED", te.Code)
	assert.Equal(t, []SyncStatus{SyncPending}, te.Allowed)

	require.ErrorAs(t, store.RecordSyncFailure(ctx, tpl.ID, "", "boom"), &te)
	assert.Equal(t, SyncFailed, te.To)

	markSynced(t, store, tpl, "ext-1")
	require.ErrorAs(t, store.RecordSyncFailure(ctx, tpl.ID, "", "late failure"), &te)
	assert.Equal(t, "SYNC_INVALID_TRANSITION", te.Code)

	got, err := store.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, got.SyncStatus)
	assert.Empty(t, got.LastSyncError)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	a := createTemplate(t, store)
	_, err := store.Create(ctx, &FormTemplate{Name: "General", Purpose: PurposeGeneral})
	require.NoError(t, err)
	_, err = store.Activate(ctx, a.ID)
	require.NoError(t, err)

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.List(ctx, ListFilter{Status: StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	general, err := store.List(ctx, ListFilter{Purpose: PurposeGeneral})
	require.NoError(t, err)
	assert.Len(t, general, 1)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)
	require.NoError(t, store.Archive(ctx, tpl.ID))
	got, err := store.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)
	assert.ErrorIs(t, store.Archive(ctx, "missing"), ErrTemplateNotFound)
}

func TestSetSyncEnabled(t *testing.T) {
	store := NewTemplateStore(setupTestDB(t))
	tpl := createTemplate(t, store)
	ctx := context.Background()

	require.NoError(t, store.SetSyncEnabled(ctx, tpl.ID, false))
	got, err := store.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, got.SyncEnabled)

	assert.ErrorIs(t, store.SetSyncEnabled(ctx, "missing", true), ErrTemplateNotFound)
}
