package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/authz"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ingest"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

type fieldPayload struct {
	Name        string          `json:"name"`
	Label       string          `json:"label,omitempty"`
	Hint        string          `json:"hint,omitempty"`
	Type        forms.FieldType `json:"type"`
	Required    bool            `json:"required,omitempty"`
	MinLength   *int            `json:"minLength,omitempty"`
	MaxLength   *int            `json:"maxLength,omitempty"`
	MinValue    *float64        `json:"minValue,omitempty"`
	MaxValue    *float64        `json:"maxValue,omitempty"`
	Pattern     string          `json:"pattern,omitempty"`
	Choices     []forms.Choice  `json:"choices,omitempty"`
	ShowIf      string          `json:"showIf,omitempty"`
	Calculation string          `json:"calculation,omitempty"`
	Default     string          `json:"default,omitempty"`
}

// templateRequest is the body of create and content-edit calls.
type templateRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Purpose      forms.Purpose     `json:"purpose,omitempty"`
	SyncEnabled  *bool             `json:"syncEnabled,omitempty"`
	Fields       []fieldPayload    `json:"fields"`
	FieldMapping map[string]string `json:"fieldMapping,omitempty"`
}

func (req *templateRequest) formFields() []forms.FormField {
	out := make([]forms.FormField, len(req.Fields))
	for i, f := range req.Fields {
		out[i] = forms.FormField{
			Name:        f.Name,
			Label:       f.Label,
			Hint:        f.Hint,
			Type:        f.Type,
			Required:    f.Required,
			MinLength:   f.MinLength,
			MaxLength:   f.MaxLength,
			MinValue:    f.MinValue,
			MaxValue:    f.MaxValue,
			Pattern:     f.Pattern,
			Choices:     f.Choices,
			ShowIf:      f.ShowIf,
			Calculation: f.Calculation,
			Default:     f.Default,
		}
	}
	return out
}

type templateResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Purpose       forms.Purpose     `json:"purpose"`
	Status        string            `json:"status"`
	SyncEnabled   bool              `json:"syncEnabled"`
	SyncStatus    string            `json:"syncStatus"`
	ExternalID    string            `json:"externalId,omitempty"`
	ExternalURL   string            `json:"externalUrl,omitempty"`
	FormKey       string            `json:"formKey"`
	Version       int               `json:"version"`
	LastSyncError string            `json:"lastSyncError,omitempty"`
	LastSyncedAt  string            `json:"lastSyncedAt,omitempty"`
	FieldMapping  map[string]string `json:"fieldMapping,omitempty"`
	CreatedBy     string            `json:"createdBy,omitempty"`
	CreatedAt     string            `json:"createdAt"`
	UpdatedAt     string            `json:"updatedAt"`
	Fields        []fieldPayload    `json:"fields,omitempty"`

	// SubmissionCount is only set on single-template reads.
	SubmissionCount *int64 `json:"submissionCount,omitempty"`
}

func templateToResponse(tpl *forms.FormTemplate) templateResponse {
	resp := templateResponse{
		ID:            tpl.ID,
		Name:          tpl.Name,
		Description:   tpl.Description,
		Purpose:       tpl.Purpose,
		Status:        string(tpl.Status),
		SyncEnabled:   tpl.SyncEnabled,
		SyncStatus:    string(tpl.SyncStatus),
		ExternalID:    tpl.ExternalID,
		ExternalURL:   tpl.ExternalURL,
		FormKey:       tpl.FormKey,
		Version:       tpl.Version,
		LastSyncError: tpl.LastSyncError,
		FieldMapping:  tpl.FieldMapping,
		CreatedBy:     tpl.CreatedBy,
		CreatedAt:     tpl.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     tpl.UpdatedAt.Format(time.RFC3339),
	}
	if tpl.LastSyncedAt != nil {
		resp.LastSyncedAt = tpl.LastSyncedAt.Format(time.RFC3339)
	}
	for _, f := range tpl.Fields {
		resp.Fields = append(resp.Fields, fieldPayload{
			Name:        f.Name,
			Label:       f.Label,
			Hint:        f.Hint,
			Type:        f.Type,
			Required:    f.Required,
			MinLength:   f.MinLength,
			MaxLength:   f.MaxLength,
			MinValue:    f.MinValue,
			MaxValue:    f.MaxValue,
			Pattern:     f.Pattern,
			Choices:     f.Choices,
			ShowIf:      f.ShowIf,
			Calculation: f.Calculation,
			Default:     f.Default,
		})
	}
	return resp
}

func decodeTemplate(r *http.Request) (*templateRequest, error) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// CreateTemplateHandler handles POST /api/formsync/v1/templates
func CreateTemplateHandler(store *forms.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeTemplate(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tpl := &forms.FormTemplate{
			Name:         req.Name,
			Description:  req.Description,
			Purpose:      req.Purpose,
			SyncEnabled:  req.SyncEnabled == nil || *req.SyncEnabled,
			FieldMapping: req.FieldMapping,
			CreatedBy:    authz.UserFromContext(r.Context()),
			Fields:       req.formFields(),
		}
		created, err := store.Create(r.Context(), tpl)
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to create template: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, templateToResponse(created))
	}
}

// ListTemplatesHandler handles GET /api/formsync/v1/templates
// Query params: status, syncStatus, purpose
func ListTemplatesHandler(store *forms.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := forms.ListFilter{
			Status:     forms.TemplateStatus(r.URL.Query().Get("status")),
			SyncStatus: forms.SyncStatus(r.URL.Query().Get("syncStatus")),
			Purpose:    forms.Purpose(r.URL.Query().Get("purpose")),
		}
		list, err := store.List(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list templates: %v", err))
			return
		}
		templates := make([]templateResponse, len(list))
		for i := range list {
			templates[i] = templateToResponse(&list[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"templates": templates,
			"totalSize": len(templates),
		})
	}
}

// GetTemplateHandler handles GET /api/formsync/v1/templates/{id}
// The response carries the number of submissions collected with the template.
func GetTemplateHandler(store *forms.TemplateStore, submissions *ledger.SubmissionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp := templateToResponse(tpl)
		if submissions != nil {
			n, err := submissions.CountByTemplate(r.Context(), tpl.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count submissions: %v", err))
				return
			}
			resp.SubmissionCount = &n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// UpdateTemplateHandler handles PUT /api/formsync/v1/templates/{id}
// A content change on a synced template marks it sync_outdated; it is pushed
// on the next sync or assignment, not here.
func UpdateTemplateHandler(store *forms.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		req, err := decodeTemplate(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, change, err := store.UpdateContent(r.Context(), id, forms.ContentUpdate{
			Name:         req.Name,
			Description:  req.Description,
			Purpose:      req.Purpose,
			Fields:       req.formFields(),
			FieldMapping: req.FieldMapping,
		})
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to update template: %v", err))
			return
		}
		if req.SyncEnabled != nil && *req.SyncEnabled != updated.SyncEnabled {
			if err := store.SetSyncEnabled(r.Context(), id, *req.SyncEnabled); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			updated.SyncEnabled = *req.SyncEnabled
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"template":      templateToResponse(updated),
			"changed":       change.Changed,
			"versionBumped": change.VersionBumped,
		})
	}
}

// ActivateTemplateHandler handles POST /api/formsync/v1/templates/{id}:activate
// The first activation of a sync-enabled template pushes it. A failed push
// does not undo the activation; the report carries the failure.
func ActivateTemplateHandler(store *forms.TemplateStore, orch *syncer.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, err := store.Activate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp := map[string]any{
			"template":       templateToResponse(act.Template),
			"previousStatus": string(act.Previous),
		}
		if orch != nil {
			report, err := orch.OnActivated(r.Context(), act, authz.UserFromContext(r.Context()))
			if err != nil {
				logger.Warn("push after activation failed", "templateID", act.Template.ID, "error", err)
				resp["syncError"] = err.Error()
			}
			if report != nil {
				resp["sync"] = report
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ArchiveTemplateHandler handles POST /api/formsync/v1/templates/{id}:archive
func ArchiveTemplateHandler(store *forms.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Archive(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "archived", "id": id})
	}
}

// SyncTemplateHandler handles POST /api/formsync/v1/templates/{id}:sync
// A push that reached the platform and failed answers 502 with the report.
func SyncTemplateHandler(orch *syncer.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := orch.Sync(r.Context(), chi.URLParam(r, "id"), syncer.Request{
			Trigger:     syncer.TriggerManual,
			TriggeredBy: authz.UserFromContext(r.Context()),
		})
		writeSyncResult(w, report, err)
	}
}

// EnsureSyncedHandler handles POST /api/formsync/v1/templates/{id}:ensure-synced
// It is called before work is assigned against a template.
func EnsureSyncedHandler(orch *syncer.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		report, err := orch.EnsureSynced(r.Context(), id, authz.UserFromContext(r.Context()))
		if err == nil && report == nil {
			writeJSON(w, http.StatusOK, map[string]any{"templateId": id, "pushed": false})
			return
		}
		writeSyncResult(w, report, err)
	}
}

func writeSyncResult(w http.ResponseWriter, report *syncer.Report, err error) {
	switch {
	case err != nil && report != nil:
		writeJSON(w, statusFor(err), report)
	case err != nil:
		writeError(w, statusFor(err), err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// PullSubmissionsHandler handles POST /api/formsync/v1/templates/{id}:pull
func PullSubmissionsHandler(puller *ingest.Puller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := puller.Pull(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to pull submissions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// TemplateSchemaHandler handles GET /api/formsync/v1/templates/{id}/schema
// It returns the converted document without pushing it.
func TemplateSchemaHandler(store *forms.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		res := schema.Convert(tpl)
		writeJSON(w, http.StatusOK, map[string]any{
			"document":       res.Document,
			"lookupInjected": res.LookupInjected,
			"issues":         res.Issues,
		})
	}
}

// ListSyncLogsHandler handles GET /api/formsync/v1/templates/{id}/sync-logs
func ListSyncLogsHandler(logs *syncer.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		entries, next, total, err := logs.ListByTemplate(r.Context(), chi.URLParam(r, "id"), pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list sync logs: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries":       entries,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// ListAllSyncLogsHandler handles GET /api/formsync/v1/sync-logs
// Query params: status, pageSize, pageToken
func ListAllSyncLogsHandler(logs *syncer.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		status := syncer.LogStatus(r.URL.Query().Get("status"))
		entries, next, total, err := logs.ListAll(r.Context(), status, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list sync logs: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries":       entries,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}
