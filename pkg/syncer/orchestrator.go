// Package syncer keeps deployed external forms consistent with their
// templates: the push routine, a per-template in-flight guard, and the
// append-only log of every attempt.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/platform"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
)

var (
	// ErrNotSyncable is returned for templates that are not active or have
	// sync disabled.
	ErrNotSyncable = errors.New("template is not syncable")
	// ErrPushFailed is returned when create, update or deploy failed. The
	// failure has been recorded on the template and in the sync log.
	ErrPushFailed = errors.New("push to platform failed")
)

// Request carries the audit context of a sync call.
type Request struct {
	Trigger     Trigger
	TriggeredBy string
}

// Report is the result of one sync attempt.
type Report struct {
	TemplateID  string           `json:"templateId"`
	Operation   Operation        `json:"operation"`
	Status      forms.SyncStatus `json:"status"`
	ExternalID  string           `json:"externalId,omitempty"`
	ExternalURL string           `json:"externalUrl,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	Error       string           `json:"error,omitempty"`
	LogID       string           `json:"logId,omitempty"`
}

// Orchestrator runs pushes of templates to the collection platform.
type Orchestrator struct {
	templates *forms.TemplateStore
	client    platform.Client
	refs      platform.ReferenceSource
	logs      *LogStore
	inFlight  *InFlight
	cfg       *Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. refs and m may be nil; a nil refs
// skips reference dataset uploads.
func NewOrchestrator(templates *forms.TemplateStore, client platform.Client, refs platform.ReferenceSource,
	logs *LogStore, cfg *Config, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		templates: templates,
		client:    client,
		refs:      refs,
		logs:      logs,
		inFlight:  NewInFlight(),
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnActivated pushes a template that Activate moved into the active state
// for the first time. It returns nil, nil when no push was due.
func (o *Orchestrator) OnActivated(ctx context.Context, act *forms.Activation, triggeredBy string) (*Report, error) {
	if act == nil || !act.ShouldCreate {
		return nil, nil
	}
	return o.Sync(ctx, act.Template.ID, Request{Trigger: TriggerActivation, TriggeredBy: triggeredBy})
}

// EnsureSynced is called before work is assigned against a template. It
// pushes when the template was never synced, failed, or is outdated, and
// returns nil, nil otherwise.
func (o *Orchestrator) EnsureSynced(ctx context.Context, templateID, triggeredBy string) (*Report, error) {
	tpl, err := o.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.SyncEnabled || tpl.Status != forms.StatusActive || !tpl.SyncStatus.NeedsPush() {
		return nil, nil
	}
	return o.Sync(ctx, templateID, Request{Trigger: TriggerAssignment, TriggeredBy: triggeredBy})
}

// attempt accumulates the state of one push.
type attempt struct {
	op         Operation
	externalID string
	form       *platform.Form
	request    []byte
	warnings   []string
	lookup     bool
}

// Sync pushes a template: convert, update or create, deploy, then the
// best-effort dataset upload and webhook registration. Exactly one terminal
// status is written and one log entry appended per call. At most one push
// per template runs at a time; concurrent calls get ErrSyncInProgress.
func (o *Orchestrator) Sync(ctx context.Context, templateID string, req Request) (report *Report, err error) {
	release, ok := o.inFlight.Acquire(templateID)
	if !ok {
		since, _ := o.inFlight.Since(templateID)
		return nil, fmt.Errorf("%w: %s (running since %s)", ErrSyncInProgress, templateID, since.UTC().Format(time.RFC3339))
	}
	defer release()

	tpl, err := o.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.SyncEnabled || tpl.Status != forms.StatusActive {
		return nil, fmt.Errorf("%w: status %s, sync enabled %t", ErrNotSyncable, tpl.Status, tpl.SyncEnabled)
	}
	if err := o.templates.MarkSyncPending(ctx, templateID); err != nil {
		return nil, err
	}

	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	start := o.now()
	a := &attempt{op: OperationUpdate, externalID: tpl.ExternalID}

	// Terminal writes use a context that outlives a cancelled caller.
	finishCtx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			o.fail(finishCtx, tpl, req, a, start, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if pushErr := o.push(ctx, tpl, a); pushErr != nil {
		return o.fail(finishCtx, tpl, req, a, start, pushErr)
	}
	if a.lookup {
		o.uploadDatasets(ctx, a)
	}
	o.registerWebhook(ctx, a)
	return o.succeed(finishCtx, tpl, req, a, start)
}

func (o *Orchestrator) push(ctx context.Context, tpl *forms.FormTemplate, a *attempt) error {
	res := schema.Convert(tpl)
	a.lookup = res.LookupInjected
	for _, issue := range res.Issues {
		a.warnings = append(a.warnings, "field degraded to note: "+issue.Error())
	}
	doc := &res.Document
	if body, err := doc.JSON(); err == nil {
		a.request = body
	}

	var err error
	switch {
	case a.externalID != "":
		a.form, err = o.client.UpdateForm(ctx, a.externalID, doc, tpl.Name)
	default:
		var existing *platform.Form
		existing, err = o.client.FindFormByName(ctx, tpl.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			o.logger.Info("adopting existing platform form", "templateID", tpl.ID, "externalID", existing.UID)
			a.externalID = existing.UID
			a.form, err = o.client.UpdateForm(ctx, a.externalID, doc, tpl.Name)
		} else {
			a.op = OperationCreate
			a.form, err = o.client.CreateForm(ctx, tpl.Name, doc)
			if err == nil && a.form != nil {
				a.externalID = a.form.UID
			}
		}
	}
	if err != nil {
		return err
	}
	if a.externalID == "" {
		return errors.New("platform returned no form id")
	}

	return o.client.DeployForm(ctx, a.externalID)
}

func (o *Orchestrator) uploadDatasets(ctx context.Context, a *attempt) {
	if !o.cfg.UploadDatasets || o.refs == nil {
		return
	}
	datasets, err := platform.BuildDatasets(ctx, o.refs)
	if err != nil {
		a.warn(o.logger, "build reference datasets", err)
		return
	}
	for _, ds := range datasets {
		if err := o.client.UploadFile(ctx, a.externalID, ds.Filename, ds.Content); err != nil {
			a.warn(o.logger, "upload "+ds.Filename, err)
		}
	}
}

func (o *Orchestrator) registerWebhook(ctx context.Context, a *attempt) {
	if !o.cfg.RegisterWebhook || o.cfg.WebhookURL == "" {
		return
	}
	if err := o.client.RegisterWebhook(ctx, a.externalID, o.cfg.WebhookURL); err != nil {
		a.warn(o.logger, "register webhook", err)
	}
}

func (a *attempt) warn(logger *slog.Logger, step string, err error) {
	msg := fmt.Sprintf("%s: %v", step, err)
	a.warnings = append(a.warnings, msg)
	logger.Warn("optional sync step failed", "externalID", a.externalID, "step", step, "error", err)
}

func (o *Orchestrator) succeed(ctx context.Context, tpl *forms.FormTemplate, req Request, a *attempt, start time.Time) (*Report, error) {
	url := ""
	if a.form != nil {
		url = a.form.URL
	}
	updated, err := o.templates.RecordSyncSuccess(ctx, tpl.ID, forms.SyncSuccess{
		ExternalID:  a.externalID,
		ExternalURL: url,
		At:          o.now(),
		Version:     tpl.Version,
		ContentHash: tpl.ContentHash,
	})
	if err != nil {
		return nil, err
	}

	status := LogSuccess
	if len(a.warnings) > 0 {
		status = LogPartial
	}
	entry := o.appendLog(ctx, tpl, req, a, status, "", start)

	o.metrics.ObserveSync(string(a.op), string(updated.SyncStatus), string(req.Trigger), o.now().Sub(start))
	o.logger.Info("template synced",
		"templateID", tpl.ID,
		"externalID", a.externalID,
		"operation", a.op,
		"status", updated.SyncStatus,
		"warnings", len(a.warnings))

	return &Report{
		TemplateID:  tpl.ID,
		Operation:   a.op,
		Status:      updated.SyncStatus,
		ExternalID:  a.externalID,
		ExternalURL: url,
		Warnings:    a.warnings,
		LogID:       entry,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, tpl *forms.FormTemplate, req Request, a *attempt, start time.Time, cause error) (*Report, error) {
	msg := cause.Error()
	if err := o.templates.RecordSyncFailure(ctx, tpl.ID, a.externalID, msg); err != nil {
		o.logger.Error("failed to record sync failure", "templateID", tpl.ID, "error", err)
	}
	entry := o.appendLog(ctx, tpl, req, a, LogFailed, msg, start)

	o.metrics.ObserveSync(string(a.op), string(forms.SyncFailed), string(req.Trigger), o.now().Sub(start))
	o.logger.Error("template sync failed", "templateID", tpl.ID, "externalID", a.externalID, "operation", a.op, "error", cause)

	return &Report{
		TemplateID: tpl.ID,
		Operation:  a.op,
		Status:     forms.SyncFailed,
		ExternalID: a.externalID,
		Warnings:   a.warnings,
		Error:      msg,
		LogID:      entry,
	}, fmt.Errorf("%w: %s", ErrPushFailed, msg)
}

// appendLog writes the attempt's log entry and returns its id. A log write
// failure is logged and does not change the attempt's outcome.
func (o *Orchestrator) appendLog(ctx context.Context, tpl *forms.FormTemplate, req Request, a *attempt, status LogStatus, errMsg string, start time.Time) string {
	if o.logs == nil {
		return ""
	}
	entry := &SyncLogEntry{
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		Operation:       a.op,
		Trigger:         req.Trigger,
		Status:          status,
		ExternalID:      a.externalID,
		RequestSnapshot: datatypes.JSON(a.request),
		Warnings:        a.warnings,
		Error:           errMsg,
		DurationMs:      o.now().Sub(start).Milliseconds(),
		TriggeredBy:     req.TriggeredBy,
	}
	if a.form != nil {
		if body, err := json.Marshal(a.form); err == nil {
			entry.ResponseSnapshot = body
		}
	}
	if err := o.logs.Append(ctx, entry); err != nil {
		o.logger.Error("failed to append sync log", "templateID", tpl.ID, "error", err)
		return ""
	}
	return entry.ID
}
