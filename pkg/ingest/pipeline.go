// Package ingest turns external submissions into reconciled submission
// records. Webhook deliveries and pull runs share one idempotent routine.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/identity"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/reconcile"
)

var (
	// ErrMalformedPayload is returned when the body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed submission payload")
	// ErrMissingSubmissionID is returned when the payload carries no submission id.
	ErrMissingSubmissionID = errors.New("submission id missing from payload")
)

// Delivery is one submission handed to the pipeline.
type Delivery struct {
	Body              []byte
	Source            ledger.Source
	SignatureVerified bool
	// Template is set when the caller already knows the owning template.
	Template *forms.FormTemplate
}

// Outcome describes what Process did with a delivery.
type Outcome struct {
	SubmissionID string
	// Duplicate is true when the submission had already been received.
	Duplicate bool
	Receipt   *ledger.WebhookReceipt
	Record    *ledger.SubmissionRecord
	Result    reconcile.Result
}

// Decode parses a body and returns the payload and its submission id. It has
// no side effects.
func Decode(body []byte) (map[string]any, string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, "", ErrMalformedPayload
	}
	id := SubmissionID(raw)
	if id == "" {
		return nil, "", ErrMissingSubmissionID
	}
	return raw, id, nil
}

// Pipeline is the single processing routine behind both entry points.
type Pipeline struct {
	templates   *forms.TemplateStore
	receipts    *ledger.ReceiptStore
	submissions *ledger.SubmissionStore
	policy      *reconcile.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. m may be nil.
func NewPipeline(templates *forms.TemplateStore, receipts *ledger.ReceiptStore, submissions *ledger.SubmissionStore,
	policy *reconcile.Policy, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		templates:   templates,
		receipts:    receipts,
		submissions: submissions,
		policy:      policy,
		metrics:     m,
		logger:      logger,
	}
}

// Process records the delivery in the ledger and, unless it was seen before,
// reconciles and stores it. The receipt always reaches a terminal status,
// including when processing panics; the panic is re-raised afterwards.
// Errors returned after the receipt exists are already recorded on it.
func (p *Pipeline) Process(ctx context.Context, d Delivery) (*Outcome, error) {
	return p.process(ctx, d, nil)
}

// process is Process. When recorded is non-nil it receives the Outcome as
// soon as the receipt exists, so a caller recovering a panic can tell
// whether the delivery reached the ledger.
func (p *Pipeline) process(ctx context.Context, d Delivery, recorded **Outcome) (out *Outcome, err error) {
	raw, id, err := Decode(d.Body)
	if err != nil {
		return nil, err
	}
	if d.Source == "" {
		d.Source = ledger.SourceWebhook
	}

	formRef := FormRef(raw)
	if formRef == "" && d.Template != nil {
		formRef = d.Template.ExternalID
	}
	receipt, dup, err := p.receipts.Begin(ctx, &ledger.WebhookReceipt{
		ExternalSubmissionID: id,
		ExternalFormID:       formRef,
		Source:               d.Source,
		SignatureVerified:    d.SignatureVerified,
		RawPayload:           datatypes.JSON(d.Body),
	})
	if err != nil {
		return nil, err
	}
	out = &Outcome{SubmissionID: id, Receipt: receipt}
	if recorded != nil {
		*recorded = out
	}
	if dup {
		out.Duplicate = true
		p.metrics.IncrementSubmission(string(d.Source), "duplicate")
		p.logger.Info("duplicate submission skipped", "submissionID", id, "source", d.Source, "deliveries", receipt.Deliveries)
		return out, nil
	}

	status := ledger.ReceiptProcessed
	defer func() {
		// The receipt must be closed even if the caller's context is gone.
		finishCtx := context.WithoutCancel(ctx)
		if r := recover(); r != nil {
			p.finish(finishCtx, receipt, ledger.ReceiptFailed, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			p.finish(finishCtx, receipt, ledger.ReceiptFailed, err.Error())
			return
		}
		p.finish(finishCtx, receipt, status, "")
	}()

	existing, err := p.submissions.GetByExternalID(ctx, id)
	if err != nil {
		return out, err
	}
	if existing != nil {
		status = ledger.ReceiptDuplicate
		out.Duplicate = true
		out.Record = existing
		return out, nil
	}

	tpl := d.Template
	if tpl == nil {
		tpl, err = p.templates.GetByFormRef(ctx, formRef)
		if err != nil {
			return out, fmt.Errorf("resolve template for form %q: %w", formRef, err)
		}
	}

	values := MapValues(raw, tpl)
	ids := identity.Extract(values, tpl.FieldMapping)
	res, err := p.policy.Apply(ctx, tpl.Purpose, ids)
	if err != nil {
		return out, fmt.Errorf("reconcile submission %s: %w", id, err)
	}
	out.Result = res
	if tpl.Purpose != forms.PurposeGeneral {
		p.metrics.IncrementResolution(string(res.Resolution.MatchType), string(res.Resolution.Confidence))
	}

	rec := &ledger.SubmissionRecord{
		ExternalSubmissionID: id,
		TemplateID:           tpl.ID,
		ExternalFormID:       formRef,
		Purpose:              string(tpl.Purpose),
		Source:               d.Source,
		RawPayload:           datatypes.JSON(d.Body),
		MappedValues:         datatypes.JSONMap(values),
		ValidationStatus:     string(res.Status),
		MatchType:            string(res.Resolution.MatchType),
		Confidence:           string(res.Resolution.Confidence),
		Outcome:              string(res.Outcome),
		ChangedFields:        res.ChangedFields,
		Message:              res.Message,
		SubmittedAt:          SubmittedAt(raw),
	}
	if pt, ok := ExtractGPS(raw, tpl); ok {
		rec.Latitude, rec.Longitude = &pt.Latitude, &pt.Longitude
	}
	if res.BeneficiaryID != "" {
		ref := res.BeneficiaryID
		rec.MatchedBeneficiaryID = &ref
	}

	if err := p.submissions.Create(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrDuplicateSubmission) {
			status = ledger.ReceiptDuplicate
			out.Duplicate = true
			return out, nil
		}
		return out, err
	}
	out.Record = rec

	p.metrics.IncrementSubmission(string(d.Source), rec.ValidationStatus)
	p.logger.Info("submission processed",
		"submissionID", id,
		"templateID", tpl.ID,
		"purpose", tpl.Purpose,
		"validationStatus", res.Status,
		"outcome", res.Outcome,
		"matchType", res.Resolution.MatchType,
		"confidence", res.Resolution.Confidence)
	return out, nil
}

func (p *Pipeline) finish(ctx context.Context, receipt *ledger.WebhookReceipt, status ledger.ReceiptStatus, msg string) {
	if status == ledger.ReceiptFailed {
		p.logger.Error("submission processing failed", "submissionID", receipt.ExternalSubmissionID, "error", msg)
	}
	if err := p.receipts.Finish(ctx, receipt.ID, status, msg); err != nil {
		p.logger.Error("failed to close receipt", "receiptID", receipt.ID, "status", status, "error", err)
		return
	}
	receipt.Status = status
	receipt.Error = msg
}
