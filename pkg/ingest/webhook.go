package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
)

// SignatureHeaders are the accepted signature header names, in lookup order.
var SignatureHeaders = []string{"X-Kobo-Signature", "X-Webhook-Signature"}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature, with or without a "sha256="
// prefix, in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

func signatureFrom(r *http.Request) string {
	for _, h := range SignatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// WebhookResponse is the body of every 200 answer.
type WebhookResponse struct {
	Status           string `json:"status"`
	SubmissionID     string `json:"submissionId,omitempty"`
	ValidationStatus string `json:"validationStatus,omitempty"`
	Error            string `json:"error,omitempty"`
}

// WebhookHandler handles submission deliveries from the collection platform.
// 403 on a bad signature, 400 on an unusable payload, 200 otherwise: failures
// after the ledger row exists are recorded there instead of being surfaced,
// so the platform does not retry them.
func WebhookHandler(p *Pipeline, cfg *WebhookConfig, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	if cfg == nil {
		cfg = DefaultWebhookConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenMode() {
		logger.Warn("webhook signature verification disabled, no secret configured")
	}

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
		if err != nil {
			m.IncrementWebhookRejected("unreadable")
			writeError(w, http.StatusBadRequest, "could not read request body")
			return
		}

		verified := false
		if !cfg.OpenMode() {
			if !VerifySignature(cfg.Secret, body, signatureFrom(r)) {
				m.IncrementWebhookRejected("bad_signature")
				writeError(w, http.StatusForbidden, "invalid signature")
				return
			}
			verified = true
		}

		out, err := p.processRecovered(r.Context(), Delivery{Body: body, Source: ledger.SourceWebhook, SignatureVerified: verified})
		switch {
		case errors.Is(err, ErrMalformedPayload):
			m.IncrementWebhookRejected("malformed")
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		case errors.Is(err, ErrMissingSubmissionID):
			m.IncrementWebhookRejected("missing_id")
			writeError(w, http.StatusBadRequest, "missing submission id")
			return
		case out == nil:
			// Nothing was recorded, so let the platform retry.
			logger.Error("webhook delivery not recorded", "error", err)
			writeError(w, http.StatusServiceUnavailable, "submission could not be recorded")
			return
		}

		resp := WebhookResponse{Status: "processed", SubmissionID: out.SubmissionID}
		switch {
		case err != nil:
			resp.Status = "failed"
			resp.Error = err.Error()
		case out.Duplicate:
			resp.Status = "duplicate"
		default:
			resp.ValidationStatus = string(out.Result.Status)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// processRecovered runs Process and turns a panic into an error. The Outcome
// is only returned when the receipt was written before the panic; Process
// has then already recorded the failure on it.
func (p *Pipeline) processRecovered(ctx context.Context, d Delivery) (out *Outcome, err error) {
	var recorded *Outcome
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			out = recorded
		}
	}()
	return p.process(ctx, d, &recorded)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
