// Package platform talks to the external mobile data-collection platform
// that template forms are deployed to and submissions are collected from.
package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
)

// Form is the platform's view of a deployed form.
type Form struct {
	UID              string `json:"uid"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	VersionID        string `json:"version_id,omitempty"`
	DeploymentActive bool   `json:"deployment__active"`
}

// Client is the platform surface the sync and ingestion pipeline consumes.
// Calls block for at most the configured timeout and are never retried.
type Client interface {
	CreateForm(ctx context.Context, name string, doc *schema.Document) (*Form, error)
	UpdateForm(ctx context.Context, uid string, doc *schema.Document, name string) (*Form, error)
	// DeployForm is idempotent: a form that is already deployed is redeployed
	// and reported as success.
	DeployForm(ctx context.Context, uid string) error
	GetForm(ctx context.Context, uid string) (*Form, error)
	DeleteForm(ctx context.Context, uid string) error
	UploadFile(ctx context.Context, uid, filename string, content []byte) error
	RegisterWebhook(ctx context.Context, uid, endpoint string) error
	ListSubmissions(ctx context.Context, uid string) ([]json.RawMessage, error)
	// FindFormByName returns the form whose name equals name exactly, or nil.
	FindFormByName(ctx context.Context, name string) (*Form, error)
}

// APIError is returned for non-2xx platform responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("platform %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, body)
}
