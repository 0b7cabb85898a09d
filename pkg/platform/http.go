package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
)

const assetsPath = "/api/v2/assets/"

// HTTPClient implements Client against the platform's v2 REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client. A nil logger uses slog.Default().
func NewHTTPClient(cfg *ClientConfig, logger *slog.Logger) *HTTPClient {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

var _ Client = (*HTTPClient)(nil)

type assetPayload struct {
	Name      string           `json:"name"`
	AssetType string           `json:"asset_type,omitempty"`
	Content   *schema.Document `json:"content"`
}

// CreateForm creates a new survey asset.
func (c *HTTPClient) CreateForm(ctx context.Context, name string, doc *schema.Document) (*Form, error) {
	var form Form
	body := assetPayload{Name: name, AssetType: "survey", Content: doc}
	if err := c.doJSON(ctx, http.MethodPost, assetsPath, body, &form); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	return &form, nil
}

// UpdateForm replaces the content and name of an existing asset.
func (c *HTTPClient) UpdateForm(ctx context.Context, uid string, doc *schema.Document, name string) (*Form, error) {
	var form Form
	body := assetPayload{Name: name, Content: doc}
	if err := c.doJSON(ctx, http.MethodPatch, assetPath(uid), body, &form); err != nil {
		return nil, fmt.Errorf("update form %s: %w", uid, err)
	}
	return &form, nil
}

// DeployForm deploys the latest version. When the platform reports the asset
// as already deployed, the deployment is refreshed in place instead.
func (c *HTTPClient) DeployForm(ctx context.Context, uid string) error {
	path := assetPath(uid) + "deployment/"
	err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"active": true}, nil)
	if err == nil {
		return nil
	}
	if !isAlreadyDeployed(err) {
		return fmt.Errorf("deploy form %s: %w", uid, err)
	}

	form, err := c.GetForm(ctx, uid)
	if err != nil {
		return fmt.Errorf("deploy form %s: %w", uid, err)
	}
	redeploy := map[string]any{"active": true}
	if form.VersionID != "" {
		redeploy["version_id"] = form.VersionID
	}
	if err := c.doJSON(ctx, http.MethodPatch, path, redeploy, nil); err != nil {
		return fmt.Errorf("redeploy form %s: %w", uid, err)
	}
	return nil
}

func isAlreadyDeployed(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusBadRequest && apiErr.StatusCode != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "already")
}

// GetForm fetches one asset.
func (c *HTTPClient) GetForm(ctx context.Context, uid string) (*Form, error) {
	var form Form
	if err := c.doJSON(ctx, http.MethodGet, assetPath(uid), nil, &form); err != nil {
		return nil, fmt.Errorf("get form %s: %w", uid, err)
	}
	return &form, nil
}

// DeleteForm removes an asset.
func (c *HTTPClient) DeleteForm(ctx context.Context, uid string) error {
	if err := c.doJSON(ctx, http.MethodDelete, assetPath(uid), nil, nil); err != nil {
		return fmt.Errorf("delete form %s: %w", uid, err)
	}
	return nil
}

// UploadFile attaches a media file (e.g. a lookup CSV) to an asset.
func (c *HTTPClient) UploadFile(ctx context.Context, uid, filename string, content []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	meta, _ := json.Marshal(map[string]string{"filename": filename})
	_ = mw.WriteField("file_type", "form_media")
	_ = mw.WriteField("description", "default")
	_ = mw.WriteField("metadata", string(meta))
	part, err := mw.CreateFormFile("content", filename)
	if err != nil {
		return fmt.Errorf("upload file %s: %w", filename, err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("upload file %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("upload file %s: %w", filename, err)
	}

	path := assetPath(uid) + "files/"
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return fmt.Errorf("upload file %s: %w", filename, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("upload file %s: %w", filename, err)
	}
	return nil
}

type hook struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	Active     bool   `json:"active"`
	ExportType string `json:"export_type"`
	AuthLevel  string `json:"auth_level"`
}

// RegisterWebhook points the asset's REST service at endpoint unless a hook
// with the same endpoint already exists.
func (c *HTTPClient) RegisterWebhook(ctx context.Context, uid, endpoint string) error {
	path := assetPath(uid) + "hooks/"
	var existing struct {
		Results []hook `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &existing); err != nil {
		return fmt.Errorf("list webhooks %s: %w", uid, err)
	}
	for _, h := range existing.Results {
		if h.Endpoint == endpoint {
			return nil
		}
	}
	body := hook{Name: "UPG submissions", Endpoint: endpoint, Active: true, ExportType: "json", AuthLevel: "no_auth"}
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("register webhook %s: %w", uid, err)
	}
	return nil
}

type page struct {
	Next    string            `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// ListSubmissions returns every submission of an asset, following pagination.
func (c *HTTPClient) ListSubmissions(ctx context.Context, uid string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.eachPage(ctx, assetPath(uid)+"data/?format=json", func(p *page) bool {
		out = append(out, p.Results...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions %s: %w", uid, err)
	}
	return out, nil
}

// FindFormByName searches survey assets and returns the exact name match.
func (c *HTTPClient) FindFormByName(ctx context.Context, name string) (*Form, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("asset_type:survey AND name:%q", name))
	q.Set("format", "json")

	var found *Form
	err := c.eachPage(ctx, assetsPath+"?"+q.Encode(), func(p *page) bool {
		for _, raw := range p.Results {
			var f Form
			if json.Unmarshal(raw, &f) == nil && f.Name == name {
				found = &f
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("find form by name: %w", err)
	}
	return found, nil
}

func (c *HTTPClient) eachPage(ctx context.Context, path string, fn func(*page) bool) error {
	next := path
	for next != "" {
		var p page
		if err := c.doJSON(ctx, http.MethodGet, next, nil, &p); err != nil {
			return err
		}
		if !fn(&p) {
			return nil
		}
		next = p.Next
	}
	return nil
}

func assetPath(uid string) string {
	return assetsPath + url.PathEscape(uid) + "/"
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("platform request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
