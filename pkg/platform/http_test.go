package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

type fakePlatform struct {
	mu       sync.Mutex
	requests []recorded
	handler  http.HandlerFunc
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body), Header: r.Header.Clone()})
	f.mu.Unlock()
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	f.handler(w, r)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*HTTPClient, *fakePlatform) {
	t.Helper()
	fake := &fakePlatform{handler: h}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret-token"
	return NewHTTPClient(cfg, nil), fake
}

func TestCreateFormSendsDocument(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uid":"aX1","name":"Visit","url":"http://x/api/v2/assets/aX1/"}`))
	})

	doc := &schema.Document{Survey: []schema.Row{{Type: "text", Name: "q1"}}, Choices: []schema.ChoiceRow{}, Settings: schema.Settings{FormTitle: "Visit", FormID: "upg_1", Version: "v1"}}
	form, err := client.CreateForm(context.Background(), "Visit", doc)
	require.NoError(t, err)
	assert.Equal(t, "aX1", form.UID)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v2/assets/", req.Path)
	assert.Equal(t, "Token secret-token", req.Header.Get("Authorization"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "survey", sent["asset_type"])
	content := sent["content"].(map[string]any)
	assert.Equal(t, "upg_1", content["settings"].(map[string]any)["form_id"])
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
	})

	_, err := client.GetForm(context.Background(), "aX1")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Invalid token")
}

func TestDeployAlreadyDeployedCountsAsSuccess(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/deployment/"):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"This form has already been deployed."}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"uid":"aX1","version_id":"v9"}`))
		case r.Method == http.MethodPatch:
			_, _ = w.Write([]byte(`{}`))
		}
	})

	require.NoError(t, client.DeployForm(context.Background(), "aX1"))
	require.Len(t, fake.requests, 3)
	assert.Equal(t, http.MethodPatch, fake.requests[2].Method)
	assert.Contains(t, fake.requests[2].Body, `"version_id":"v9"`)
}

func TestDeployOtherFailureIsError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Error(t, client.DeployForm(context.Background(), "aX1"))
}

func TestFindFormByNameExactMatchAcrossPages(t *testing.T) {
	var srvURL string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"next":null,"results":[{"uid":"b2","name":"Visit"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"next":"` + srvURL + `/api/v2/assets/?page=2","results":[{"uid":"a1","name":"Visit (copy)"}]}`))
	})
	srvURL = client.baseURL

	form, err := client.FindFormByName(context.Background(), "Visit")
	require.NoError(t, err)
	require.NotNil(t, form)
	assert.Equal(t, "b2", form.UID)
}

func TestFindFormByNameAbsent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"next":null,"results":[]}`))
	})
	form, err := client.FindFormByName(context.Background(), "Nothing")
	require.NoError(t, err)
	assert.Nil(t, form)
}

func TestListSubmissionsFollowsNext(t *testing.T) {
	var srvURL string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "2" {
			_, _ = w.Write([]byte(`{"next":null,"results":[{"_uuid":"s3"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"next":"` + srvURL + `/api/v2/assets/aX1/data/?format=json&start=2","results":[{"_uuid":"s1"},{"_uuid":"s2"}]}`))
	})
	srvURL = client.baseURL

	subs, err := client.ListSubmissions(context.Background(), "aX1")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.JSONEq(t, `{"_uuid":"s3"}`, string(subs[2]))
}

func TestUploadFileIsMultipart(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "form_media", r.FormValue("file_type"))
		f, hdr, err := r.FormFile("content")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "households.csv", hdr.Filename)
		assert.Equal(t, "a,b\n", string(data))
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, client.UploadFile(context.Background(), "aX1", "households.csv", []byte("a,b\n")))
	assert.Equal(t, "/api/v2/assets/aX1/files/", fake.requests[0].Path)
}

func TestRegisterWebhookSkipsExisting(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"endpoint":"https://upg.example/hook"}]}`))
	})
	require.NoError(t, client.RegisterWebhook(context.Background(), "aX1", "https://upg.example/hook"))
	assert.Len(t, fake.requests, 1)

	require.NoError(t, client.RegisterWebhook(context.Background(), "aX1", "https://upg.example/other"))
	require.Len(t, fake.requests, 3)
	assert.Equal(t, http.MethodPost, fake.requests[2].Method)
	assert.Contains(t, fake.requests[2].Body, `"endpoint":"https://upg.example/other"`)
}
