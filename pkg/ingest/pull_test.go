package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/platform"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/reconcile"
)

// listingClient serves a fixed submission list and fails everything else.
type listingClient struct {
	platform.Client
	items []json.RawMessage
	err   error
	uid   string
}

func (c *listingClient) ListSubmissions(_ context.Context, uid string) ([]json.RawMessage, error) {
	c.uid = uid
	return c.items, c.err
}

func raws(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestPullAggregatesCounters(t *testing.T) {
	h := newHarness(t, forms.PurposeUpdateDetails)
	ctx := context.Background()

	// Already delivered by webhook.
	_, err := h.pipeline.Process(ctx, Delivery{Body: []byte(`{"_uuid":"p0","id_number":"12345678"}`), Template: h.template})
	require.NoError(t, err)

	client := &listingClient{items: raws(
		`{"_uuid":"p0","id_number":"12345678"}`,
		`{"_uuid":"p1","id_number":"12345678","middle_name":"Atieno"}`,
		`{"_uuid":"p2","id_number":"00000000"}`,
		`{"no_id":true}`,
	)}
	summary, err := NewPuller(h.templates, client, h.pipeline, nil).Pull(ctx, h.template.ID)
	require.NoError(t, err)
	assert.Equal(t, "aX1", client.uid)
	assert.Equal(t, &PullSummary{
		TemplateID:        h.template.ID,
		Fetched:           4,
		New:               2,
		SkippedDuplicates: 1,
		UpdatesMade:       1,
		Failed:            1,
	}, summary)

	rec, err := h.submissions.GetByExternalID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.StatusDataUpdated), rec.ValidationStatus)
	assert.Equal(t, []string{"middle_name"}, rec.ChangedFields)
}

func TestPullCountsDetectedDuplicates(t *testing.T) {
	h := newHarness(t, forms.PurposeNewRegistration)
	client := &listingClient{items: raws(`{"_uuid":"r1","id_number":"12345678"}`)}
	summary, err := NewPuller(h.templates, client, h.pipeline, nil).Pull(context.Background(), h.template.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.DuplicatesDetected)
}

func TestPullRequiresExternalForm(t *testing.T) {
	h := newHarness(t, forms.PurposeSurvey)
	tpl, err := h.templates.Create(context.Background(), &forms.FormTemplate{Name: "Draft"})
	require.NoError(t, err)

	_, err = NewPuller(h.templates, &listingClient{}, h.pipeline, nil).Pull(context.Background(), tpl.ID)
	assert.ErrorIs(t, err, ErrNotDeployed)

	_, err = NewPuller(h.templates, &listingClient{}, h.pipeline, nil).Pull(context.Background(), "missing")
	assert.ErrorIs(t, err, forms.ErrTemplateNotFound)
}

func TestPullPropagatesListFailure(t *testing.T) {
	h := newHarness(t, forms.PurposeSurvey)
	client := &listingClient{err: errors.New("timeout")}
	_, err := NewPuller(h.templates, client, h.pipeline, nil).Pull(context.Background(), h.template.ID)
	assert.Error(t, err)
}
