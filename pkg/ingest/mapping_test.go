package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
)

func mappingTemplate() *forms.FormTemplate {
	return &forms.FormTemplate{Fields: []forms.FormField{
		{Name: "phone", Type: forms.FieldPhone},
		{Name: "age", Type: forms.FieldInteger},
		{Name: "income", Type: forms.FieldDecimal},
		{Name: "has_business", Type: forms.FieldBoolean},
		{Name: "satisfaction", Type: forms.FieldRating},
		{Name: "home", Type: forms.FieldGeolocation},
	}}
}

func TestMapValues(t *testing.T) {
	raw := map[string]any{
		"household/phone":  "+254 712-345-678",
		"household/age":    "34",
		"income":           "1250.50",
		"has_business":     "Yes",
		"satisfaction":     "4",
		"village":          "Kamula",
		"group/comments":   "ok",
		"_id":              float64(991),
		"_uuid":            "abc",
		"meta/instanceID":  "uuid:abc",
		"formhub/uuid":     "f1",
		"__version__":      "v1",
		"_submission_time": "2026-03-01T08:00:00",
		"lookup_id_number": "12345678",
	}
	got := MapValues(raw, mappingTemplate())

	assert.Equal(t, map[string]any{
		"phone":            "+254712345678",
		"age":              int64(34),
		"income":           1250.5,
		"has_business":     true,
		"satisfaction":     int64(4),
		"village":          "Kamula",
		"comments":         "ok",
		"lookup_id_number": "12345678",
	}, got)
}

func TestMapValuesKeepsUnparseableNumbers(t *testing.T) {
	got := MapValues(map[string]any{"age": "about forty", "income": float64(12)}, mappingTemplate())
	assert.Equal(t, "about forty", got["age"])
	assert.Equal(t, float64(12), got["income"])
}

func TestMapValuesTopLevelKeyWinsOverGroupPath(t *testing.T) {
	tpl := &forms.FormTemplate{Fields: []forms.FormField{{Name: "id_number", Type: forms.FieldText}}}
	raw := map[string]any{
		"spouse/id_number":         "22222222",
		"id_number":                "11111111",
		"household/head/id_number": "33333333",
	}
	for i := 0; i < 200; i++ {
		assert.Equal(t, "11111111", MapValues(raw, tpl)["id_number"])
	}

	grouped := map[string]any{"spouse/id_number": "22222222", "head/id_number": "11111111"}
	for i := 0; i < 200; i++ {
		assert.Equal(t, "11111111", MapValues(grouped, tpl)["id_number"])
	}
}

func TestTruthySet(t *testing.T) {
	for _, v := range []any{"yes", "TRUE", " 1 ", true, float64(1)} {
		assert.True(t, isTruthy(v), "%v", v)
	}
	for _, v := range []any{"no", "0", false, nil, []any{"yes"}, "y"} {
		assert.False(t, isTruthy(v), "%v", v)
	}
}

func TestSubmissionIDFallbacks(t *testing.T) {
	assert.Equal(t, "u1", SubmissionID(map[string]any{"_uuid": "u1", "meta/instanceID": "uuid:u2"}))
	assert.Equal(t, "u2", SubmissionID(map[string]any{"meta/instanceID": "uuid:u2"}))
	assert.Equal(t, "42", SubmissionID(map[string]any{"_id": float64(42)}))
	assert.Empty(t, SubmissionID(map[string]any{"_uuid": "  "}))
}

func TestFormRefAndSubmittedAt(t *testing.T) {
	raw := map[string]any{"_xform_id_string": "aX1", "_submission_time": "2026-03-01T08:00:00"}
	assert.Equal(t, "aX1", FormRef(raw))
	at := SubmittedAt(raw)
	if assert.NotNil(t, at) {
		assert.Equal(t, 2026, at.Year())
	}
	assert.Nil(t, SubmittedAt(map[string]any{"_submission_time": "yesterday"}))
}

func TestExtractGPS(t *testing.T) {
	tpl := mappingTemplate()

	pt, ok := ExtractGPS(map[string]any{"gps": "-0.9 34.5 1200 5", "group/home": "-1.25 36.8 0 0"}, tpl)
	assert.True(t, ok)
	assert.Equal(t, Point{Latitude: -1.25, Longitude: 36.8}, pt)

	pt, ok = ExtractGPS(map[string]any{"location": "bad", "_geolocation": []any{-0.5, 34.1}}, nil)
	assert.True(t, ok)
	assert.Equal(t, Point{Latitude: -0.5, Longitude: 34.1}, pt)

	_, ok = ExtractGPS(map[string]any{"gps": "12", "_geolocation": []any{nil, nil}}, nil)
	assert.False(t, ok)
}
