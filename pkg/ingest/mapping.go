package ingest

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
)

var truthy = mapset.NewSet[any]("yes", "true", "1", true)

// metadataKeys are platform bookkeeping keys that never become mapped values.
var metadataKeys = mapset.NewSet(
	"__version__",
	"formhub/uuid",
	"meta/instanceID",
	"meta/instanceName",
	"meta/deprecatedID",
	"meta/rootUuid",
)

func isMetadata(key string) bool {
	return strings.HasPrefix(key, "_") || metadataKeys.Contains(key)
}

// fieldName strips group paths: "household/members/id_number" becomes "id_number".
func fieldName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// orderedKeys returns the non-metadata keys of raw, shallowest group path
// first and then by name. Walking them in this order lets a top-level key
// claim its field name before any grouped key with the same leaf.
func orderedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if !isMetadata(k) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Or(cmp.Compare(strings.Count(a, "/"), strings.Count(b, "/")), strings.Compare(a, b))
	})
	return keys
}

// MapValues converts a raw submission into values keyed by internal field
// name. Known fields are coerced by type; keys the template does not know
// are kept as submitted. Platform metadata is dropped. When several keys
// share a field name the shallowest one wins.
func MapValues(raw map[string]any, tpl *forms.FormTemplate) map[string]any {
	types := make(map[string]forms.FieldType, len(tpl.Fields))
	for _, f := range tpl.Fields {
		types[f.Name] = f.Type
	}

	out := make(map[string]any, len(raw))
	for _, key := range orderedKeys(raw) {
		name := fieldName(key)
		if name == "" {
			continue
		}
		if _, taken := out[name]; taken {
			continue
		}
		if ft, ok := types[name]; ok {
			out[name] = coerce(ft, raw[key])
			continue
		}
		out[name] = raw[key]
	}
	return out
}

func coerce(ft forms.FieldType, value any) any {
	switch ft {
	case forms.FieldPhone:
		if s, ok := value.(string); ok {
			return phonenum.Clean(s)
		}
	case forms.FieldInteger, forms.FieldRating, forms.FieldRange:
		return parseNumber(value, true)
	case forms.FieldDecimal:
		return parseNumber(value, false)
	case forms.FieldBoolean:
		return isTruthy(value)
	}
	return value
}

func parseNumber(value any, integer bool) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	s = strings.TrimSpace(s)
	if integer {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return value
}

func isTruthy(value any) bool {
	switch t := value.(type) {
	case string:
		return truthy.Contains(strings.ToLower(strings.TrimSpace(t)))
	case bool:
		return truthy.Contains(t)
	case float64:
		return t == 1
	}
	return false
}

// SubmissionID returns the platform's id for a submission.
func SubmissionID(raw map[string]any) string {
	for _, key := range []string{"_uuid", "meta/instanceID", "instanceID", "_id"} {
		if v := scalarString(raw[key]); v != "" {
			return strings.TrimPrefix(v, "uuid:")
		}
	}
	return ""
}

// FormRef returns the external form reference a submission belongs to.
func FormRef(raw map[string]any) string {
	for _, key := range []string{"_xform_id_string", "formId", "form_id", "_form_id"} {
		if v := scalarString(raw[key]); v != "" {
			return v
		}
	}
	return ""
}

// SubmittedAt parses the platform's submission timestamp when present.
func SubmittedAt(raw map[string]any) *time.Time {
	s := scalarString(raw["_submission_time"])
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
