// Package schema converts internal form templates into the survey document
// understood by the mobile data-collection platform.
package schema

import (
	"encoding/json"
)

// Row is one entry of the survey sheet.
type Row struct {
	Type              string `json:"type"`
	Name              string `json:"name"`
	Label             string `json:"label,omitempty"`
	Hint              string `json:"hint,omitempty"`
	Required          bool   `json:"required,omitempty"`
	Constraint        string `json:"constraint,omitempty"`
	ConstraintMessage string `json:"constraint_message,omitempty"`
	Relevant          string `json:"relevant,omitempty"`
	Calculation       string `json:"calculation,omitempty"`
	Appearance        string `json:"appearance,omitempty"`
	Parameters        string `json:"parameters,omitempty"`
	Default           string `json:"default,omitempty"`
}

// ChoiceRow is one (list, value, label) triple of the choices sheet.
type ChoiceRow struct {
	ListName string `json:"list_name"`
	Name     string `json:"name"`
	Label    string `json:"label"`
}

// Settings is the settings sheet.
type Settings struct {
	FormTitle string `json:"form_title"`
	FormID    string `json:"form_id"`
	Version   string `json:"version"`
}

// Document is the full converted form.
type Document struct {
	Survey   []Row       `json:"survey"`
	Choices  []ChoiceRow `json:"choices"`
	Settings Settings    `json:"settings"`
}

// JSON renders the document. Output is stable for equal documents.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// RowNames returns the survey row names in order.
func (d *Document) RowNames() []string {
	names := make([]string, len(d.Survey))
	for i, r := range d.Survey {
		names[i] = r.Name
	}
	return names
}

// FieldIssue records a field that was degraded to a note during conversion.
type FieldIssue struct {
	Field    string `json:"field"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

func (i FieldIssue) Error() string {
	return "field " + i.Field + ": " + i.Reason
}

// Result is the output of Convert.
type Result struct {
	Document Document
	Issues   []FieldIssue
	// LookupInjected is true when the identity lookup block was emitted.
	LookupInjected bool
}
