package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
)

// Names of the rows emitted by the identity lookup block.
const (
	LookupIDNumber    = "lookup_id_number"
	LookupPhone       = "lookup_phone"
	LookupHouseholdID = "lookup_household_id"
	LookupFullName    = "lookup_full_name"
	LookupVillage     = "lookup_village"
	LookupPhoneNumber = "lookup_phone_number"
	LookupFound       = "lookup_found"
	LookupNotFound    = "lookup_not_found"
	BeneficiaryRef    = "beneficiary_ref"

	yesNoList = "yes_no"
)

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

func metadataRows() []Row {
	return []Row{
		{Type: "start", Name: "start"},
		{Type: "end", Name: "end"},
		{Type: "deviceid", Name: "deviceid"},
		{Type: "username", Name: "username"},
	}
}

func lookupRows() []Row {
	byHousehold := func(column string) string {
		return fmt.Sprintf("pulldata('households', '%s', 'household_id', ${%s})", column, LookupHouseholdID)
	}
	return []Row{
		{Type: "text", Name: LookupIDNumber, Label: "Search beneficiary by ID number"},
		{Type: "text", Name: LookupPhone, Label: "Search beneficiary by phone number"},
		{
			Type: "calculate",
			Name: LookupHouseholdID,
			Calculation: fmt.Sprintf(
				"coalesce(pulldata('households', 'household_id', 'id_number', ${%s}), pulldata('households', 'household_id', 'phone_number', ${%s}))",
				LookupIDNumber, LookupPhone),
		},
		{Type: "calculate", Name: LookupFullName, Calculation: byHousehold("full_name")},
		{Type: "calculate", Name: LookupVillage, Calculation: byHousehold("village")},
		{Type: "calculate", Name: LookupPhoneNumber, Calculation: byHousehold("phone_number")},
		{
			Type:     "note",
			Name:     LookupFound,
			Label:    fmt.Sprintf("Beneficiary found: ${%s}, ${%s}", LookupFullName, LookupVillage),
			Relevant: fmt.Sprintf("${%s} != ''", LookupHouseholdID),
		},
		{
			Type:     "note",
			Name:     LookupNotFound,
			Label:    "No matching beneficiary was found",
			Relevant: fmt.Sprintf("(${%s} != '' or ${%s} != '') and ${%s} = ''", LookupIDNumber, LookupPhone, LookupHouseholdID),
		},
		{Type: "calculate", Name: BeneficiaryRef, Calculation: fmt.Sprintf("${%s}", LookupHouseholdID)},
	}
}

var reservedNames = mapset.NewSet(
	"start", "end", "deviceid", "username",
	LookupIDNumber, LookupPhone, LookupHouseholdID, LookupFullName, LookupVillage,
	LookupPhoneNumber, LookupFound, LookupNotFound, BeneficiaryRef,
)

// FormID is the identifier written to the settings sheet.
func FormID(tpl *forms.FormTemplate) string {
	if tpl.ExternalID != "" {
		return tpl.ExternalID
	}
	if tpl.FormKey != "" {
		return tpl.FormKey
	}
	return forms.FormKeyFor(tpl.ID)
}

// Convert renders tpl as a survey document. It has no side effects, and equal
// templates produce equal documents. A field that cannot be rendered is
// replaced by a note and reported in Result.Issues; conversion as a whole
// never fails.
func Convert(tpl *forms.FormTemplate) Result {
	res := Result{
		Document: Document{
			Survey:  metadataRows(),
			Choices: []ChoiceRow{},
			Settings: Settings{
				FormTitle: tpl.Name,
				FormID:    FormID(tpl),
				Version:   "v" + strconv.Itoa(tpl.Version),
			},
		},
	}

	fields := make([]forms.FormField, len(tpl.Fields))
	copy(fields, tpl.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })

	res.LookupInjected = NeedsIdentityLookup(tpl.Purpose, fields)
	known := knownFields(fields, res.LookupInjected)
	if res.LookupInjected {
		res.Document.Survey = append(res.Document.Survey, lookupRows()...)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	yesNoAdded := false
	for i, f := range fields {
		row, choices, err := convertField(f, known)
		if err == nil && seen.Contains(f.Name) {
			err = fmt.Errorf("duplicate field name")
		}
		if err != nil {
			res.Issues = append(res.Issues, FieldIssue{Field: f.Name, Position: i + 1, Reason: err.Error()})
			res.Document.Survey = append(res.Document.Survey, degradedRow(f, i+1))
			continue
		}
		seen.Add(f.Name)
		res.Document.Survey = append(res.Document.Survey, row)
		if f.Type == forms.FieldBoolean && !yesNoAdded {
			res.Document.Choices = append(res.Document.Choices,
				ChoiceRow{ListName: yesNoList, Name: "yes", Label: "Yes"},
				ChoiceRow{ListName: yesNoList, Name: "no", Label: "No"},
			)
			yesNoAdded = true
		}
		res.Document.Choices = append(res.Document.Choices, choices...)
	}
	return res
}

func knownFields(fields []forms.FormField, withLookup bool) map[string]fieldKind {
	known := make(map[string]fieldKind, len(fields)+9)
	for _, f := range fields {
		if !validName.MatchString(f.Name) || reservedNames.Contains(f.Name) {
			continue
		}
		if f.Type == forms.FieldMultipleChoice {
			known[f.Name] = kindMulti
		} else {
			known[f.Name] = kindScalar
		}
	}
	if withLookup {
		for _, r := range lookupRows() {
			known[r.Name] = kindScalar
		}
	}
	return known
}

func degradedRow(f forms.FormField, position int) Row {
	label := f.Label
	if label == "" {
		label = f.Name
	}
	if label == "" {
		label = "Invalid field"
	}
	return Row{Type: "note", Name: fmt.Sprintf("invalid_field_%d", position), Label: label}
}

func convertField(f forms.FormField, known map[string]fieldKind) (Row, []ChoiceRow, error) {
	if !validName.MatchString(f.Name) {
		return Row{}, nil, fmt.Errorf("invalid field name %q", f.Name)
	}
	if reservedNames.Contains(f.Name) {
		return Row{}, nil, fmt.Errorf("field name %q is reserved", f.Name)
	}

	row := Row{
		Name:     f.Name,
		Label:    f.Label,
		Hint:     f.Hint,
		Required: f.Required,
		Default:  f.Default,
	}
	if row.Label == "" {
		row.Label = f.Name
	}

	var choices []ChoiceRow
	switch f.Type {
	case forms.FieldText, forms.FieldPhone, forms.FieldEmail:
		row.Type = "text"
	case forms.FieldTextarea:
		row.Type = "text"
		row.Appearance = "multiline"
	case forms.FieldNote, forms.FieldGroup, forms.FieldSection:
		row.Type = "note"
	case forms.FieldInteger, forms.FieldRating:
		row.Type = "integer"
	case forms.FieldDecimal:
		row.Type = "decimal"
	case forms.FieldCalculated:
		if strings.TrimSpace(f.Calculation) == "" {
			return Row{}, nil, errors.New("calculated field has no calculation")
		}
		row.Type = "calculate"
		row.Calculation = f.Calculation
	case forms.FieldDate:
		row.Type = "date"
	case forms.FieldTime:
		row.Type = "time"
	case forms.FieldDateTime:
		row.Type = "dateTime"
	case forms.FieldSingleChoice, forms.FieldMultipleChoice:
		list := f.Name + "_choices"
		var err error
		if choices, err = choiceRows(list, f.Choices); err != nil {
			return Row{}, nil, err
		}
		if f.Type == forms.FieldSingleChoice {
			row.Type = "select_one " + list
		} else {
			row.Type = "select_multiple " + list
		}
	case forms.FieldBoolean:
		row.Type = "select_one " + yesNoList
	case forms.FieldFile, forms.FieldImage, forms.FieldAudio, forms.FieldVideo, forms.FieldBarcode:
		row.Type = string(f.Type)
	case forms.FieldGeolocation:
		row.Type = "geopoint"
	case forms.FieldSignature:
		row.Type = "image"
		row.Appearance = "signature"
	case forms.FieldRange:
		row.Type = "range"
		params, err := rangeParameters(f)
		if err != nil {
			return Row{}, nil, err
		}
		row.Parameters = params
	default:
		return Row{}, nil, fmt.Errorf("unsupported field type %q", f.Type)
	}

	if row.Type == "note" || row.Type == "calculate" {
		row.Required = false
	}
	if row.Type != "note" {
		constraint, err := constraintFor(f)
		if err != nil {
			return Row{}, nil, err
		}
		row.Constraint = constraint
		if f.Type == forms.FieldPhone {
			row.ConstraintMessage = "Enter a valid Kenyan phone number"
		}
	}

	if strings.TrimSpace(f.ShowIf) != "" {
		relevant, err := renderShowIf(f.ShowIf, known)
		if err != nil {
			return Row{}, nil, err
		}
		row.Relevant = relevant
	}
	return row, choices, nil
}

func choiceRows(list string, choices []forms.Choice) ([]ChoiceRow, error) {
	if len(choices) == 0 {
		return nil, errors.New("choice field has no choices")
	}
	seen := make(map[string]struct{}, len(choices))
	rows := make([]ChoiceRow, 0, len(choices))
	for _, c := range choices {
		value := strings.TrimSpace(c.Value)
		if value == "" || strings.ContainsAny(value, " \t\n") {
			return nil, fmt.Errorf("invalid choice value %q", c.Value)
		}
		if _, dup := seen[value]; dup {
			return nil, fmt.Errorf("duplicate choice value %q", value)
		}
		seen[value] = struct{}{}
		label := c.Label
		if label == "" {
			label = value
		}
		rows = append(rows, ChoiceRow{ListName: list, Name: value, Label: label})
	}
	return rows, nil
}

func rangeParameters(f forms.FormField) (string, error) {
	start, end := 0.0, 10.0
	if f.MinValue != nil {
		start = *f.MinValue
	}
	if f.MaxValue != nil {
		end = *f.MaxValue
	}
	if start >= end {
		return "", fmt.Errorf("range start %s is not below end %s", formatNumber(start), formatNumber(end))
	}
	return fmt.Sprintf("start=%s end=%s step=1", formatNumber(start), formatNumber(end)), nil
}

// constraintFor joins every applicable rule with "and", in a fixed order.
func constraintFor(f forms.FormField) (string, error) {
	var parts []string
	if f.MinLength != nil {
		parts = append(parts, fmt.Sprintf("string-length(.) >= %d", *f.MinLength))
	}
	if f.MaxLength != nil {
		parts = append(parts, fmt.Sprintf("string-length(.) <= %d", *f.MaxLength))
	}
	if f.MinValue != nil {
		parts = append(parts, ". >= "+formatNumber(*f.MinValue))
	}
	if f.MaxValue != nil {
		parts = append(parts, ". <= "+formatNumber(*f.MaxValue))
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		if strings.Contains(f.Pattern, "'") {
			return "", errors.New("pattern must not contain a single quote")
		}
		parts = append(parts, fmt.Sprintf("regex(., '%s')", f.Pattern))
	}
	if f.Type == forms.FieldDate {
		parts = append(parts, ". <= today()")
	}
	if f.Type == forms.FieldRating {
		parts = append(parts, ". >= 1 and . <= 5")
	}
	if f.Type == forms.FieldPhone {
		parts = append(parts, fmt.Sprintf("regex(., '%s')", phonenum.KenyanPattern))
	}
	return strings.Join(parts, " and "), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
