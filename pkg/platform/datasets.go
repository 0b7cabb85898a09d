package platform

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
)

// Column headers of the lookup datasets. Form expressions reference these
// names, so they must not change.
var (
	HouseholdColumns     = []string{"household_id", "id_number", "phone_number", "full_name", "first_name", "last_name", "village", "gender"}
	VillageColumns       = []string{"village_id", "village_name", "sub_county", "county"}
	BusinessGroupColumns = []string{"group_id", "group_name", "village", "mentor_id"}
	MentorColumns        = []string{"mentor_id", "mentor_name", "phone_number", "village"}
)

// HouseholdRow is one row of households.csv.
type HouseholdRow struct {
	HouseholdID string
	IDNumber    string
	PhoneNumber string
	FullName    string
	FirstName   string
	LastName    string
	Village     string
	Gender      string
}

// VillageRow is one row of villages.csv.
type VillageRow struct {
	VillageID   string
	VillageName string
	SubCounty   string
	County      string
}

// BusinessGroupRow is one row of business_groups.csv.
type BusinessGroupRow struct {
	GroupID   string
	GroupName string
	Village   string
	MentorID  string
}

// MentorRow is one row of mentors.csv.
type MentorRow struct {
	MentorID    string
	MentorName  string
	PhoneNumber string
	Village     string
}

// ReferenceSource supplies the rows of the lookup datasets.
type ReferenceSource interface {
	HouseholdRows(ctx context.Context) ([]HouseholdRow, error)
	VillageRows(ctx context.Context) ([]VillageRow, error)
	BusinessGroupRows(ctx context.Context) ([]BusinessGroupRow, error)
	MentorRows(ctx context.Context) ([]MentorRow, error)
}

// Dataset is a rendered CSV file ready for upload.
type Dataset struct {
	Filename string
	Content  []byte
}

// lookupPhone renders a phone number the way collectors type it in the
// lookup field: a leading zero followed by nine digits.
func lookupPhone(raw string) string {
	key := phonenum.Normalize(raw)
	if key == "" {
		return ""
	}
	return "0" + key
}

// BuildDatasets renders all four lookup datasets.
func BuildDatasets(ctx context.Context, src ReferenceSource) ([]Dataset, error) {
	households, err := src.HouseholdRows(ctx)
	if err != nil {
		return nil, err
	}
	villages, err := src.VillageRows(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := src.BusinessGroupRows(ctx)
	if err != nil {
		return nil, err
	}
	mentors, err := src.MentorRows(ctx)
	if err != nil {
		return nil, err
	}

	hh := make([][]string, len(households))
	for i, r := range households {
		hh[i] = []string{r.HouseholdID, r.IDNumber, lookupPhone(r.PhoneNumber), r.FullName, r.FirstName, r.LastName, r.Village, r.Gender}
	}
	vv := make([][]string, len(villages))
	for i, r := range villages {
		vv[i] = []string{r.VillageID, r.VillageName, r.SubCounty, r.County}
	}
	gg := make([][]string, len(groups))
	for i, r := range groups {
		gg[i] = []string{r.GroupID, r.GroupName, r.Village, r.MentorID}
	}
	mm := make([][]string, len(mentors))
	for i, r := range mentors {
		mm[i] = []string{r.MentorID, r.MentorName, lookupPhone(r.PhoneNumber), r.Village}
	}

	out := make([]Dataset, 0, 4)
	for _, d := range []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"households.csv", HouseholdColumns, hh},
		{"villages.csv", VillageColumns, vv},
		{"business_groups.csv", BusinessGroupColumns, gg},
		{"mentors.csv", MentorColumns, mm},
	} {
		content, err := renderCSV(d.header, d.rows)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", d.name, err)
		}
		out = append(out, Dataset{Filename: d.name, Content: content})
	}
	return out, nil
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
