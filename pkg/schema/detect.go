package schema

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
)

var (
	idNumberPatterns = []string{
		"id_number", "idnumber", "id_no", "national_id", "nationalid",
		"id number", "national id", "identity",
	}
	phonePatterns   = []string{"phone", "mobile", "telephone", "msisdn"}
	villagePatterns = []string{"village"}

	lookupPurposes = mapset.NewSet(
		forms.PurposeProgramEnrollment,
		forms.PurposeSurvey,
		forms.PurposeUpdateDetails,
	)
)

// NeedsIdentityLookup reports whether a form should carry the beneficiary
// lookup block. It is true for purposes that always reconcile against
// existing beneficiaries, and for any form with a required field that looks
// like an identifier.
func NeedsIdentityLookup(purpose forms.Purpose, fields []forms.FormField) bool {
	if lookupPurposes.Contains(purpose) {
		return true
	}
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if looksLikeIdentifier(f.Name) || looksLikeIdentifier(f.Label) {
			return true
		}
	}
	return false
}

func looksLikeIdentifier(s string) bool {
	s = strings.ToLower(s)
	if s == "" {
		return false
	}
	for _, set := range [][]string{idNumberPatterns, phonePatterns, villagePatterns} {
		for _, p := range set {
			if strings.Contains(s, p) {
				return true
			}
		}
	}
	return false
}
