package identity

import (
	"fmt"
	"strconv"
	"strings"
)

// Logical identifier keys, also used as keys of a template's field mapping.
const (
	KeyIDNumber   = "id_number"
	KeyPhone      = "phone"
	KeyVillage    = "village"
	KeyFirstName  = "first_name"
	KeyMiddleName = "middle_name"
	KeyLastName   = "last_name"
	KeyFullName   = "full_name"
	KeyGender     = "gender"
)

// synonyms lists, per logical identifier, the field names tried in order.
var synonyms = map[string][]string{
	KeyIDNumber:   {"id_number", "national_id", "ID_Number", "idnumber", "id_no", "national_id_number", "nationalid", "lookup_id_number"},
	KeyPhone:      {"phone", "phone_number", "Phone_Number", "mobile", "mobile_number", "telephone", "msisdn", "lookup_phone"},
	KeyVillage:    {"village", "village_name", "Village"},
	KeyFirstName:  {"first_name", "firstname", "First_Name"},
	KeyMiddleName: {"middle_name", "middlename", "other_name"},
	KeyLastName:   {"last_name", "lastname", "surname", "Last_Name"},
	KeyFullName:   {"full_name", "fullname", "beneficiary_name", "name"},
	KeyGender:     {"gender", "sex"},
}

// Identifiers are the values pulled out of one submission.
type Identifiers struct {
	IDNumber   string
	Phone      string
	Village    string
	FirstName  string
	MiddleName string
	LastName   string
	FullName   string
	Gender     string
}

// Query returns the subset used for matching.
func (ids Identifiers) Query() Query {
	return Query{IDNumber: ids.IDNumber, Phone: ids.Phone, Village: ids.Village}
}

// Values returns the identifiers keyed by logical name, omitting empties.
func (ids Identifiers) Values() map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		KeyIDNumber: ids.IDNumber, KeyPhone: ids.Phone, KeyVillage: ids.Village,
		KeyFirstName: ids.FirstName, KeyMiddleName: ids.MiddleName, KeyLastName: ids.LastName,
		KeyFullName: ids.FullName, KeyGender: ids.Gender,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Extract pulls identifiers from mapped submission values. For each logical
// identifier the template's custom mapping is consulted first, then the
// synonym list; the first non-empty trimmed value wins.
func Extract(values map[string]any, mapping map[string]string) Identifiers {
	pick := func(key string) string {
		if field, ok := mapping[key]; ok && field != "" {
			if v := stringValue(values[field]); v != "" {
				return v
			}
		}
		for _, name := range synonyms[key] {
			if v := stringValue(values[name]); v != "" {
				return v
			}
		}
		return ""
	}
	return Identifiers{
		IDNumber:   pick(KeyIDNumber),
		Phone:      pick(KeyPhone),
		Village:    pick(KeyVillage),
		FirstName:  pick(KeyFirstName),
		MiddleName: pick(KeyMiddleName),
		LastName:   pick(KeyLastName),
		FullName:   pick(KeyFullName),
		Gender:     pick(KeyGender),
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
