package ingest

import (
	"strconv"
	"strings"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
)

var gpsKeys = []string{"gps", "gps_location", "location", "geolocation", "_geolocation"}

// Point is a parsed location.
type Point struct {
	Latitude  float64
	Longitude float64
}

// ExtractGPS returns the first populated location, trying the template's
// geolocation fields before the well-known keys.
func ExtractGPS(raw map[string]any, tpl *forms.FormTemplate) (Point, bool) {
	var keys []string
	if tpl != nil {
		for _, f := range tpl.Fields {
			if f.Type == forms.FieldGeolocation {
				keys = append(keys, f.Name)
			}
		}
	}
	keys = append(keys, gpsKeys...)

	byName := make(map[string]any, len(raw))
	for k, v := range raw {
		byName[k] = v
	}
	for _, k := range orderedKeys(raw) {
		if name := fieldName(k); name != k {
			if _, taken := byName[name]; !taken {
				byName[name] = raw[k]
			}
		}
	}

	for _, key := range keys {
		if p, ok := parsePoint(byName[key]); ok {
			return p, true
		}
	}
	return Point{}, false
}

// parsePoint accepts "lat lon [alt acc]" strings and [lat, lon] arrays.
func parsePoint(v any) (Point, bool) {
	switch t := v.(type) {
	case string:
		parts := strings.Fields(t)
		if len(parts) < 2 {
			return Point{}, false
		}
		lat, err1 := strconv.ParseFloat(parts[0], 64)
		lon, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return Point{}, false
		}
		return Point{Latitude: lat, Longitude: lon}, true
	case []any:
		if len(t) < 2 {
			return Point{}, false
		}
		lat, ok1 := t[0].(float64)
		lon, ok2 := t[1].(float64)
		if !ok1 || !ok2 {
			return Point{}, false
		}
		return Point{Latitude: lat, Longitude: lon}, true
	}
	return Point{}, false
}
