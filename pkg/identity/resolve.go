// Package identity matches submitted identifiers against beneficiary records.
package identity

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/households"
)

// MatchType names the tier that produced a resolution.
type MatchType string

const (
	MatchIDExact       MatchType = "id_exact"
	MatchIDPartial     MatchType = "id_partial"
	MatchPhone         MatchType = "phone"
	MatchVillageOnly   MatchType = "village_only"
	MatchNotFound      MatchType = "not_found"
	MatchNoIdentifiers MatchType = "no_identifiers"
)

// Confidence is advisory. It is recorded for audit and never gates a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Directory is the beneficiary lookup surface the resolver needs.
type Directory interface {
	FindByIDNumberExact(ctx context.Context, idNumber string) (*households.Beneficiary, error)
	FindByIDNumberContains(ctx context.Context, idNumber string) (*households.Beneficiary, error)
	FindByPhone(ctx context.Context, phone string) (*households.Beneficiary, error)
	FindVillage(ctx context.Context, name string) (*households.Village, error)
}

// Query holds the identifiers used for matching. Empty means absent.
type Query struct {
	IDNumber string
	Phone    string
	Village  string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Beneficiary *households.Beneficiary
	Village     *households.Village
	MatchType   MatchType
	Confidence  Confidence
}

// Found reports whether a specific beneficiary was matched.
func (r Resolution) Found() bool {
	return r.Beneficiary != nil
}

// Resolve runs the matching tiers in order and stops at the first hit:
// exact id, partial id, phone (upgraded when the village agrees), then
// village alone. With no identifiers it returns without querying.
func Resolve(ctx context.Context, dir Directory, q Query) (Resolution, error) {
	q.IDNumber = strings.TrimSpace(q.IDNumber)
	q.Phone = strings.TrimSpace(q.Phone)
	q.Village = strings.TrimSpace(q.Village)

	if q.IDNumber == "" && q.Phone == "" && q.Village == "" {
		return Resolution{MatchType: MatchNoIdentifiers, Confidence: ConfidenceNone}, nil
	}

	if q.IDNumber != "" {
		b, err := dir.FindByIDNumberExact(ctx, q.IDNumber)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve by id number: %w", err)
		}
		if b != nil {
			return Resolution{Beneficiary: b, MatchType: MatchIDExact, Confidence: ConfidenceHigh}, nil
		}
		b, err = dir.FindByIDNumberContains(ctx, q.IDNumber)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve by partial id number: %w", err)
		}
		if b != nil {
			return Resolution{Beneficiary: b, MatchType: MatchIDPartial, Confidence: ConfidenceMedium}, nil
		}
	}

	if q.Phone != "" {
		b, err := dir.FindByPhone(ctx, q.Phone)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve by phone: %w", err)
		}
		if b != nil {
			res := Resolution{Beneficiary: b, MatchType: MatchPhone, Confidence: ConfidenceMedium}
			if q.Village != "" && sameName(b.VillageName(), q.Village) {
				res.Confidence = ConfidenceHigh
			}
			return res, nil
		}
	}

	if q.Village != "" {
		v, err := dir.FindVillage(ctx, q.Village)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve village: %w", err)
		}
		if v != nil {
			return Resolution{Village: v, MatchType: MatchVillageOnly, Confidence: ConfidenceLow}, nil
		}
	}

	return Resolution{MatchType: MatchNotFound, Confidence: ConfidenceNone}, nil
}

func sameName(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" {
		return false
	}
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}
