// Package reconcile decides what a resolved submission does to beneficiary
// records, depending on the purpose of the form it was collected with.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/households"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/identity"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
)

// ValidationStatus is stored on every submission record.
type ValidationStatus string

const (
	StatusNotValidated        ValidationStatus = "not_validated"
	StatusBeneficiaryFound    ValidationStatus = "beneficiary_found"
	StatusBeneficiaryNotFound ValidationStatus = "beneficiary_not_found"
	StatusDuplicateDetected   ValidationStatus = "duplicate_detected"
	StatusDataUpdated         ValidationStatus = "data_updated"
	StatusError               ValidationStatus = "error"
)

// Outcome is what the policy did.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeLinked         Outcome = "linked"
	OutcomeCreated        Outcome = "created"
	OutcomeUpdated        Outcome = "updated"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeNotAllowed     Outcome = "not_allowed"
	OutcomeCreationFailed Outcome = "creation_failed"
)

// Beneficiaries is the read/write surface the policy needs.
type Beneficiaries interface {
	identity.Directory
	CreateBeneficiary(ctx context.Context, b *households.Beneficiary) (*households.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, id string, changes map[string]any) error
}

// Result has the same shape for every purpose.
type Result struct {
	Status        ValidationStatus
	Outcome       Outcome
	Resolution    identity.Resolution
	BeneficiaryID string
	ChangedFields []string
	Message       string
}

// Policy applies purpose-specific reconciliation.
type Policy struct {
	store Beneficiaries
	cfg   *Config
}

// NewPolicy creates a Policy. A nil cfg uses DefaultConfig().
func NewPolicy(store Beneficiaries, cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Policy{store: store, cfg: cfg}
}

// Apply reconciles one submission's identifiers. Business-rule failures are
// reported in the Result; the error is reserved for lookup and write failures.
func (p *Policy) Apply(ctx context.Context, purpose forms.Purpose, ids identity.Identifiers) (Result, error) {
	switch purpose {
	case forms.PurposeGeneral:
		return p.general()
	case forms.PurposeNewRegistration:
		return p.newRegistration(ctx, ids)
	case forms.PurposeProgramEnrollment, forms.PurposeSurvey:
		return p.link(ctx, ids)
	case forms.PurposeUpdateDetails:
		return p.updateDetails(ctx, ids)
	default:
		return Result{}, fmt.Errorf("unknown form purpose %q", purpose)
	}
}

func (p *Policy) general() (Result, error) {
	return Result{
		Status:     StatusNotValidated,
		Outcome:    OutcomeNone,
		Resolution: identity.Resolution{MatchType: identity.MatchNoIdentifiers, Confidence: identity.ConfidenceNone},
	}, nil
}

func (p *Policy) resolve(ctx context.Context, ids identity.Identifiers) (identity.Resolution, error) {
	return identity.Resolve(ctx, p.store, ids.Query())
}

func (p *Policy) link(ctx context.Context, ids identity.Identifiers) (Result, error) {
	res, err := p.resolve(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	if !res.Found() {
		return Result{Status: StatusBeneficiaryNotFound, Outcome: OutcomeNotFound, Resolution: res}, nil
	}
	return Result{
		Status:        StatusBeneficiaryFound,
		Outcome:       OutcomeLinked,
		Resolution:    res,
		BeneficiaryID: res.Beneficiary.ID,
	}, nil
}

func (p *Policy) newRegistration(ctx context.Context, ids identity.Identifiers) (Result, error) {
	res, err := p.resolve(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	if res.Found() {
		return Result{
			Status:        StatusDuplicateDetected,
			Outcome:       OutcomeDuplicate,
			Resolution:    res,
			BeneficiaryID: res.Beneficiary.ID,
			Message:       fmt.Sprintf("matches existing beneficiary %s (%s)", res.Beneficiary.FullName(), res.MatchType),
		}, nil
	}
	if !p.cfg.AllowCreation {
		return Result{
			Status:     StatusError,
			Outcome:    OutcomeNotAllowed,
			Resolution: res,
			Message:    "creating beneficiaries from collected submissions is disabled",
		}, nil
	}

	failed := func(msg string) (Result, error) {
		return Result{Status: StatusError, Outcome: OutcomeCreationFailed, Resolution: res, Message: msg}, nil
	}

	first, middle, last := nameParts(ids)
	if first == "" || last == "" {
		return failed("first and last name are required to create a beneficiary")
	}
	if ids.Village == "" {
		return failed("village is required to create a beneficiary")
	}
	village, err := p.store.FindVillage(ctx, ids.Village)
	if err != nil {
		return Result{}, fmt.Errorf("resolve village for creation: %w", err)
	}
	if village == nil {
		return failed(fmt.Sprintf("village %q does not match any registered village", ids.Village))
	}

	created, err := p.store.CreateBeneficiary(ctx, &households.Beneficiary{
		FirstName:   first,
		MiddleName:  middle,
		LastName:    last,
		Gender:      ids.Gender,
		IDNumber:    ids.IDNumber,
		PhoneNumber: phonenum.Clean(ids.Phone),
		VillageID:   village.ID,
		Source:      p.cfg.Source,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Status:        StatusBeneficiaryNotFound,
		Outcome:       OutcomeCreated,
		Resolution:    res,
		BeneficiaryID: created.ID,
		Message:       fmt.Sprintf("created beneficiary in %s", village.Name),
	}, nil
}

// nameParts prefers explicit name fields and falls back to splitting the
// full name: first token, last token, and whatever lies between.
func nameParts(ids identity.Identifiers) (first, middle, last string) {
	first, middle, last = ids.FirstName, ids.MiddleName, ids.LastName
	if first != "" && last != "" {
		return first, middle, last
	}
	tokens := strings.Fields(ids.FullName)
	if len(tokens) < 2 {
		return first, middle, last
	}
	if first == "" {
		first = tokens[0]
	}
	if last == "" {
		last = tokens[len(tokens)-1]
	}
	if middle == "" && len(tokens) > 2 {
		middle = strings.Join(tokens[1:len(tokens)-1], " ")
	}
	return first, middle, last
}

var updatableFields = mapset.NewSet(
	identity.KeyFirstName,
	identity.KeyMiddleName,
	identity.KeyLastName,
	identity.KeyPhone,
	identity.KeyIDNumber,
	identity.KeyGender,
)

func (p *Policy) updateDetails(ctx context.Context, ids identity.Identifiers) (Result, error) {
	res, err := p.resolve(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	if !res.Found() {
		return Result{Status: StatusBeneficiaryNotFound, Outcome: OutcomeNotFound, Resolution: res}, nil
	}

	b := res.Beneficiary
	stored := map[string]string{
		identity.KeyFirstName:  b.FirstName,
		identity.KeyMiddleName: b.MiddleName,
		identity.KeyLastName:   b.LastName,
		identity.KeyPhone:      b.PhoneNumber,
		identity.KeyIDNumber:   b.IDNumber,
		identity.KeyGender:     b.Gender,
	}
	columns := map[string]string{
		identity.KeyFirstName:  "first_name",
		identity.KeyMiddleName: "middle_name",
		identity.KeyLastName:   "last_name",
		identity.KeyPhone:      "phone_number",
		identity.KeyIDNumber:   "id_number",
		identity.KeyGender:     "gender",
	}

	changes := map[string]any{}
	var changed []string
	for key, submitted := range ids.Values() {
		if !updatableFields.Contains(key) {
			continue
		}
		current := stored[key]
		if key == identity.KeyPhone {
			if phonenum.Equal(submitted, current) {
				continue
			}
			submitted = phonenum.Clean(submitted)
		}
		if submitted == current {
			continue
		}
		changes[columns[key]] = submitted
		changed = append(changed, key)
	}
	sort.Strings(changed)

	if len(changes) == 0 {
		return Result{
			Status:        StatusBeneficiaryFound,
			Outcome:       OutcomeLinked,
			Resolution:    res,
			BeneficiaryID: b.ID,
		}, nil
	}
	if err := p.store.UpdateBeneficiary(ctx, b.ID, changes); err != nil {
		return Result{}, err
	}
	return Result{
		Status:        StatusDataUpdated,
		Outcome:       OutcomeUpdated,
		Resolution:    res,
		BeneficiaryID: b.ID,
		ChangedFields: changed,
		Message:       "updated " + strings.Join(changed, ", "),
	}, nil
}
