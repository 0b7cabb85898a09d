package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/households"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
)

// memDirectory is an in-memory Directory that counts lookups.
type memDirectory struct {
	beneficiaries []*households.Beneficiary
	villages      []*households.Village
	calls         int
	err           error
}

func (d *memDirectory) FindByIDNumberExact(_ context.Context, id string) (*households.Beneficiary, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	for _, b := range d.beneficiaries {
		if strings.EqualFold(b.IDNumber, id) || strings.EqualFold(b.LegacyIDNumber, id) {
			return b, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) FindByIDNumberContains(_ context.Context, id string) (*households.Beneficiary, error) {
	d.calls++
	id = strings.ToLower(id)
	for _, b := range d.beneficiaries {
		if strings.Contains(strings.ToLower(b.IDNumber), id) || strings.Contains(strings.ToLower(b.LegacyIDNumber), id) {
			return b, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) FindByPhone(_ context.Context, phone string) (*households.Beneficiary, error) {
	d.calls++
	for _, b := range d.beneficiaries {
		if phonenum.Equal(b.PhoneNumber, phone) || phonenum.Equal(b.AltPhoneNumber, phone) {
			return b, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) FindVillage(_ context.Context, name string) (*households.Village, error) {
	d.calls++
	for _, v := range d.villages {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	for _, v := range d.villages {
		if strings.Contains(strings.ToLower(v.Name), strings.ToLower(name)) {
			return v, nil
		}
	}
	return nil, nil
}

func newDirectory() *memDirectory {
	kamula := &households.Village{ID: "v1", Name: "Kamula"}
	return &memDirectory{
		villages: []*households.Village{kamula, {ID: "v2", Name: "Oyani"}},
		beneficiaries: []*households.Beneficiary{
			{ID: "b1", FirstName: "Mary", LastName: "Achieng", IDNumber: "12345678", PhoneNumber: "0700000001", Village: kamula, VillageID: "v1"},
			{ID: "b2", FirstName: "John", LastName: "Otieno", LegacyIDNumber: "OLD-55", PhoneNumber: "+254712345678", Village: kamula, VillageID: "v1"},
		},
	}
}

func TestResolveNoIdentifiersIssuesNoQuery(t *testing.T) {
	dir := newDirectory()
	res, err := Resolve(context.Background(), dir, Query{IDNumber: "  ", Phone: ""})
	require.NoError(t, err)
	assert.Equal(t, MatchNoIdentifiers, res.MatchType)
	assert.Equal(t, ConfidenceNone, res.Confidence)
	assert.Zero(t, dir.calls)
}

func TestResolveIDExactOnEitherColumn(t *testing.T) {
	dir := newDirectory()
	res, err := Resolve(context.Background(), dir, Query{IDNumber: "old-55"})
	require.NoError(t, err)
	assert.Equal(t, MatchIDExact, res.MatchType)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	assert.Equal(t, "b2", res.Beneficiary.ID)
}

func TestResolveIDPartial(t *testing.T) {
	res, err := Resolve(context.Background(), newDirectory(), Query{IDNumber: "345"})
	require.NoError(t, err)
	assert.Equal(t, MatchIDPartial, res.MatchType)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
	assert.Equal(t, "b1", res.Beneficiary.ID)
}

func TestResolveIDOutranksConflictingPhone(t *testing.T) {
	// id points at b1, phone points at b2.
	res, err := Resolve(context.Background(), newDirectory(), Query{IDNumber: "12345678", Phone: "0712345678"})
	require.NoError(t, err)
	assert.Equal(t, MatchIDExact, res.MatchType)
	assert.Equal(t, "b1", res.Beneficiary.ID)
}

func TestResolvePhoneConfidenceUpgradesWithVillage(t *testing.T) {
	dir := newDirectory()
	res, err := Resolve(context.Background(), dir, Query{Phone: "0712 345 678"})
	require.NoError(t, err)
	assert.Equal(t, MatchPhone, res.MatchType)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
	assert.Equal(t, "b2", res.Beneficiary.ID)

	res, err = Resolve(context.Background(), dir, Query{Phone: "254712345678", Village: "KAMULA"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, res.Confidence)

	res, err = Resolve(context.Background(), dir, Query{Phone: "+254712345678", Village: "Oyani"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
}

func TestResolvePhoneFormsAgree(t *testing.T) {
	for _, p := range []string{"+254712345678", "0712345678", "254712345678", "0712 345 678"} {
		res, err := Resolve(context.Background(), newDirectory(), Query{Phone: p})
		require.NoError(t, err)
		require.True(t, res.Found(), p)
		assert.Equal(t, "b2", res.Beneficiary.ID, p)
	}
}

func TestResolveVillageOnly(t *testing.T) {
	res, err := Resolve(context.Background(), newDirectory(), Query{Phone: "0799999999", Village: "oyani"})
	require.NoError(t, err)
	assert.Equal(t, MatchVillageOnly, res.MatchType)
	assert.Equal(t, ConfidenceLow, res.Confidence)
	assert.False(t, res.Found())
	assert.Equal(t, "v2", res.Village.ID)
}

func TestResolveNotFound(t *testing.T) {
	res, err := Resolve(context.Background(), newDirectory(), Query{IDNumber: "999", Village: "Nowhere"})
	require.NoError(t, err)
	assert.Equal(t, MatchNotFound, res.MatchType)
	assert.Equal(t, ConfidenceNone, res.Confidence)
}

func TestResolvePropagatesLookupError(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("connection reset")
	_, err := Resolve(context.Background(), dir, Query{IDNumber: "1"})
	assert.Error(t, err)
}
