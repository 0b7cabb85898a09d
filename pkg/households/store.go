package households

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/phonenum"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/platform"
)

// ErrBeneficiaryNotFound is returned by writes against a missing beneficiary.
var ErrBeneficiaryNotFound = errors.New("beneficiary not found")

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// stripSeparators renders column without the spaces and dashes that
// phonenum.Normalize drops.
func stripSeparators(column string) string {
	return "REPLACE(REPLACE(" + column + ", ' ', ''), '-', '')"
}

// Store reads and writes beneficiary and reference tables.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the household tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Village{}, &Mentor{}, &BusinessGroup{}, &Beneficiary{})
}

func (s *Store) beneficiaries(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Village").Order("created_at ASC, id ASC")
}

func firstOrNil(tx *gorm.DB, out *Beneficiary) (*Beneficiary, error) {
	if err := tx.First(out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// FindByIDNumberExact matches the primary or legacy id column, ignoring case.
// Returns nil when nothing matches.
func (s *Store) FindByIDNumberExact(ctx context.Context, idNumber string) (*Beneficiary, error) {
	key := strings.ToLower(strings.TrimSpace(idNumber))
	if key == "" {
		return nil, nil
	}
	var b Beneficiary
	found, err := firstOrNil(s.beneficiaries(ctx).
		Where("LOWER(id_number) = ? OR LOWER(legacy_id_number) = ?", key, key), &b)
	if err != nil {
		return nil, fmt.Errorf("find beneficiary by id number: %w", err)
	}
	return found, nil
}

// FindByIDNumberContains matches beneficiaries whose primary or legacy id
// contains idNumber, ignoring case.
func (s *Store) FindByIDNumberContains(ctx context.Context, idNumber string) (*Beneficiary, error) {
	key := strings.TrimSpace(idNumber)
	if key == "" {
		return nil, nil
	}
	pattern := containsPattern(key)
	var b Beneficiary
	found, err := firstOrNil(s.beneficiaries(ctx).
		Where("LOWER(id_number) LIKE ? ESCAPE '!' OR LOWER(legacy_id_number) LIKE ? ESCAPE '!'", pattern, pattern), &b)
	if err != nil {
		return nil, fmt.Errorf("find beneficiary by partial id number: %w", err)
	}
	return found, nil
}

// FindByPhone matches the primary or alternate phone column after both sides
// are normalized.
func (s *Store) FindByPhone(ctx context.Context, phone string) (*Beneficiary, error) {
	key := phonenum.Normalize(phone)
	if key == "" {
		return nil, nil
	}
	// Stored numbers use mixed formatting, so narrow on the last two digits
	// of the separator-free column and compare canonical keys in Go.
	pattern := "%" + likeEscaper.Replace(key[len(key)-min(len(key), 2):])
	var candidates []Beneficiary
	err := s.beneficiaries(ctx).
		Where(stripSeparators("phone_number")+" LIKE ? ESCAPE '!' OR "+stripSeparators("alt_phone_number")+" LIKE ? ESCAPE '!'", pattern, pattern).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("find beneficiary by phone: %w", err)
	}
	for i := range candidates {
		c := &candidates[i]
		if phonenum.Normalize(c.PhoneNumber) == key || phonenum.Normalize(c.AltPhoneNumber) == key {
			return c, nil
		}
	}
	return nil, nil
}

// FindVillage resolves a village by exact name, then by substring, ignoring
// case. Returns nil when neither matches.
func (s *Store) FindVillage(ctx context.Context, name string) (*Village, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}
	var v Village
	err := s.db.WithContext(ctx).Where("LOWER(name) = ?", key).Order("name ASC").First(&v).Error
	if err == nil {
		return &v, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find village: %w", err)
	}
	err = s.db.WithContext(ctx).Where("LOWER(name) LIKE ? ESCAPE '!'", containsPattern(key)).Order("name ASC").First(&v).Error
	if err == nil {
		return &v, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("find village: %w", err)
}

// Get loads a beneficiary by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Beneficiary, error) {
	var b Beneficiary
	found, err := firstOrNil(s.beneficiaries(ctx).Where("id = ?", id), &b)
	if err != nil {
		return nil, fmt.Errorf("get beneficiary: %w", err)
	}
	return found, nil
}

// CreateBeneficiary inserts a new beneficiary.
func (s *Store) CreateBeneficiary(ctx context.Context, b *Beneficiary) (*Beneficiary, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Omit("Village").Create(b).Error; err != nil {
		return nil, fmt.Errorf("create beneficiary: %w", err)
	}
	return b, nil
}

// UpdateBeneficiary writes the given columns of one beneficiary.
func (s *Store) UpdateBeneficiary(ctx context.Context, id string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Beneficiary{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return fmt.Errorf("update beneficiary: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

// CreateVillage inserts a village.
func (s *Store) CreateVillage(ctx context.Context, v *Village) (*Village, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("create village: %w", err)
	}
	return v, nil
}

// CreateMentor inserts a mentor.
func (s *Store) CreateMentor(ctx context.Context, m *Mentor) (*Mentor, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Omit("Village").Create(m).Error; err != nil {
		return nil, fmt.Errorf("create mentor: %w", err)
	}
	return m, nil
}

// CreateBusinessGroup inserts a business group.
func (s *Store) CreateBusinessGroup(ctx context.Context, g *BusinessGroup) (*BusinessGroup, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Omit("Village").Create(g).Error; err != nil {
		return nil, fmt.Errorf("create business group: %w", err)
	}
	return g, nil
}

// HouseholdRows lists beneficiaries for the households lookup dataset.
func (s *Store) HouseholdRows(ctx context.Context) ([]platform.HouseholdRow, error) {
	var list []Beneficiary
	if err := s.beneficiaries(ctx).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list beneficiaries: %w", err)
	}
	rows := make([]platform.HouseholdRow, len(list))
	for i := range list {
		b := &list[i]
		rows[i] = platform.HouseholdRow{
			HouseholdID: b.ID,
			IDNumber:    b.IDNumber,
			PhoneNumber: b.PhoneNumber,
			FullName:    b.FullName(),
			FirstName:   b.FirstName,
			LastName:    b.LastName,
			Village:     b.VillageName(),
			Gender:      b.Gender,
		}
	}
	return rows, nil
}

// VillageRows lists villages for the villages lookup dataset.
func (s *Store) VillageRows(ctx context.Context) ([]platform.VillageRow, error) {
	var list []Village
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list villages: %w", err)
	}
	rows := make([]platform.VillageRow, len(list))
	for i, v := range list {
		rows[i] = platform.VillageRow{VillageID: v.ID, VillageName: v.Name, SubCounty: v.SubCounty, County: v.County}
	}
	return rows, nil
}

// BusinessGroupRows lists groups for the business_groups lookup dataset.
func (s *Store) BusinessGroupRows(ctx context.Context) ([]platform.BusinessGroupRow, error) {
	var list []BusinessGroup
	if err := s.db.WithContext(ctx).Preload("Village").Order("name ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list business groups: %w", err)
	}
	rows := make([]platform.BusinessGroupRow, len(list))
	for i, g := range list {
		row := platform.BusinessGroupRow{GroupID: g.ID, GroupName: g.Name, MentorID: g.MentorID}
		if g.Village != nil {
			row.Village = g.Village.Name
		}
		rows[i] = row
	}
	return rows, nil
}

// MentorRows lists mentors for the mentors lookup dataset.
func (s *Store) MentorRows(ctx context.Context) ([]platform.MentorRow, error) {
	var list []Mentor
	if err := s.db.WithContext(ctx).Preload("Village").Order("name ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list mentors: %w", err)
	}
	rows := make([]platform.MentorRow, len(list))
	for i, m := range list {
		row := platform.MentorRow{MentorID: m.ID, MentorName: m.Name, PhoneNumber: m.PhoneNumber}
		if m.Village != nil {
			row.Village = m.Village.Name
		}
		rows[i] = row
	}
	return rows, nil
}
