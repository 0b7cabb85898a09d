// Package households adapts the beneficiary tables owned by the household
// module to the lookups and writes the sync pipeline needs.
package households

import (
	"strings"
	"time"
)

// Village is a registered village.
type Village struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string    `gorm:"column:name;index:idx_village_name;not null"`
	SubCounty string    `gorm:"column:sub_county"`
	County    string    `gorm:"column:county"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Village) TableName() string { return "villages" }

// Beneficiary is a household head tracked by the programme. IDNumber and
// PhoneNumber are the current values; the legacy and alternate columns hold
// values captured by older registration flows.
type Beneficiary struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	FirstName      string    `gorm:"column:first_name;not null"`
	MiddleName     string    `gorm:"column:middle_name"`
	LastName       string    `gorm:"column:last_name;not null"`
	Gender         string    `gorm:"column:gender"`
	IDNumber       string    `gorm:"column:id_number;index:idx_bnf_id_number"`
	LegacyIDNumber string    `gorm:"column:legacy_id_number;index:idx_bnf_legacy_id"`
	PhoneNumber    string    `gorm:"column:phone_number"`
	AltPhoneNumber string    `gorm:"column:alt_phone_number"`
	VillageID      string    `gorm:"column:village_id;type:varchar(36);index:idx_bnf_village"`
	Village        *Village  `gorm:"foreignKey:VillageID"`
	Source         string    `gorm:"column:source"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Beneficiary) TableName() string { return "beneficiaries" }

// FullName joins the non-empty name parts.
func (b *Beneficiary) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.FirstName, b.MiddleName, b.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// VillageName returns the name of the preloaded village, if any.
func (b *Beneficiary) VillageName() string {
	if b.Village == nil {
		return ""
	}
	return b.Village.Name
}

// Mentor coaches business groups in a village.
type Mentor struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name        string    `gorm:"column:name;not null"`
	PhoneNumber string    `gorm:"column:phone_number"`
	VillageID   string    `gorm:"column:village_id;type:varchar(36)"`
	Village     *Village  `gorm:"foreignKey:VillageID"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Mentor) TableName() string { return "mentors" }

// BusinessGroup is a savings or enterprise group.
type BusinessGroup struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string    `gorm:"column:name;not null"`
	VillageID string    `gorm:"column:village_id;type:varchar(36)"`
	Village   *Village  `gorm:"foreignKey:VillageID"`
	MentorID  string    `gorm:"column:mentor_id;type:varchar(36)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (BusinessGroup) TableName() string { return "business_groups" }
