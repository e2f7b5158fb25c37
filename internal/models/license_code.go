package models

import (
	"time"
)

// License types. Unrecognized values are normalized to trial at creation.
const (
	LicenseTypeMonthly = "monthly"
	LicenseTypeAnnual  = "annual"
	LicenseTypeTrial   = "trial"
)

// Generation methods. Immutable once a record is created.
const (
	MethodManual    = "manual"
	MethodAutomatic = "automatic"
)

// LicenseCode is a single issued license code. The code itself is the primary
// key, which makes collision detection a plain insert conflict.
//
// used_globally, used_by_machine_id and used_date transition together exactly
// once when the code is redeemed, and never revert. generated_date and
// used_date are set by the database clock, not the client's.
type LicenseCode struct {
	Code             string     `gorm:"primaryKey;size:128" json:"code"`
	LicenseType      string     `gorm:"size:20;not null" json:"license_type"`
	GenerationMethod string     `gorm:"size:20;not null;default:'manual';index" json:"generation_method"`
	UsedGlobally     bool       `gorm:"not null;default:false" json:"used_globally"`
	UsedByMachineID  *string    `gorm:"size:128" json:"used_by_machine_id,omitempty"`
	Email            *string    `gorm:"size:255" json:"email,omitempty"`
	GeneratedDate    time.Time  `gorm:"not null;default:now();index" json:"generated_date"`
	UsedDate         *time.Time `json:"used_date,omitempty"`
	ExpirationDate   *time.Time `json:"expiration_date,omitempty"`
}

func (LicenseCode) TableName() string {
	return "license_codes"
}
