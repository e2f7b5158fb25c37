package licenses

import (
	"time"

	"github.com/salesmgr/license-server/internal/models"
)

// NormalizeType maps a requested license type onto the supported set. Anything
// unrecognized falls back to trial.
func NormalizeType(licenseType string) string {
	switch licenseType {
	case models.LicenseTypeMonthly, models.LicenseTypeAnnual, models.LicenseTypeTrial:
		return licenseType
	default:
		return models.LicenseTypeTrial
	}
}

// ExpirationFor derives the expiration date from the license type: monthly
// +30 days, annual +365 days, everything else gets the 7-day trial window.
func ExpirationFor(licenseType string, now time.Time) time.Time {
	switch licenseType {
	case models.LicenseTypeMonthly:
		return now.AddDate(0, 0, 30)
	case models.LicenseTypeAnnual:
		return now.AddDate(0, 0, 365)
	default:
		return now.AddDate(0, 0, 7)
	}
}
