package licenses

import (
	"testing"
	"time"

	"github.com/salesmgr/license-server/internal/models"
)

func TestExpirationFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		licenseType string
		want        time.Time
	}{
		{"monthly", now.AddDate(0, 0, 30)},
		{"annual", now.AddDate(0, 0, 365)},
		{"trial", now.AddDate(0, 0, 7)},
		{"lifetime", now.AddDate(0, 0, 7)}, // unrecognized falls back to trial
		{"", now.AddDate(0, 0, 7)},
	}
	for _, tc := range cases {
		if got := ExpirationFor(tc.licenseType, now); !got.Equal(tc.want) {
			t.Errorf("ExpirationFor(%q) = %v, want %v", tc.licenseType, got, tc.want)
		}
	}
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"monthly":  models.LicenseTypeMonthly,
		"annual":   models.LicenseTypeAnnual,
		"trial":    models.LicenseTypeTrial,
		"weekly":   models.LicenseTypeTrial,
		"":         models.LicenseTypeTrial,
		"MONTHLY":  models.LicenseTypeTrial, // types are case-sensitive
	}
	for in, want := range cases {
		if got := NormalizeType(in); got != want {
			t.Errorf("NormalizeType(%q) = %q, want %q", in, got, want)
		}
	}
}
