// Package licenses implements the license code lifecycle: issuance with
// collision avoidance and at-most-once redemption.
package licenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salesmgr/license-server/internal/models"
	"github.com/salesmgr/license-server/internal/store"
)

// maxCreateAttempts bounds the collision retry loop. A collision needs two
// identical random codes, so more than one retry already means something is
// wrong with the generator configuration.
const maxCreateAttempts = 5

type Generator interface {
	Generate() string
}

// CodeMailer delivers the license email for automatic issuance. Delivery is
// fire-and-forget: enqueueing never blocks and failures never reach the
// issuance caller.
type CodeMailer interface {
	EnqueueLicenseCode(to, code, licenseType string)
}

// EventPublisher announces lifecycle transitions to downstream consumers.
// Implementations log their own failures; publishing never fails the
// operation that triggered it.
type EventPublisher interface {
	LicenseIssued(ctx context.Context, rec *models.LicenseCode)
	LicenseRedeemed(ctx context.Context, code, machineID string)
}

// Service is the license record lifecycle. Each record has two states,
// unredeemed and redeemed, with a single monotonic transition between them.
type Service struct {
	store  store.RecordStore
	gen    Generator
	mailer CodeMailer
	events EventPublisher
	now    func() time.Time
}

func NewService(st store.RecordStore, gen Generator, mailer CodeMailer, events EventPublisher) *Service {
	return &Service{
		store:  st,
		gen:    gen,
		mailer: mailer,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create mints a new license code record. method is manual or automatic;
// email is the recipient for the automatic channel and empty for manual.
// The record is durable before any side effect runs, so issuance is
// considered successful even if the notification later fails.
func (s *Service) Create(ctx context.Context, licenseType, method, email string) (*models.LicenseCode, error) {
	licenseType = NormalizeType(licenseType)
	expiration := ExpirationFor(licenseType, s.now())

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		rec := &models.LicenseCode{
			Code:             s.gen.Generate(),
			LicenseType:      licenseType,
			GenerationMethod: method,
			UsedGlobally:     false,
			ExpirationDate:   &expiration,
		}
		if email != "" {
			rec.Email = &email
		}

		err := s.store.Create(ctx, rec)
		if errors.Is(err, store.ErrCodeExists) {
			slog.Warn("license code collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create license code: %w", err)
		}

		if method == models.MethodAutomatic && email != "" && s.mailer != nil {
			s.mailer.EnqueueLicenseCode(email, rec.Code, licenseType)
		}
		if s.events != nil {
			s.events.LicenseIssued(ctx, rec)
		}

		slog.Info("license code issued", "method", method, "license_type", licenseType)
		return rec, nil
	}

	return nil, ErrExhaustedRetries
}

// Redeem marks code as used by machineID. The store's conditional update
// guarantees that of two concurrent redeemers exactly one succeeds; the loser
// is told the code was already redeemed and its machine id is not recorded.
func (s *Service) Redeem(ctx context.Context, code, machineID string) error {
	ok, err := s.store.MarkUsed(ctx, code, machineID)
	if err != nil {
		return fmt.Errorf("redeem license code: %w", err)
	}
	if ok {
		if s.events != nil {
			s.events.LicenseRedeemed(ctx, code, machineID)
		}
		slog.Info("license code redeemed", "machine_id", machineID)
		return nil
	}

	// No row transitioned: either the code does not exist or someone got
	// there first. Look it up to report which.
	rec, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, store.ErrCodeNotFound) {
		return ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("redeem license code: %w", err)
	}
	if rec.UsedGlobally {
		return ErrAlreadyRedeemed
	}
	// The record reappeared unredeemed between the update and the lookup.
	// Records are never deleted and never revert, so this cannot happen
	// short of manual interference with the table.
	return fmt.Errorf("redeem license code %q: inconsistent store state", code)
}
