// Package store is the persistence boundary for license code records: a
// document-style contract (create-if-absent, point lookup, conditional update,
// change subscription) backed by Postgres, with change notifications fanned
// out over Redis pub/sub or an in-process channel.
package store

import (
	"context"
	"errors"

	"github.com/salesmgr/license-server/internal/models"
)

var (
	// ErrCodeExists is returned by Create when a record with the same code is
	// already present.
	ErrCodeExists = errors.New("license code already exists")

	// ErrCodeNotFound is returned by GetByCode for unknown codes.
	ErrCodeNotFound = errors.New("license code not found")
)

// Change operations carried on the notification stream.
const (
	OpCreated  = "created"
	OpRedeemed = "redeemed"
)

// Change describes one mutation of the license_codes collection. Consumers
// treat it purely as an invalidation signal and re-read the collection.
type Change struct {
	Code string `json:"code"`
	Op   string `json:"op"`
}

// RecordStore is the document-store contract the lifecycle operates against.
// Per-code update ordering is serialized by the database; no ordering is
// guaranteed across different codes.
type RecordStore interface {
	// Create inserts rec if no record with the same code exists, otherwise
	// returns ErrCodeExists. generated_date is filled by the database clock.
	Create(ctx context.Context, rec *models.LicenseCode) error

	// GetByCode returns the record for code or ErrCodeNotFound.
	GetByCode(ctx context.Context, code string) (*models.LicenseCode, error)

	// MarkUsed flips used_globally to true and records machineID and the
	// database-clock used_date, in a single statement that matches only
	// unredeemed records. It reports whether a record transitioned; false
	// means the code is unknown or was already redeemed.
	MarkUsed(ctx context.Context, code, machineID string) (bool, error)

	// ListAll returns every record, newest first.
	ListAll(ctx context.Context) ([]models.LicenseCode, error)
}
