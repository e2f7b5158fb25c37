package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/salesmgr/license-server/internal/models"
	"gorm.io/gorm"
)

// GormStore persists license codes in Postgres and publishes a change
// notification after every successful write. Notification failures are logged
// and never fail the write: the record is already durable at that point.
type GormStore struct {
	db       *gorm.DB
	notifier ChangeNotifier
}

func NewGormStore(db *gorm.DB, notifier ChangeNotifier) *GormStore {
	return &GormStore{db: db, notifier: notifier}
}

func (s *GormStore) Create(ctx context.Context, rec *models.LicenseCode) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCodeExists
		}
		return fmt.Errorf("insert license code: %w", err)
	}

	s.publish(ctx, Change{Code: rec.Code, Op: OpCreated})
	return nil
}

func (s *GormStore) GetByCode(ctx context.Context, code string) (*models.LicenseCode, error) {
	var rec models.LicenseCode
	err := s.db.WithContext(ctx).First(&rec, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("lookup license code: %w", err)
	}
	return &rec, nil
}

func (s *GormStore) MarkUsed(ctx context.Context, code, machineID string) (bool, error) {
	// Conditional update: the used_globally guard makes redemption
	// test-and-set, so of two concurrent redeemers exactly one matches.
	res := s.db.WithContext(ctx).Model(&models.LicenseCode{}).
		Where("code = ? AND used_globally = false", code).
		Updates(map[string]interface{}{
			"used_globally":      true,
			"used_by_machine_id": machineID,
			"used_date":          gorm.Expr("now()"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark license code used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	s.publish(ctx, Change{Code: code, Op: OpRedeemed})
	return true, nil
}

func (s *GormStore) ListAll(ctx context.Context) ([]models.LicenseCode, error) {
	var recs []models.LicenseCode
	if err := s.db.WithContext(ctx).Order("generated_date DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list license codes: %w", err)
	}
	return recs, nil
}

func (s *GormStore) publish(ctx context.Context, ch Change) {
	if err := s.notifier.Publish(ctx, ch); err != nil {
		slog.Error("change notification failed", "code", ch.Code, "op", ch.Op, "error", err)
	}
}
