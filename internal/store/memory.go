package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/salesmgr/license-server/internal/models"
)

// Memory is an in-memory RecordStore with the same semantics as the Postgres
// implementation, including the atomic conditional update. It backs the
// lifecycle, feed and handler tests.
type Memory struct {
	mu       sync.Mutex
	records  map[string]models.LicenseCode
	notifier ChangeNotifier
	now      func() time.Time
}

// NewMemory returns an empty in-memory store. notifier may be nil, in which
// case changes are not announced.
func NewMemory(notifier ChangeNotifier) *Memory {
	return &Memory{
		records:  make(map[string]models.LicenseCode),
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(ctx context.Context, rec *models.LicenseCode) error {
	m.mu.Lock()
	if _, exists := m.records[rec.Code]; exists {
		m.mu.Unlock()
		return ErrCodeExists
	}
	if rec.GeneratedDate.IsZero() {
		rec.GeneratedDate = m.now()
	}
	m.records[rec.Code] = *rec
	m.mu.Unlock()

	m.publish(ctx, Change{Code: rec.Code, Op: OpCreated})
	return nil
}

func (m *Memory) GetByCode(_ context.Context, code string) (*models.LicenseCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return &rec, nil
}

func (m *Memory) MarkUsed(ctx context.Context, code, machineID string) (bool, error) {
	m.mu.Lock()
	rec, ok := m.records[code]
	if !ok || rec.UsedGlobally {
		m.mu.Unlock()
		return false, nil
	}
	used := m.now()
	rec.UsedGlobally = true
	rec.UsedByMachineID = &machineID
	rec.UsedDate = &used
	m.records[code] = rec
	m.mu.Unlock()

	m.publish(ctx, Change{Code: code, Op: OpRedeemed})
	return true, nil
}

func (m *Memory) ListAll(_ context.Context) ([]models.LicenseCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]models.LicenseCode, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].GeneratedDate.After(recs[j].GeneratedDate)
	})
	return recs, nil
}

func (m *Memory) publish(ctx context.Context, ch Change) {
	if m.notifier != nil {
		_ = m.notifier.Publish(ctx, ch)
	}
}
