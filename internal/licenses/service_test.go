package licenses

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/salesmgr/license-server/internal/models"
	"github.com/salesmgr/license-server/internal/store"
)

// stubGen hands out a fixed sequence of codes, repeating the last one.
type stubGen struct {
	mu    sync.Mutex
	codes []string
	i     int
}

func (g *stubGen) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[g.i]
	if g.i < len(g.codes)-1 {
		g.i++
	}
	return code
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) EnqueueLicenseCode(to, code, licenseType string) {
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.mu.Unlock()
}

func TestCreatePopulatesRecord(t *testing.T) {
	st := store.NewMemory(nil)
	svc := NewService(st, &stubGen{codes: []string{"L-AAAA-11111111"}}, nil, nil)

	rec, err := svc.Create(context.Background(), "monthly", models.MethodManual, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != "L-AAAA-11111111" {
		t.Fatalf("unexpected code %q", rec.Code)
	}
	if rec.LicenseType != models.LicenseTypeMonthly {
		t.Fatalf("unexpected license type %q", rec.LicenseType)
	}
	if rec.GenerationMethod != models.MethodManual {
		t.Fatalf("unexpected generation method %q", rec.GenerationMethod)
	}
	if rec.UsedGlobally || rec.UsedByMachineID != nil || rec.UsedDate != nil {
		t.Fatalf("fresh record must be unredeemed: %+v", rec)
	}
	if rec.Email != nil {
		t.Fatalf("manual issuance must not record an email, got %v", *rec.Email)
	}

	wantExp := time.Now().UTC().AddDate(0, 0, 30)
	if rec.ExpirationDate == nil || rec.ExpirationDate.Sub(wantExp).Abs() > time.Minute {
		t.Fatalf("expected expiration near %v, got %v", wantExp, rec.ExpirationDate)
	}

	stored, err := st.GetByCode(context.Background(), rec.Code)
	if err != nil {
		t.Fatalf("stored record not found: %v", err)
	}
	if stored.GeneratedDate.IsZero() {
		t.Fatal("generated_date must be set by the store")
	}
}

func TestCreateAutomaticEnqueuesEmail(t *testing.T) {
	st := store.NewMemory(nil)
	m := &recordingMailer{}
	svc := NewService(st, &stubGen{codes: []string{"L-BBBB-22222222"}}, m, nil)

	rec, err := svc.Create(context.Background(), "annual", models.MethodAutomatic, "a@b.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Email == nil || *rec.Email != "a@b.com" {
		t.Fatalf("expected email a@b.com on record, got %v", rec.Email)
	}
	if len(m.sent) != 1 || m.sent[0] != "a@b.com" {
		t.Fatalf("expected one email to a@b.com, got %v", m.sent)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	st := store.NewMemory(nil)
	seed := &models.LicenseCode{Code: "DUP", LicenseType: models.LicenseTypeTrial, GenerationMethod: models.MethodManual}
	if err := st.Create(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(st, &stubGen{codes: []string{"DUP", "DUP", "FRESH"}}, nil, nil)
	rec, err := svc.Create(context.Background(), "monthly", models.MethodManual, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != "FRESH" {
		t.Fatalf("expected regenerated code FRESH, got %q", rec.Code)
	}
}

func TestCreateExhaustsRetries(t *testing.T) {
	st := store.NewMemory(nil)
	seed := &models.LicenseCode{Code: "DUP", LicenseType: models.LicenseTypeTrial, GenerationMethod: models.MethodManual}
	if err := st.Create(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(st, &stubGen{codes: []string{"DUP"}}, nil, nil)
	if _, err := svc.Create(context.Background(), "monthly", models.MethodManual, ""); !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected ErrExhaustedRetries, got %v", err)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	svc := NewService(store.NewMemory(nil), &stubGen{codes: []string{"X"}}, nil, nil)
	if err := svc.Redeem(context.Background(), "NOPE", "MACHINE-1"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestRedeemTwicePreservesFirstRedeemer(t *testing.T) {
	st := store.NewMemory(nil)
	svc := NewService(st, &stubGen{codes: []string{"L-CCCC-33333333"}}, nil, nil)

	rec, err := svc.Create(context.Background(), "monthly", models.MethodManual, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Redeem(context.Background(), rec.Code, "MACHINE-1"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := svc.Redeem(context.Background(), rec.Code, "MACHINE-2"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}

	stored, err := st.GetByCode(context.Background(), rec.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.UsedByMachineID == nil || *stored.UsedByMachineID != "MACHINE-1" {
		t.Fatalf("original redeemer must be preserved, got %v", stored.UsedByMachineID)
	}
	if stored.UsedDate == nil || !stored.UsedGlobally {
		t.Fatalf("redeemed record must carry used_date and used_globally: %+v", stored)
	}
}

func TestConcurrentRedeemExactlyOneWins(t *testing.T) {
	st := store.NewMemory(nil)
	svc := NewService(st, &stubGen{codes: []string{"L-DDDD-44444444"}}, nil, nil)

	rec, err := svc.Create(context.Background(), "annual", models.MethodManual, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, machine := range []string{"MACHINE-1", "MACHINE-2"} {
		go func(i int, machine string) {
			defer wg.Done()
			errs[i] = svc.Redeem(context.Background(), rec.Code, machine)
		}(i, machine)
	}
	wg.Wait()

	var wins, rejections int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyRedeemed):
			rejections++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if wins != 1 || rejections != 1 {
		t.Fatalf("expected exactly one winner and one rejection, got %d/%d", wins, rejections)
	}

	stored, err := st.GetByCode(context.Background(), rec.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	winner := *stored.UsedByMachineID
	if winner != "MACHINE-1" && winner != "MACHINE-2" {
		t.Fatalf("unexpected winning machine %q", winner)
	}
}
