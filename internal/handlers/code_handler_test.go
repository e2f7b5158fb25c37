package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/salesmgr/license-server/internal/codegen"
	"github.com/salesmgr/license-server/internal/dto"
	"github.com/salesmgr/license-server/internal/feed"
	"github.com/salesmgr/license-server/internal/licenses"
	"github.com/salesmgr/license-server/internal/models"
	"github.com/salesmgr/license-server/internal/store"
)

func newTestApp(t *testing.T, purchaseToken string) (*fiber.App, *store.Memory) {
	t.Helper()

	notifier := store.NewMemoryNotifier()
	st := store.NewMemory(notifier)
	gen := codegen.New("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", 16, "L")
	svc := licenses.NewService(st, gen, nil, nil)

	codeFeed := feed.New(st, notifier)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = codeFeed.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := NewCodeHandler(svc, codeFeed, purchaseToken)
	app := fiber.New()
	app.Post("/generate_code", h.GenerateCode)
	app.Post("/redeem", h.Redeem)
	app.Post("/api/codes", h.CreateManual)
	app.Get("/api/codes", h.ListCodes)
	return app, st
}

func postJSON(t *testing.T, app *fiber.App, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 2000)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestGenerateCodeValidation(t *testing.T) {
	app, _ := newTestApp(t, "")

	cases := []dto.GenerateCodeRequest{
		{LicenseType: "", UserEmail: "a@b.com"},
		{LicenseType: "monthly", UserEmail: ""},
	}
	for _, req := range cases {
		resp := postJSON(t, app, "/generate_code", req, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %+v, got %d", req, resp.StatusCode)
		}
	}
}

func TestGenerateCodeSuccess(t *testing.T) {
	app, st := newTestApp(t, "")

	resp := postJSON(t, app, "/generate_code", dto.GenerateCodeRequest{
		LicenseType: "monthly", UserEmail: "a@b.com",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out dto.GenerateCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Code == "" {
		t.Fatal("expected a code in the response")
	}

	rec, err := st.GetByCode(context.Background(), out.Code)
	if err != nil {
		t.Fatalf("issued code not stored: %v", err)
	}
	if rec.GenerationMethod != models.MethodAutomatic {
		t.Fatalf("expected automatic generation method, got %q", rec.GenerationMethod)
	}
}

func TestGenerateCodeRequiresPurchaseToken(t *testing.T) {
	app, _ := newTestApp(t, "secret-token")

	req := dto.GenerateCodeRequest{LicenseType: "monthly", UserEmail: "a@b.com"}

	resp := postJSON(t, app, "/generate_code", req, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/generate_code", req, map[string]string{"Authorization": "secret-token"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestRedeemOutcomes(t *testing.T) {
	app, _ := newTestApp(t, "")

	resp := postJSON(t, app, "/redeem", dto.RedeemRequest{Code: "UNKNOWN", MachineID: "M1"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/api/codes", dto.ManualCodeRequest{LicenseType: "annual"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var rec models.LicenseCode
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = postJSON(t, app, "/redeem", dto.RedeemRequest{Code: rec.Code, MachineID: "M1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on first redeem, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/redeem", dto.RedeemRequest{Code: rec.Code, MachineID: "M2"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second redeem, got %d", resp.StatusCode)
	}
}

func TestListCodesReturnsPartitions(t *testing.T) {
	app, _ := newTestApp(t, "")

	resp := postJSON(t, app, "/api/codes", dto.ManualCodeRequest{LicenseType: "monthly"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// The feed recomputes asynchronously; poll until the record appears.
	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/codes", nil)
		resp, err := app.Test(req, 2000)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var snap feed.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(snap.Manual) == 1 && len(snap.Automatic) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("manual partition never populated: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
