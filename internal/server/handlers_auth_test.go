package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"openvpn-configd/internal/auth"
	"openvpn-configd/internal/reconcile"
	"openvpn-configd/internal/settings"
)

func newAuthedTestServer(t *testing.T) (*Server, *auth.Manager) {
	t.Helper()
	sm := settings.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	am := auth.NewManager(sm)
	if err := am.EnsureDefaults(); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	srv := New(&mockApplier{}, &mockHistory{}, am, "openvpn@server")
	srv.SetControllerFactory(func(unit string) (reconcile.ServiceController, error) {
		return &mockController{active: false, state: "inactive", text: "inactive (dead)"}, nil
	})
	return srv, am
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	return payload.Token
}

func TestLoginExchangesPasswordForToken(t *testing.T) {
	srv, am := newAuthedTestServer(t)

	body := strings.NewReader(`{"password":"openvpn-configd"}`)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	token := decodeToken(t, rec)
	if !am.ValidateToken(token) {
		t.Fatalf("login returned a token the manager rejects: %q", token)
	}

	// The handed-out token must unlock the rest of the API.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _ := newAuthedTestServer(t)

	body := strings.NewReader(`{"password":"wrong"}`)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"token"`) {
		t.Fatalf("token leaked on bad password: %s", rec.Body.String())
	}
}

func TestRotateTokenInvalidatesOldToken(t *testing.T) {
	srv, am := newAuthedTestServer(t)
	old, err := am.GetToken()
	if err != nil {
		t.Fatalf("get token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token/rotate", nil)
	req.Header.Set("Authorization", "Bearer "+old)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	fresh := decodeToken(t, rec)
	if fresh == old {
		t.Fatal("rotation returned the old token")
	}
	if am.ValidateToken(old) {
		t.Fatal("old token still valid after rotation")
	}
	if !am.ValidateToken(fresh) {
		t.Fatal("fresh token not valid after rotation")
	}
}

func TestRotateTokenRequiresAuth(t *testing.T) {
	srv, _ := newAuthedTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token/rotate", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChangePasswordRequiresCurrentPassword(t *testing.T) {
	srv, am := newAuthedTestServer(t)
	token, err := am.GetToken()
	if err != nil {
		t.Fatalf("get token: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{"currentPassword":"wrong","newPassword":"hunter2"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: status = %d", rec.Code)
	}
	if rec := post(`{"currentPassword":"openvpn-configd","newPassword":" "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank new password: status = %d", rec.Code)
	}
	if rec := post(`{"currentPassword":"openvpn-configd","newPassword":"hunter2"}`); rec.Code != http.StatusOK {
		t.Fatalf("change password: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !am.CheckPassword("hunter2") {
		t.Fatal("new password does not validate")
	}
	if am.CheckPassword("openvpn-configd") {
		t.Fatal("old password still validates")
	}
}
