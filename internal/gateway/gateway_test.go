package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/huntrelay/huntrelay/internal/asset"
	"github.com/huntrelay/huntrelay/internal/auth"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/huntmodule"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// testHarness wires the minimum set of collaborators the assets,
// auth, and hunt-module-CRUD handlers need, backed by a scratch
// SQLite file and an on-disk module directory — no mocks, real
// stores, mirroring how internal/intelligence and internal/asset test
// against a real db.Pool rather than an interface fake.
type testHarness struct {
	srv      *Server
	ts       *httptest.Server
	username string
	password string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	pool, err := db.Open(db.Config{Path: filepath.Join(dir, "test.db"), PoolSize: 1})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	if _, err := db.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}

	backend, err := huntmodule.NewFileBackend(filepath.Join(dir, "modules"))
	if err != nil {
		t.Fatalf("huntmodule.NewFileBackend: %v", err)
	}

	accounts, err := auth.OpenAccountStore(filepath.Join(dir, "accounts.json"))
	if err != nil {
		t.Fatalf("auth.OpenAccountStore: %v", err)
	}
	const username, password = "operator1", "correct horse battery staple"
	analystID := ids.AnalystID("analyst-1")
	if err := accounts.CreateAccount(username, analystID, password); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	issuer, err := auth.NewHMACIssuer(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("auth.NewHMACIssuer: %v", err)
	}

	srv := New(Config{}, Dependencies{
		Bus:      eventbus.New(16),
		Clock:    clock.Real(),
		Assets:   asset.NewStore(pool),
		Modules:  huntmodule.NewStore(backend),
		Issuer:   issuer,
		Accounts: accounts,
	})
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)

	return &testHarness{srv: srv, ts: ts, username: username, password: password}
}

// token logs h.username in and returns a bearer access token.
func (h *testHarness) token(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: h.username, Password: h.password})
	resp, err := http.Post(h.ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	return tok.AccessToken
}

func (h *testHarness) authedRequest(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token(t))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestLoginSucceedsAndRejectsBadPassword(t *testing.T) {
	h := newTestHarness(t)

	tok := h.token(t)
	if tok == "" {
		t.Fatalf("expected a non-empty access token")
	}

	body, _ := json.Marshal(loginRequest{Username: h.username, Password: "wrong"})
	resp, err := http.Post(h.ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad password, got %d", resp.StatusCode)
	}
}

func TestProtectedEndpointRequiresBearerToken(t *testing.T) {
	h := newTestHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/assets/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}
}

func TestAssetCRUDRoundTrip(t *testing.T) {
	h := newTestHarness(t)

	createBody, _ := json.Marshal(createAssetRequest{Hostname: "web01", IP: "10.0.0.5", OS: "linux", SSHPort: 22, Username: "root"})
	resp := h.authedRequest(t, http.MethodPost, "/api/v1/assets/", createBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create asset: status %d", resp.StatusCode)
	}
	var created struct {
		ID ids.AssetID `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decoding created asset: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected a generated asset ID")
	}

	getResp := h.authedRequest(t, http.MethodGet, "/api/v1/assets/"+created.ID.String(), nil)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get asset: status %d", getResp.StatusCode)
	}

	listResp := h.authedRequest(t, http.MethodGet, "/api/v1/assets/", nil)
	defer listResp.Body.Close()
	var list []map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decoding asset list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 asset in list, got %d", len(list))
	}

	delResp := h.authedRequest(t, http.MethodDelete, "/api/v1/assets/"+created.ID.String(), nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete asset: status %d", delResp.StatusCode)
	}

	getAfterDelete := h.authedRequest(t, http.MethodGet, "/api/v1/assets/"+created.ID.String(), nil)
	defer getAfterDelete.Body.Close()
	if getAfterDelete.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getAfterDelete.StatusCode)
	}
}

const testModuleSpec = `---
id: linux-persistence-triage
name: Linux Persistence Triage
description: Enumerate common persistence mechanisms.
os_types: [linux]
tags: [persistence]
severity_hint: medium
---

## step: list_cron
description: List crontabs.
command: crontab -l
timeout: 10
requires_sudo: false
`

func TestHuntModuleCRUDRoundTripAndETag(t *testing.T) {
	h := newTestHarness(t)

	createBody, _ := json.Marshal(moduleSpecRequest{Spec: testModuleSpec})
	resp := h.authedRequest(t, http.MethodPost, "/api/v1/hunt-modules/", createBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create module: status %d", resp.StatusCode)
	}

	getResp := h.authedRequest(t, http.MethodGet, "/api/v1/hunt-modules/linux-persistence-triage", nil)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get module: status %d", getResp.StatusCode)
	}
	if getResp.Header.Get("ETag") == "" {
		t.Fatalf("expected a non-empty ETag header")
	}

	delResp := h.authedRequest(t, http.MethodDelete, "/api/v1/hunt-modules/linux-persistence-triage", nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete module: status %d", delResp.StatusCode)
	}
}
