package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bookbridge/internal/creds"
	"bookbridge/internal/events"
	"bookbridge/internal/market"
	"bookbridge/internal/monitor"
	"bookbridge/internal/push"
	"bookbridge/pkg/db"
	"bookbridge/pkg/metaapi"
)

type testServer struct {
	http   *httptest.Server
	server *Server
	db     *db.Database
	engine *market.Engine
}

func newTestAPIServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	engine := market.NewEngine(market.ModeSim, market.DefaultCatalog(), bus)
	engine.Connect(context.Background(), creds.Credentials{})

	credStore := creds.NewStore(database, nil, creds.EnvDefaults{}, 30*time.Second)
	pipeline := push.NewPipeline(database, credStore, bus)
	pipeline.Backoff = 10 * time.Millisecond
	status := push.NewStatusCache(pipeline, credStore, time.Minute)

	server := NewServer(
		bus,
		database,
		engine,
		pipeline,
		status,
		credStore,
		nil,
		metrics,
		SystemMeta{FeedMode: market.ModeSim, Version: "test"},
		"test-secret",
	)

	httpServer := httptest.NewServer(server.Router)

	ts := &testServer{http: httpServer, server: server, db: database, engine: engine}
	cleanup := func() {
		httpServer.Close()
		engine.Disconnect()
		_ = database.Close()
	}
	return ts, cleanup
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	var regResp struct {
		UserID string `json:"user_id"`
	}
	status := doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"email":     "operator@example.com",
		"firstName": "Op",
		"password":  "StrongPass123!",
	}, &regResp)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d resp=%+v", status, regResp)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	status = doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"email":    "operator@example.com",
		"password": "StrongPass123!",
	}, &loginResp)
	if status != http.StatusOK || loginResp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, loginResp)
	}
	return loginResp.Token
}

func seedPlatformUser(t *testing.T, ts *testServer, id, email, book string) {
	t.Helper()
	err := ts.db.CreateUser(context.Background(), db.User{
		ID:       id,
		Email:    email,
		BookType: book,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, ts.http.Client(), http.MethodGet, ts.http.URL+"/api/book/users", "", nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("status=%d code=%s, expected 401 MISSING_TOKEN", status, resp.Code)
	}
}

func TestBookAssignmentFlow(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	seedPlatformUser(t, ts, "u1", "u1@example.com", db.BookB)
	seedPlatformUser(t, ts, "u2", "u2@example.com", db.BookB)
	seedPlatformUser(t, ts, "u3", "u3@example.com", db.BookB)

	// Single assignment.
	status := doJSONRequest(t, client, http.MethodPut, ts.http.URL+"/api/book/users/u1/book", token, map[string]string{
		"bookType": "A",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("assign status=%d", status)
	}

	// Bulk assignment.
	status = doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/book/users/bulk-assign", token, map[string]any{
		"userIds":  []string{"u2", "u3"},
		"bookType": "A",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("bulk assign status=%d", status)
	}

	var listResp struct {
		Users []db.User    `json:"users"`
		Stats db.BookStats `json:"stats"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/book/users?book=A", token, nil, &listResp)
	if status != http.StatusOK {
		t.Fatalf("list status=%d", status)
	}
	if len(listResp.Users) != 3 {
		t.Fatalf("A-book users=%d, expected 3", len(listResp.Users))
	}
	if listResp.Stats.TotalABook != 3 {
		t.Fatalf("stats=%+v, expected 3 A-book", listResp.Stats)
	}

	status = doJSONRequest(t, client, http.MethodPut, ts.http.URL+"/api/book/users/u1/book", token, map[string]string{
		"bookType": "X",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("invalid book status=%d, expected 400", status)
	}
}

func TestSettingsLifecycleMasksToken(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	status := doJSONRequest(t, client, http.MethodPut, ts.http.URL+"/api/book/settings", token, map[string]any{
		"token":     "metaapi-token-abcd1234",
		"accountId": "acct-1",
		"region":    "london",
		"isActive":  true,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("save settings status=%d", status)
	}

	var getResp struct {
		Token     string `json:"token"`
		HasToken  bool   `json:"hasToken"`
		AccountID string `json:"accountId"`
		Region    string `json:"region"`
		IsActive  bool   `json:"isActive"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/book/settings", token, nil, &getResp)
	if status != http.StatusOK {
		t.Fatalf("get settings status=%d", status)
	}
	if !getResp.HasToken || !getResp.IsActive || getResp.Region != "london" {
		t.Fatalf("settings resp=%+v", getResp)
	}
	if !strings.HasPrefix(getResp.Token, "••••") || !strings.HasSuffix(getResp.Token, "abcd1234") {
		t.Fatalf("token %q must be masked down to the last 8 characters", getResp.Token)
	}
	if strings.Contains(getResp.Token, "metaapi-token") {
		t.Fatalf("token %q leaks the secret", getResp.Token)
	}

	status = doJSONRequest(t, client, http.MethodDelete, ts.http.URL+"/api/book/settings", token, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete settings status=%d", status)
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/book/settings", token, nil, &getResp)
	if status != http.StatusOK || getResp.HasToken {
		t.Fatalf("settings should be cleared, resp=%+v", getResp)
	}
}

func TestSettingsRejectUnknownRegion(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, client, http.MethodPut, ts.http.URL+"/api/book/settings", token, map[string]any{
		"region": "mars",
	}, &resp)
	if status != http.StatusBadRequest || resp.Code != "INVALID_REGION" {
		t.Fatalf("status=%d code=%s, expected 400 INVALID_REGION", status, resp.Code)
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"platform": "mt5", "broker": "Acme", "server": "Acme-Live", "login": "12345", "name": "Bridge", "balance": 1000, "equity": 990, "currency": "USD"}`)
	}))
	defer upstream.Close()

	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	ts.server.Pipeline.NewClient = func(token, accountID, region string) *metaapi.Client {
		return &metaapi.Client{
			Token:      token,
			AccountID:  accountID,
			BaseURL:    upstream.URL,
			HTTPClient: &http.Client{Timeout: time.Second},
		}
	}

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	var resp struct {
		Connected bool   `json:"connected"`
		Broker    string `json:"broker"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/book/test", token, map[string]string{
		"token":     "candidate",
		"accountId": "acct-1",
		"region":    "london",
	}, &resp)
	if status != http.StatusOK || !resp.Connected || resp.Broker != "Acme" {
		t.Fatalf("status=%d resp=%+v", status, resp)
	}
}

func TestBookStatusUnconfigured(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	var resp struct {
		Connection struct {
			Connected bool   `json:"connected"`
			Error     string `json:"error"`
		} `json:"connection"`
		PushStats db.PushStats `json:"pushStats"`
	}
	status := doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/book/status", token, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("status endpoint status=%d", status)
	}
	if resp.Connection.Connected || resp.Connection.Error != "not configured" {
		t.Fatalf("connection=%+v, expected not configured", resp.Connection)
	}
}

func waitForPrice(t *testing.T, client *http.Client, url, token string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if doJSONRequest(t, client, http.MethodGet, url, token, nil, nil) == http.StatusOK {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no quote appeared at %s in time", url)
}

func TestPriceEndpoints(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	waitForPrice(t, client, ts.http.URL+"/api/prices/EURUSD", token)

	var quote struct {
		Symbol string  `json:"symbol"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
	}
	status := doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/prices/EURUSD", token, nil, &quote)
	if status != http.StatusOK || quote.Symbol != "EURUSD" || quote.Ask <= quote.Bid {
		t.Fatalf("status=%d quote=%+v", status, quote)
	}

	status = doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/prices/NEVERSEEN", token, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown symbol status=%d, expected 404", status)
	}

	var batch struct {
		Quotes map[string]*struct {
			Bid float64 `json:"bid"`
		} `json:"quotes"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/prices/batch", token, map[string]any{
		"symbols": []string{"EURUSD", "NEVERSEEN"},
	}, &batch)
	if status != http.StatusOK {
		t.Fatalf("batch status=%d", status)
	}
	if batch.Quotes["EURUSD"] == nil || batch.Quotes["EURUSD"].Bid <= 0 {
		t.Fatalf("batch quotes=%+v", batch.Quotes)
	}
	if batch.Quotes["NEVERSEEN"] != nil {
		t.Fatal("unknown symbol should map to null")
	}

	var instruments struct {
		Instruments []struct {
			Symbol   string `json:"symbol"`
			Category string `json:"category"`
		} `json:"instruments"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.http.URL+"/api/prices/instruments", token, nil, &instruments)
	if status != http.StatusOK || len(instruments.Instruments) == 0 {
		t.Fatalf("instruments status=%d count=%d", status, len(instruments.Instruments))
	}
}

func TestTradeLifecycle(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.http.Client()
	token := registerAndLogin(t, client, ts.http.URL)

	seedPlatformUser(t, ts, "u1", "u1@example.com", db.BookB)
	waitForPrice(t, client, ts.http.URL+"/api/prices/EURUSD", token)

	var trade db.Trade
	status := doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/trades", token, map[string]any{
		"userId": "u1",
		"symbol": "eurusd",
		"side":   "BUY",
		"volume": 0.1,
	}, &trade)
	if status != http.StatusCreated {
		t.Fatalf("create trade status=%d", status)
	}
	if trade.Symbol != "EURUSD" || trade.OpenPrice <= 0 {
		t.Fatalf("trade=%+v", trade)
	}

	var closeResp struct {
		Closed     bool    `json:"closed"`
		ClosePrice float64 `json:"closePrice"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/trades/"+trade.ID+"/close", token, nil, &closeResp)
	if status != http.StatusOK || !closeResp.Closed {
		t.Fatalf("close status=%d resp=%+v", status, closeResp)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.http.URL+"/api/trades/"+trade.ID+"/close", token, nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("double close status=%d, expected 409", status)
	}
}
