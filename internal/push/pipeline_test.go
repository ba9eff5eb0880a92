package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookbridge/internal/creds"
	"bookbridge/pkg/db"
	"bookbridge/pkg/metaapi"
)

// fakeStore records push-status writes in order.
type fakeStore struct {
	mu      sync.Mutex
	books   map[string]string
	updates []db.PushStatusUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{books: map[string]string{"alice": db.BookA, "bob": db.BookB}}
}

func (f *fakeStore) GetUserBookType(ctx context.Context, userID string) (string, error) {
	book, ok := f.books[userID]
	if !ok {
		return "", db.ErrNotFound
	}
	return book, nil
}

func (f *fakeStore) UpdateTradePushStatus(ctx context.Context, tradeID string, upd db.PushStatusUpdate) error {
	f.mu.Lock()
	f.updates = append(f.updates, upd)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) last(t *testing.T) db.PushStatusUpdate {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		t.Fatal("no status updates recorded")
	}
	return f.updates[len(f.updates)-1]
}

// fixedCreds always resolves the same credential set.
type fixedCreds struct{ cr creds.Credentials }

func (f fixedCreds) Get(ctx context.Context) creds.Credentials { return f.cr }

func configuredCreds() fixedCreds {
	return fixedCreds{creds.Credentials{Token: "tok", AccountID: "acc", Region: "new-york", Source: creds.SourceEnvironment}}
}

func testPipeline(store *fakeStore, source CredentialSource, serverURL string) *Pipeline {
	p := NewPipeline(store, source, nil)
	p.Backoff = 10 * time.Millisecond
	p.NewClient = func(token, accountID, region string) *metaapi.Client {
		return &metaapi.Client{
			Token:      token,
			AccountID:  accountID,
			BaseURL:    serverURL,
			HTTPClient: &http.Client{Timeout: time.Second},
		}
	}
	return p
}

func openTrade(id, userID string) db.Trade {
	return db.Trade{
		ID:         id,
		UserID:     userID,
		Symbol:     "EURUSD",
		Side:       "BUY",
		Volume:     0.1,
		OpenPrice:  1.1,
		StopLoss:   1.05,
		TakeProfit: 1.2,
		Status:     "OPEN",
	}
}

func TestPushSkipsBookBUserSilently(t *testing.T) {
	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), "http://127.0.0.1:0")

	if err := p.PushTrade(context.Background(), openTrade("t1", "bob")); err != nil {
		t.Fatalf("PushTrade: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("book-B push must not touch the trade, got %d updates", len(store.updates))
	}
}

func TestPushUnconfiguredWritesFailed(t *testing.T) {
	store := newFakeStore()
	p := testPipeline(store, fixedCreds{}, "http://127.0.0.1:0")

	if err := p.PushTrade(context.Background(), openTrade("t1", "alice")); err != nil {
		t.Fatalf("PushTrade: %v", err)
	}
	upd := store.last(t)
	if upd.Status != db.PushFailed {
		t.Fatalf("status=%s, expected FAILED", upd.Status)
	}
	if !strings.Contains(upd.Error, "not configured") {
		t.Fatalf("error %q should mention not configured", upd.Error)
	}
}

func TestPushSuccessRecordsPositionAndTimestamp(t *testing.T) {
	var gotReq metaapi.TradeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode trade request: %v", err)
		}
		fmt.Fprint(w, `{"numericCode": 10009, "stringCode": "TRADE_RETCODE_DONE", "orderId": "O1", "positionId": "P1"}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), srv.URL)

	trade := openTrade("t1", "alice")
	trade.Side = "SELL"
	if err := p.PushTrade(context.Background(), trade); err != nil {
		t.Fatalf("PushTrade: %v", err)
	}

	if gotReq.ActionType != metaapi.ActionSell {
		t.Fatalf("actionType=%s, expected %s", gotReq.ActionType, metaapi.ActionSell)
	}
	if gotReq.Comment != "AB-t1" {
		t.Fatalf("comment=%q, expected AB-t1", gotReq.Comment)
	}

	if len(store.updates) != 2 || store.updates[0].Status != db.PushPending {
		t.Fatalf("expected PENDING then PUSHED, got %+v", store.updates)
	}
	upd := store.last(t)
	if upd.Status != db.PushPushed {
		t.Fatalf("status=%s, expected PUSHED", upd.Status)
	}
	if upd.PositionID == nil || *upd.PositionID != "P1" {
		t.Fatalf("positionId=%v, expected P1", upd.PositionID)
	}
	if upd.PushedAt == nil {
		t.Fatal("pushedAt must be set on PUSHED")
	}
}

func TestPushFallsBackToOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stringCode": "TRADE_RETCODE_DONE", "orderId": "O9"}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), srv.URL)

	if err := p.PushTrade(context.Background(), openTrade("t1", "alice")); err != nil {
		t.Fatalf("PushTrade: %v", err)
	}
	upd := store.last(t)
	if upd.PositionID == nil || *upd.PositionID != "O9" {
		t.Fatalf("positionId=%v, expected order-id fallback O9", upd.PositionID)
	}
}

func TestPushUpstreamErrorWritesFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message": "broker rejected order"}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), srv.URL)

	if err := p.PushTrade(context.Background(), openTrade("t1", "alice")); err != nil {
		t.Fatalf("PushTrade: %v", err)
	}
	upd := store.last(t)
	if upd.Status != db.PushFailed {
		t.Fatalf("status=%s, expected FAILED", upd.Status)
	}
	if !strings.Contains(upd.Error, "broker rejected order") {
		t.Fatalf("error %q should carry the upstream message", upd.Error)
	}
}

func TestCloseWithoutPositionIsNoop(t *testing.T) {
	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), "http://127.0.0.1:0")

	if err := p.CloseTrade(context.Background(), openTrade("t1", "alice")); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatal("close without a position id must not touch the trade")
	}
}

func TestCloseSuccessWritesClosed(t *testing.T) {
	var gotReq metaapi.TradeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode close request: %v", err)
		}
		fmt.Fprint(w, `{"stringCode": "TRADE_RETCODE_DONE"}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), srv.URL)

	trade := openTrade("t1", "alice")
	trade.PositionID = "P7"
	if err := p.CloseTrade(context.Background(), trade); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	if gotReq.ActionType != metaapi.ActionCloseID || gotReq.PositionID != "P7" {
		t.Fatalf("close request %+v, expected POSITION_CLOSE_ID for P7", gotReq)
	}
	if upd := store.last(t); upd.Status != db.PushClosed {
		t.Fatalf("status=%s, expected CLOSED", upd.Status)
	}
}

func TestCloseFailureKeepsPositionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": "position already closed"}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(store, configuredCreds(), srv.URL)

	trade := openTrade("t1", "alice")
	trade.PositionID = "P7"
	if err := p.CloseTrade(context.Background(), trade); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	upd := store.last(t)
	if upd.Status != db.PushCloseFailed {
		t.Fatalf("status=%s, expected CLOSE_FAILED", upd.Status)
	}
	if upd.PositionID != nil {
		t.Fatal("close failure must leave the stored position id untouched")
	}
	if !strings.Contains(upd.Error, "position already closed") {
		t.Fatalf("error %q should carry the upstream message", upd.Error)
	}
}

func TestTestConnectionRetriesOnceAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"platform": "mt5", "broker": "Acme", "server": "Acme-Live", "login": "12345", "name": "Bridge", "balance": 1000, "equity": 990, "currency": "USD"}`)
	}))
	defer srv.Close()

	p := testPipeline(newFakeStore(), fixedCreds{}, srv.URL)
	status := p.TestConnection(context.Background(), "candidate-tok", "candidate-acc", "london")

	if !status.Connected {
		t.Fatalf("expected connected after retry, got error %q", status.Error)
	}
	if status.Broker != "Acme" || status.Login != "12345" || status.Balance != 1000 {
		t.Fatalf("unexpected account info: %+v", status)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls=%d, expected exactly one retry", got)
	}
}

func TestTestConnectionGivesUpAfterSecondRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := testPipeline(newFakeStore(), fixedCreds{}, srv.URL)
	status := p.TestConnection(context.Background(), "tok", "acc", "london")

	if status.Connected {
		t.Fatal("expected failure after repeated 429s")
	}
	if status.Error == "" {
		t.Fatal("failure must carry an error message")
	}
}

func TestGetPositionsFailSoft(t *testing.T) {
	// Unconfigured credentials: empty list, no network.
	p := testPipeline(newFakeStore(), fixedCreds{}, "http://127.0.0.1:0")
	if got := p.GetPositions(context.Background()); len(got) != 0 {
		t.Fatalf("unconfigured GetPositions = %v, expected empty", got)
	}

	// Upstream error: still an empty list.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p = testPipeline(newFakeStore(), configuredCreds(), srv.URL)
	if got := p.GetPositions(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("failing GetPositions = %v, expected empty non-nil list", got)
	}
}

func TestGetPositionsReturnsUpstreamList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": "P1", "symbol": "EURUSD", "type": "POSITION_TYPE_BUY", "volume": 0.1, "profit": 4.2}]`)
	}))
	defer srv.Close()

	p := testPipeline(newFakeStore(), configuredCreds(), srv.URL)
	got := p.GetPositions(context.Background())
	if len(got) != 1 || got[0].ID != "P1" || got[0].Profit != 4.2 {
		t.Fatalf("positions = %+v", got)
	}
}
