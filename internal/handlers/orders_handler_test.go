package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
	"github.com/imrishuroy/medsupply-orderflow/internal/service"
)

const k1Hash = "badb7283766a112aebdb2936077a25f5db85ea465cdbac330ba6641d38c4ac77"

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter() (*gin.Engine, *dynamotest.Fake) {
	gin.SetMode(gin.TestMode)
	fake := dynamotest.New(map[string]string{
		"idempotency": "key_hash",
		"orders":      "order_id",
		"outbox":      "event_id",
	})
	fake.AddIndex(outbox.PendingIndex, outbox.PendingSortKey)
	ledger := idempotency.NewStore(fake, "idempotency")
	events := outbox.NewStore(fake, "outbox")
	svc := service.New(service.Deps{
		Ledger: idempotency.NewLedger(ledger, idempotency.Options{TTL: time.Hour, StaleAfter: time.Minute}),
		Orders: orders.NewStore(fake, "orders", ledger, events),
		Logger: discardLogger(),
	})
	return NewRouter(svc, RouterConfig{Logger: discardLogger()}), fake
}

func do(r http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orderBody(sku string) string {
	return `{"customer_id":"c1","seller_id":"s1","created_by_role":"customer","source_channel":"web","items":[{"sku":"` + sku + `","qty":1}]}`
}

func TestCreateOrder_IdempotentReplayAndConflict(t *testing.T) {
	r, fake := newTestRouter()

	first := do(r, http.MethodPost, "/orders", "K1", orderBody("A"))
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", first.Code, first.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["request_id"] != k1Hash || resp["order_id"] == "" {
		t.Fatalf("unexpected body: %s", first.Body.String())
	}
	if first.Header().Get("Location") != "/orders/"+resp["order_id"] {
		t.Fatalf("missing Location header")
	}

	second := do(r, http.MethodPost, "/orders", "K1", orderBody("A"))
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Fatalf("replay differs: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayedHeader) != "true" {
		t.Fatalf("replay not flagged")
	}
	if fake.Len("orders") != 1 {
		t.Fatalf("expected one order row, got %d", fake.Len("orders"))
	}

	third := do(r, http.MethodPost, "/orders", "K1", orderBody("B"))
	if third.Code != http.StatusConflict || !strings.Contains(third.Body.String(), k1Hash) {
		t.Fatalf("expected 409 naming the key, got %d: %s", third.Code, third.Body.String())
	}
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	r, fake := newTestRouter()
	w := do(r, http.MethodPost, "/orders", "K2", `{"customer_id":"c1","items":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if fake.Len("idempotency") != 0 {
		t.Fatalf("invalid body must not touch the ledger")
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter()
	created := do(r, http.MethodPost, "/orders", "K3", orderBody("A"))
	var resp map[string]string
	_ = json.Unmarshal(created.Body.Bytes(), &resp)
	id := resp["order_id"]

	got := do(r, http.MethodGet, "/orders/"+id, "", "")
	if got.Code != http.StatusOK || !strings.Contains(got.Body.String(), `"status":"NEW"`) {
		t.Fatalf("get: %d %s", got.Code, got.Body.String())
	}

	w := do(r, http.MethodPost, "/orders/"+id+"/transitions", "", `{"status":"validated"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"changed":true`) {
		t.Fatalf("transition: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/orders/"+id+"/transitions", "", `{"status":"DELIVERED"}`)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "invalid_transition") {
		t.Fatalf("expected 409 invalid_transition, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/orders/"+id+"/transitions", "", `{"status":"CONFIRMED","expected_version":1}`)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "version_conflict") {
		t.Fatalf("expected 409 version_conflict, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/orders/"+id+"/transitions", "", `{"status":"SHIPPED"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/orders/nope", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

type stubService struct {
	err error
}

func (s stubService) CreateOrder(context.Context, string, []byte, service.CreateOrderInput) (service.CreateResult, error) {
	return service.CreateResult{}, s.err
}

func (s stubService) GetOrder(context.Context, string) (*orders.Order, error) {
	return nil, s.err
}

func (s stubService) Transition(context.Context, string, service.TransitionInput) (service.TransitionResult, error) {
	return service.TransitionResult{}, s.err
}

func TestErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		want string
	}{
		{&service.UnknownSKUError{SKUs: []string{"ZZ"}}, http.StatusUnprocessableEntity, `"skus":["ZZ"]`},
		{service.ErrCatalogUnavailable, http.StatusServiceUnavailable, "catalog_unavailable"},
		{errors.New("dynamodb: throttled"), http.StatusInternalServerError, `"request_id":"req-42"`},
	}
	for _, tc := range cases {
		r := NewRouter(stubService{err: tc.err}, RouterConfig{Logger: discardLogger()})
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(orderBody("A")))
		req.Header.Set("X-Request-Id", "req-42")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.code || !strings.Contains(w.Body.String(), tc.want) {
			t.Errorf("%v: got %d %s", tc.err, w.Code, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "throttled") {
			t.Errorf("internal error leaked: %s", w.Body.String())
		}
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(stubService{}, RouterConfig{AllowedOrigins: []string{"https://ops.example.com"}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id not assigned")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Fatalf("cors header missing: %v", w.Header())
	}
}
