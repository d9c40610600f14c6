package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/middleware/ratelimit"
	"budget/internal/services"
	"budget/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                        { return c.now }
func (c fixedClock) NewTicker(time.Duration) services.Ticker { return nopTicker{} }

type nopTicker struct{}

func (nopTicker) C() <-chan time.Time { return nil }
func (nopTicker) Stop()               {}

// steppingClock hands out strictly increasing CreatedAt values.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

type testEnv struct {
	srv   *Server
	store *memory.Store
	svc   *services.TransactionService
}

func newTestEnv(t *testing.T, today time.Time, opts Options) *testEnv {
	t.Helper()
	st := memory.NewWithClock(steppingClock())
	svc := services.NewTransactionService(st, nil)
	processor := services.NewRecurringProcessor(svc, services.NewMaterializer(svc, services.DefaultMaterializerConfig()))
	scheduler := services.NewScheduler(processor, fixedClock{now: today}, services.SchedulerConfig{})

	srv := NewServer(":0", svc, scheduler, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: st, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

var feb5 = time.Date(2024, 2, 5, 7, 30, 0, 0, time.UTC)

func TestHealthAndHeaders(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})

	rr := env.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	rr = env.do(t, http.MethodPost, "/healthz", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz status=%d, want 405", rr.Code)
	}
}

func TestAddAndList(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})

	rr := env.do(t, http.MethodPost, "/api/v1/add-income",
		`{"title":"Salary","amount":2500.5,"category":"Work","description":"January","date":"2024-01-27T09:00:00.000Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("add status=%d body=%s", rr.Code, rr.Body.String())
	}
	added := decode[messageBody](t, rr)
	if added.Message != "Income added" || added.ID == "" {
		t.Errorf("add response = %+v", added)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/get-incomes", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	items := decode[[]map[string]any](t, rr)
	if len(items) != 1 {
		t.Fatalf("got %d incomes, want 1", len(items))
	}
	got := items[0]
	if got["id"] != added.ID || got["type"] != "income" || got["date"] != "2024-01-27" || got["amount"] != 2500.5 || got["isRecurring"] != false {
		t.Errorf("listed income = %v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/get-expenses", "")
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("expenses = %s, want []", body)
	}
}

func TestAddRecurringAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"isRecurring", `{"title":"Rent","amount":1200,"category":"Home","date":"2024-01-05","isRecurring":true}`},
		{"repeat", `{"title":"Rent","amount":1200,"category":"Home","date":"2024-01-05","repeat":true}`},
		{"repeated", `{"title":"Rent","amount":1200,"category":"Home","date":"2024-01-05","repeated":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, feb5, Options{})
			if rr := env.do(t, http.MethodPost, "/api/v1/add-expense", tt.body); rr.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			items, _ := env.store.List(context.Background(), core.Expense)
			if len(items) != 1 || !items[0].IsRecurring {
				t.Errorf("stored = %+v, want one recurring expense", items)
			}
		})
	}
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing title", `{"amount":10,"category":"Food","date":"2024-01-05"}`, msgRequired},
		{"blank title", `{"title":"   ","amount":10,"category":"Food","date":"2024-01-05"}`, msgRequired},
		{"missing category", `{"title":"Lunch","amount":10,"date":"2024-01-05"}`, msgRequired},
		{"missing date", `{"title":"Lunch","amount":10,"category":"Food"}`, msgRequired},
		{"zero amount", `{"title":"Lunch","amount":0,"category":"Food","date":"2024-01-05"}`, msgInvalidAmount},
		{"negative amount", `{"title":"Lunch","amount":-3,"category":"Food","date":"2024-01-05"}`, msgInvalidAmount},
		{"non-numeric amount", `{"title":"Lunch","amount":"abc","category":"Food","date":"2024-01-05"}`, msgInvalidAmount},
		{"oversized amount", `{"title":"Lunch","amount":184467440737095517,"category":"Food","date":"2024-01-05"}`, msgInvalidAmount},
		{"title too long", fmt.Sprintf(`{"title":%q,"amount":10,"category":"Food","date":"2024-01-05"}`, strings.Repeat("x", 51)), "title must be at most 50 characters"},
		{"description too long", fmt.Sprintf(`{"title":"Lunch","description":%q,"amount":10,"category":"Food","date":"2024-01-05"}`, strings.Repeat("é", 21)), "description must be at most 20 characters"},
		{"malformed json", `{"title":`, msgInvalidBody},
		{"bad date", `{"title":"Lunch","amount":10,"category":"Food","date":"yesterday"}`, msgInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, feb5, Options{})
			rr := env.do(t, http.MethodPost, "/api/v1/add-expense", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400 (body %s)", rr.Code, rr.Body.String())
			}
			if got := decode[messageBody](t, rr).Message; got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
			if env.store.Len() != 0 {
				t.Error("invalid request stored a record")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})
	ctx := context.Background()
	lunch, err := env.svc.Create(ctx, core.Transaction{Kind: core.Expense, Title: "Lunch", Category: "Food", Amount: core.Money{Cents: 1200}, OccurredOn: core.NewDate(2024, 2, 1)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		code    int
		message string
	}{
		{"unknown id", "/api/v1/delete-expense/01HZZZZZZZZZZZZZZZZZZZZZZZ", http.StatusNotFound, "Expense not found"},
		{"wrong kind", "/api/v1/delete-income/" + lunch.ID, http.StatusNotFound, "Income not found"},
		{"deleted", "/api/v1/delete-expense/" + lunch.ID, http.StatusOK, "Expense has been deleted"},
		{"already gone", "/api/v1/delete-expense/" + lunch.ID, http.StatusNotFound, "Expense not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodDelete, tt.path, "")
			if rr.Code != tt.code {
				t.Fatalf("status=%d, want %d", rr.Code, tt.code)
			}
			if got := decode[messageBody](t, rr).Message; got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestRepeat(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})
	ctx := context.Background()
	rent, err := env.svc.Create(ctx, core.Transaction{Kind: core.Expense, Title: "Rent", Category: "Home", Amount: core.Money{Cents: 120000}, OccurredOn: core.NewDate(2024, 1, 5), IsRecurring: true})
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/repeat-expense/"+rent.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	child := decode[map[string]any](t, rr)
	if child["id"] == rent.ID || child["date"] != "2024-02-05" || child["isRecurring"] != false || child["title"] != "Rent" {
		t.Errorf("child = %v", child)
	}

	template, err := env.store.Get(ctx, rent.ID)
	if err != nil || !template.IsRecurring {
		t.Errorf("template should stay recurring: %+v, %v", template, err)
	}

	if rr := env.do(t, http.MethodPost, "/api/v1/repeat-income/"+rent.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("repeat through the wrong kind: status=%d, want 404", rr.Code)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})
	ctx := context.Background()
	for i, kind := range []core.Kind{core.Income, core.Expense, core.Income, core.Expense} {
		_, err := env.svc.Create(ctx, core.Transaction{Kind: kind, Title: fmt.Sprintf("t%d", i), Category: "c", Amount: core.Money{Cents: 100}, OccurredOn: core.NewDate(2024, 1, 1)})
		if err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(t, http.MethodGet, "/api/v1/history?limit=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	items := decode[[]map[string]any](t, rr)
	var titles []string
	for _, it := range items {
		titles = append(titles, it["title"].(string))
	}
	if strings.Join(titles, ",") != "t3,t2,t1" {
		t.Errorf("history = %v, want newest three", titles)
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/history", ""); len(decode[[]map[string]any](t, rr)) != 4 {
		t.Error("default limit should return all four records")
	}

	for _, bad := range []string{"abc", "0", "-2"} {
		rr := env.do(t, http.MethodGet, "/api/v1/history?limit="+bad, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status=%d, want 400", bad, rr.Code)
		}
	}
}

func TestRecurringRun(t *testing.T) {
	env := newTestEnv(t, feb5, Options{})
	ctx := context.Background()
	if _, err := env.svc.Create(ctx, core.Transaction{Kind: core.Expense, Title: "Rent", Category: "Home", Amount: core.Money{Cents: 120000}, OccurredOn: core.NewDate(2024, 1, 5), IsRecurring: true}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/recurring/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	resp := decode[recurringRunResponse](t, rr)
	if len(resp.Reports) != 2 {
		t.Fatalf("got %d reports, want one per kind", len(resp.Reports))
	}
	for _, rep := range resp.Reports {
		wantCreated := 0
		if rep.Kind == core.Expense {
			wantCreated = 1
		}
		if rep.Created != wantCreated || rep.Failed != 0 || rep.Date.String() != "2024-02-05" {
			t.Errorf("%s report = %+v", rep.Kind, rep)
		}
	}

	// The template fired, a second run has nothing to do.
	rr = env.do(t, http.MethodPost, "/api/v1/recurring/run", "")
	for _, rep := range decode[recurringRunResponse](t, rr).Reports {
		if rep.Created != 0 {
			t.Errorf("second run created %d %s records", rep.Created, rep.Kind)
		}
	}
}

type stubRunner struct {
	err error
}

func (s stubRunner) RunAll(context.Context) ([]services.TickReport, error) {
	return []services.TickReport{{Kind: core.Income}, {Kind: core.Expense}}, s.err
}

func (stubRunner) Today() core.Date { return core.NewDate(2024, 2, 5) }

func TestRecurringRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner RecurringRunner
		code   int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"tick in progress", stubRunner{err: fmt.Errorf("expense: %w", services.ErrTickInProgress)}, http.StatusConflict},
		{"store down", stubRunner{err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(":0", services.NewTransactionService(memory.New(), nil), tt.runner, Options{})
			t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

			rr := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/recurring/run", nil))
			if rr.Code != tt.code {
				t.Errorf("status=%d, want %d", rr.Code, tt.code)
			}
		})
	}
}

type brokenAPI struct{ TransactionAPI }

func (brokenAPI) List(context.Context, core.Kind) ([]core.Transaction, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureIsServerError(t *testing.T) {
	srv := NewServer(":0", brokenAPI{}, nil, Options{})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/get-incomes", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
	if got := decode[messageBody](t, rr).Message; got != "Server error" {
		t.Errorf("message = %q; internal errors must not leak", got)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	env := newTestEnv(t, feb5, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 1}})
	body := `{"title":"Lunch","amount":10,"category":"Food","date":"2024-01-05"}`

	if rr := env.do(t, http.MethodPost, "/api/v1/add-expense", body); rr.Code != http.StatusOK {
		t.Fatalf("first add status=%d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/api/v1/add-expense", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second add status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Error("missing Retry-After")
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/get-expenses", ""); rr.Code != http.StatusOK {
		t.Errorf("reads are not limited: status=%d", rr.Code)
	}
}
