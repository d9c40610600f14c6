package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/store/memory"
)

// manualClock hands out tickers that only fire when the test says so.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	created chan struct{}
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now, created: make(chan struct{}, 16)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	c.created <- struct{}{}
	return t
}

// Tick fires every live ticker once and waits until each loop received it.
func (c *manualClock) Tick() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*manualTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		select {
		case t.ch <- now:
		case <-t.stopped:
		}
	}
}

type manualTicker struct {
	ch      chan time.Time
	once    sync.Once
	stopped chan struct{}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.once.Do(func() { close(t.stopped) })
}

// blockingStore parks List calls until released.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) List(ctx context.Context, kind core.Kind) ([]core.Transaction, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.List(ctx, kind)
}

func waitReport(t *testing.T, ch <-chan TickReport) TickReport {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick")
		return TickReport{}
	}
}

func TestScheduler_TicksPerKind(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.Seed(
		newTemplate("", core.Expense, core.NewDate(2024, 1, 5), true),
		newTemplate("", core.Income, core.NewDate(2024, 1, 6), true),
	)

	clock := newManualClock(time.Date(2024, 2, 5, 8, 0, 0, 0, time.UTC))
	reports := make(chan TickReport, 8)
	s := NewScheduler(
		NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())),
		clock,
		SchedulerConfig{
			Interval: time.Hour,
			OnTick:   func(r TickReport, _ error) { reports <- r },
		},
	)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running")
	}
	<-clock.created
	<-clock.created

	// 5 February: only the expense template is due.
	clock.Tick()
	got := map[core.Kind]TickReport{}
	for range 2 {
		r := waitReport(t, reports)
		got[r.Kind] = r
	}
	if got[core.Expense].Created != 1 || got[core.Income].Created != 0 {
		t.Errorf("first tick reports = %+v", got)
	}

	// 6 February: the income template fires.
	clock.Set(time.Date(2024, 2, 6, 8, 0, 0, 0, time.UTC))
	clock.Tick()
	got = map[core.Kind]TickReport{}
	for range 2 {
		r := waitReport(t, reports)
		got[r.Kind] = r
	}
	if got[core.Income].Created != 1 || got[core.Expense].Created != 0 {
		t.Errorf("second tick reports = %+v", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
	if st.Len() != 4 {
		t.Errorf("records = %d, want 4", st.Len())
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	st := memory.New()
	st.Seed(newTemplate("", core.Expense, core.NewDate(2024, 1, 5), true))

	clock := newManualClock(time.Date(2024, 3, 5, 0, 30, 0, 0, time.UTC))
	reports := make(chan TickReport, 4)
	s := NewScheduler(
		NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())),
		clock,
		SchedulerConfig{
			Kinds:      []core.Kind{core.Expense},
			RunOnStart: true,
			OnTick:     func(r TickReport, _ error) { reports <- r },
		},
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	r := waitReport(t, reports)
	if r.Created != 1 {
		t.Errorf("startup tick created %d, want 1", r.Created)
	}
}

func TestScheduler_Today(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 23:30 UTC on the 4th is already the 5th in Rome.
	clock := newManualClock(time.Date(2024, 2, 4, 23, 30, 0, 0, time.UTC))

	utc := NewScheduler(&RecurringProcessor{}, clock, SchedulerConfig{})
	if got := utc.Today(); !got.Equal(core.NewDate(2024, 2, 4)) {
		t.Errorf("UTC today = %s, want 2024-02-04", got)
	}
	local := NewScheduler(&RecurringProcessor{}, clock, SchedulerConfig{Location: rome})
	if got := local.Today(); !got.Equal(core.NewDate(2024, 2, 5)) {
		t.Errorf("Rome today = %s, want 2024-02-05", got)
	}
}

func TestScheduler_NoOverlappingTicks(t *testing.T) {
	st := &blockingStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clock := newManualClock(time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC))
	s := NewScheduler(
		NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())),
		clock,
		SchedulerConfig{Kinds: []core.Kind{core.Expense}},
	)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background(), core.Expense)
		done <- err
	}()
	<-st.entered

	if _, err := s.RunOnce(context.Background(), core.Expense); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("overlapping RunOnce err = %v, want ErrTickInProgress", err)
	}

	close(st.release)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	go func() { <-st.entered }()
	if _, err := s.RunOnce(context.Background(), core.Expense); err != nil {
		t.Errorf("RunOnce after release: %v", err)
	}
}

func TestScheduler_StopWaitsForInFlightTick(t *testing.T) {
	st := &blockingStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clock := newManualClock(time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC))
	finished := make(chan struct{})
	s := NewScheduler(
		NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())),
		clock,
		SchedulerConfig{
			Kinds:      []core.Kind{core.Expense},
			RunOnStart: true,
			OnTick:     func(TickReport, error) { close(finished) },
		},
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-st.entered

	// The tick is blocked, so a short Stop deadline expires.
	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop err = %v, want deadline exceeded", err)
	}

	close(st.release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight tick did not finish")
	}
}

func TestScheduler_RunOnceUnknownKind(t *testing.T) {
	st := memory.New()
	s := NewScheduler(NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())), nil, SchedulerConfig{
		Kinds: []core.Kind{core.Income},
	})
	if _, err := s.RunOnce(context.Background(), core.Expense); !errors.Is(err, core.ErrInvalidKind) {
		t.Errorf("err = %v, want ErrInvalidKind", err)
	}
}

func TestScheduler_WithoutProcessor(t *testing.T) {
	s := NewScheduler(nil, nil, SchedulerConfig{})
	ctx := context.Background()

	if err := s.Start(ctx); !errors.Is(err, errNotInitialized) {
		t.Errorf("Start err = %v, want errNotInitialized", err)
	}
	if _, err := s.RunOnce(ctx, core.Income); !errors.Is(err, errNotInitialized) {
		t.Errorf("RunOnce err = %v, want errNotInitialized", err)
	}
	reports, err := s.RunAll(ctx)
	if !errors.Is(err, errNotInitialized) {
		t.Errorf("RunAll err = %v, want errNotInitialized", err)
	}
	if len(reports) != len(core.Kinds()) {
		t.Errorf("reports = %d, want one per kind", len(reports))
	}
}

func TestScheduler_RunAll(t *testing.T) {
	st := memory.New()
	st.Seed(
		newTemplate("", core.Expense, core.NewDate(2024, 1, 5), true),
		newTemplate("", core.Income, core.NewDate(2024, 1, 5), true),
	)
	clock := newManualClock(time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC))
	s := NewScheduler(NewRecurringProcessor(st, NewMaterializer(st, DefaultMaterializerConfig())), clock, SchedulerConfig{})

	reports, err := s.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	total := 0
	for _, r := range reports {
		total += r.Created
	}
	if total != 2 {
		t.Errorf("created = %d, want 2", total)
	}
}
