package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"
)

// ErrTickInProgress is returned by RunOnce when a tick of the same kind is
// still running.
var ErrTickInProgress = errors.New("tick already in progress")

var errNotInitialized = errors.New("scheduler not properly initialized")

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// Interval between two ticks of the same kind (default: 24h)
	Interval time.Duration

	// Location decides which calendar day "today" is (default: UTC)
	Location *time.Location

	// Kinds each get their own pipeline (default: income and expense)
	Kinds []core.Kind

	// RunOnStart runs one tick per kind as soon as the loop starts
	RunOnStart bool

	// OnTick, if set, is called after every completed tick
	OnTick func(TickReport, error)
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   24 * time.Hour,
		Location:   time.UTC,
		Kinds:      core.Kinds(),
		RunOnStart: true,
	}
}

// Scheduler drives the recurring processor periodically, one independent
// loop per kind.
type Scheduler struct {
	processor *RecurringProcessor
	clock     Clock
	config    SchedulerConfig
	ticks     map[core.Kind]*sync.Mutex

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil clock means the wall clock.
func NewScheduler(processor *RecurringProcessor, clock Clock, config SchedulerConfig) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if len(config.Kinds) == 0 {
		config.Kinds = defaults.Kinds
	}

	ticks := make(map[core.Kind]*sync.Mutex, len(config.Kinds))
	for _, kind := range config.Kinds {
		ticks[kind] = &sync.Mutex{}
	}

	return &Scheduler{
		processor: processor,
		clock:     clock,
		config:    config,
		ticks:     ticks,
	}
}

// Today is the current calendar day in the configured location.
func (s *Scheduler) Today() core.Date {
	return core.DateOf(s.clock.Now().In(s.config.Location))
}

// Start launches one loop per kind. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.processor == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for _, kind := range s.config.Kinds {
		ticker := s.clock.NewTicker(s.config.Interval)
		s.wg.Add(1)
		go s.runLoop(ctx, kind, ticker, s.stopCh)
	}

	slog.InfoContext(ctx, "Scheduler started",
		applog.FieldComponent, applog.ComponentScheduler,
		"interval", s.config.Interval,
		"timezone", s.config.Location.String(),
		"kinds", s.config.Kinds)

	return nil
}

// Stop signals every loop and waits for in-flight ticks to finish, bounded by
// ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "Scheduler stopped gracefully",
			applog.FieldComponent, applog.ComponentScheduler)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out",
			applog.FieldComponent, applog.ComponentScheduler)
		return ctx.Err()
	}
}

// IsRunning returns whether the loops are running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce runs a single tick for kind now. It never waits for a tick of the
// same kind: if one is in flight it returns ErrTickInProgress.
func (s *Scheduler) RunOnce(ctx context.Context, kind core.Kind) (TickReport, error) {
	if s.processor == nil {
		return TickReport{Kind: kind}, errNotInitialized
	}
	lock, ok := s.ticks[kind]
	if !ok {
		return TickReport{Kind: kind}, fmt.Errorf("schedule %q: %w", kind, core.ErrInvalidKind)
	}
	if !lock.TryLock() {
		return TickReport{Kind: kind}, fmt.Errorf("%s: %w", kind, ErrTickInProgress)
	}
	defer lock.Unlock()

	report, err := s.processor.ProcessDue(ctx, kind, s.Today())
	if s.config.OnTick != nil {
		s.config.OnTick(report, err)
	}
	return report, err
}

// RunAll runs one tick for every configured kind concurrently.
func (s *Scheduler) RunAll(ctx context.Context) ([]TickReport, error) {
	reports := make([]TickReport, len(s.config.Kinds))
	errs := make([]error, len(s.config.Kinds))

	var wg sync.WaitGroup
	for i, kind := range s.config.Kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = s.RunOnce(ctx, kind)
		}()
	}
	wg.Wait()

	return reports, errors.Join(errs...)
}

// runLoop is the processing loop of one kind
func (s *Scheduler) runLoop(ctx context.Context, kind core.Kind, ticker Ticker, stopCh <-chan struct{}) {
	defer s.wg.Done()
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx, kind)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx, kind)
		}
	}
}

// tick runs one pipeline pass. Cancelling ctx stops future ticks but lets this
// one finish.
func (s *Scheduler) tick(ctx context.Context, kind core.Kind) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	start := s.clock.Now()
	report, err := s.RunOnce(context.WithoutCancel(ctx), kind)
	switch {
	case errors.Is(err, ErrTickInProgress):
		slog.WarnContext(ctx, "Skipping tick, previous one still running",
			applog.FieldComponent, applog.ComponentScheduler,
			applog.FieldKind, kind)
	case err != nil:
		slog.ErrorContext(ctx, "Scheduled tick failed",
			applog.FieldComponent, applog.ComponentScheduler,
			applog.FieldKind, kind,
			applog.FieldErrorType, errorType(err),
			applog.FieldError, err)
	default:
		slog.InfoContext(ctx, "Scheduled tick complete",
			applog.FieldComponent, applog.ComponentScheduler,
			applog.FieldKind, kind,
			applog.FieldDate, report.Date.String(),
			"created", report.Created,
			"failed", report.Failed(),
			"duration", s.clock.Now().Sub(start),
			"next_check", start.Add(s.config.Interval).In(s.config.Location).Format(time.RFC3339))
	}
}
