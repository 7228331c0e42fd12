// Package scheduler owns the per-monitor timers and drives discovery passes.
//
// Monitor lifecycle: Stopped → Scheduled (timer armed) → Running (one pass
// executing) → Scheduled. Starting an armed monitor is a no-op; stopping one
// cancels future passes only, a pass already running completes. Overlapping
// passes for the same monitor are prevented by a per-monitor in-flight guard,
// so a manual run colliding with a scheduled tick is skipped rather than
// doubled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/notify"
)

var (
	// ErrMonitorNotFound is returned by RunMonitor for an unknown id.
	ErrMonitorNotFound = errors.New("monitor not found")
	// ErrMonitorInactive is returned by RunMonitor for a deactivated monitor.
	ErrMonitorInactive = errors.New("monitor is inactive")
	// ErrPassInProgress is returned by RunMonitor when a pass for the same
	// monitor is already executing.
	ErrPassInProgress = errors.New("pass already in progress")
)

const (
	defaultWarmup     = 5 * time.Minute
	defaultBoardDelay = 2 * time.Second
)

// MonitorSource loads monitor configurations and records run results.
// An absent monitor is (nil, nil).
type MonitorSource interface {
	GetMonitor(ctx context.Context, id string) (*model.MonitorConfig, error)
	ListActive(ctx context.Context) ([]model.MonitorConfig, error)
	RecordRun(ctx context.Context, id string, stats model.RunStats, at time.Time) error
}

// LeadSink is the slice of the lead store the pass pipeline needs.
type LeadSink interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.Lead, error)
	Insert(ctx context.Context, lead *model.Lead) (*model.Lead, error)
}

// FeedSource fetches one board's matching posts.
type FeedSource interface {
	Fetch(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error)
}

// Notifier accepts alert jobs for qualifying leads.
type Notifier interface {
	Enqueue(job notify.Job) bool
	Connected(ctx context.Context) bool
}

// SeenCache short-circuits dedup lookups for recently ingested post ids.
type SeenCache interface {
	Seen(ctx context.Context, externalID string) bool
	Remember(ctx context.Context, externalID string)
}

// Status is the operator-visible scheduler state.
type Status struct {
	Initialized      bool     `json:"initialized"`
	ActiveMonitorIDs []string `json:"activeMonitorIds"`
	PubSubConnected  bool     `json:"pubsubConnected"`
}

type handle struct {
	cancel context.CancelFunc
}

// Scheduler drives all monitors. It holds the only shared mutable state in
// the engine: the handle map and the in-flight guard, both behind mu.
type Scheduler struct {
	monitors MonitorSource
	leads    LeadSink
	fetcher  FeedSource
	notifier Notifier
	seen     SeenCache // optional

	warmup     time.Duration
	boardDelay time.Duration
	cronSpec   string

	mu       sync.Mutex
	handles  map[string]*handle
	inFlight map[string]bool
	started  bool

	cron *cron.Cron
	wg   sync.WaitGroup
}

// Option adjusts scheduler timing, mainly for tests.
type Option func(*Scheduler)

// WithWarmup overrides the fixed delay before a started monitor's first pass.
func WithWarmup(d time.Duration) Option {
	return func(s *Scheduler) { s.warmup = d }
}

// WithBoardDelay overrides the fixed delay between boards within a pass.
func WithBoardDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.boardDelay = d }
}

// WithSeenCache installs the dedup shortcut cache.
func WithSeenCache(c SeenCache) Option {
	return func(s *Scheduler) { s.seen = c }
}

// New creates a Scheduler whose reconcile sweep fires every reconcileMinutes.
func New(monitors MonitorSource, leads LeadSink, fetcher FeedSource, notifier Notifier, reconcileMinutes int, opts ...Option) *Scheduler {
	s := &Scheduler{
		monitors:   monitors,
		leads:      leads,
		fetcher:    fetcher,
		notifier:   notifier,
		warmup:     defaultWarmup,
		boardDelay: defaultBoardDelay,
		cronSpec:   fmt.Sprintf("@every %dm", reconcileMinutes),
		handles:    make(map[string]*handle),
		inFlight:   make(map[string]bool),
		cron:       cron.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the reconcile sweep and syncs monitors from the store once
// immediately. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.cronSpec, func() {
		s.reconcile(context.Background())
	}); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	slog.Info("scheduler started", "reconcile", s.cronSpec)

	go s.reconcile(ctx)
	return nil
}

// Stop cancels the sweep and every armed monitor, then waits for the monitor
// loops to exit. In-flight passes run to completion.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.StopAll()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// reconcile arms timers for every active monitor and disarms monitors that
// were deactivated or deleted since the last sweep.
func (s *Scheduler) reconcile(ctx context.Context) {
	configs, err := s.monitors.ListActive(ctx)
	if err != nil {
		slog.Error("reconcile: listActive failed", "error", err)
		return
	}

	active := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		active[cfg.ID] = true
		if err := s.StartMonitor(cfg.ID, cfg.IntervalMinutes); err != nil {
			slog.Error("reconcile: start failed", "monitor", cfg.ID, "error", err)
		}
	}

	s.mu.Lock()
	var stale []string
	for id := range s.handles {
		if !active[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		slog.Info("monitor no longer active, disarming", "monitor", id)
		s.StopMonitor(id)
	}
}

// StartMonitor arms a monitor's timer: a fixed warm-up before the first pass,
// then one pass every intervalMinutes. Starting an already armed (or running)
// monitor is a no-op.
func (s *Scheduler) StartMonitor(id string, intervalMinutes int) error {
	if intervalMinutes < 1 {
		return fmt.Errorf("monitor %s: interval must be at least 1 minute, got %d", id, intervalMinutes)
	}

	s.mu.Lock()
	if _, ok := s.handles[id]; ok {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.handles[id] = &handle{cancel: cancel}
	s.mu.Unlock()

	interval := time.Duration(intervalMinutes) * time.Minute
	s.wg.Add(1)
	go s.loop(ctx, id, interval)

	slog.Info("monitor armed", "monitor", id, "interval", interval, "warmup", s.warmup)
	return nil
}

// StopMonitor disarms a monitor's timer. A pass already executing is not
// interrupted. Stopping an unknown monitor is a no-op.
func (s *Scheduler) StopMonitor(id string) {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if ok {
		h.cancel()
		slog.Info("monitor disarmed", "monitor", id)
	}
}

// StartAll arms every active monitor from the store.
func (s *Scheduler) StartAll(ctx context.Context) error {
	configs, err := s.monitors.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("startAll: %w", err)
	}
	for _, cfg := range configs {
		if err := s.StartMonitor(cfg.ID, cfg.IntervalMinutes); err != nil {
			return err
		}
	}
	return nil
}

// StopAll disarms every monitor.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle)
	s.mu.Unlock()

	for id, h := range handles {
		h.cancel()
		slog.Info("monitor disarmed", "monitor", id)
	}
}

// RunMonitor executes one pass out of band and returns its stats. The three
// failure modes are distinguishable: ErrMonitorNotFound, ErrMonitorInactive,
// and ErrPassInProgress when colliding with a scheduled tick.
func (s *Scheduler) RunMonitor(ctx context.Context, id string) (*model.RunStats, error) {
	cfg, err := s.monitors.GetMonitor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load monitor %s: %w", id, err)
	}
	if cfg == nil {
		return nil, ErrMonitorNotFound
	}
	if !cfg.Active {
		return nil, ErrMonitorInactive
	}

	if !s.beginPass(id) {
		return nil, ErrPassInProgress
	}
	defer s.endPass(id)

	stats, err := s.runPass(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.record(ctx, id, stats)
	return &stats, nil
}

// GetStatus reports whether the scheduler is initialized, which monitors are
// armed, and whether the pub/sub backend is reachable.
func (s *Scheduler) GetStatus(ctx context.Context) Status {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	started := s.started
	s.mu.Unlock()
	sort.Strings(ids)

	return Status{
		Initialized:      started,
		ActiveMonitorIDs: ids,
		PubSubConnected:  s.notifier.Connected(ctx),
	}
}

// loop is one monitor's timer goroutine: warm-up, first pass, then a steady
// tick every interval until the handle is cancelled.
func (s *Scheduler) loop(ctx context.Context, id string, interval time.Duration) {
	defer s.wg.Done()

	warm := time.NewTimer(s.warmup)
	select {
	case <-ctx.Done():
		warm.Stop()
		return
	case <-warm.C:
	}
	s.tick(id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(id)
		}
	}
}

// tick runs one scheduled pass. The config is reloaded from the store each
// time so admin edits to keywords or thresholds take effect on the next pass.
func (s *Scheduler) tick(id string) {
	ctx := context.Background()

	cfg, err := s.monitors.GetMonitor(ctx, id)
	if err != nil {
		slog.Error("tick: load monitor failed", "monitor", id, "error", err)
		return
	}
	if cfg == nil || !cfg.Active {
		slog.Info("tick: monitor gone or inactive, skipping", "monitor", id)
		return
	}

	if !s.beginPass(id) {
		slog.Info("tick: previous pass still running, skipping", "monitor", id)
		return
	}
	defer s.endPass(id)

	stats, err := s.runPass(ctx, cfg)
	if err != nil {
		slog.Error("pass failed", "monitor", id, "error", err)
		return
	}
	s.record(ctx, id, stats)
}

func (s *Scheduler) beginPass(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) endPass(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) record(ctx context.Context, id string, stats model.RunStats) {
	if err := s.monitors.RecordRun(ctx, id, stats, time.Now().UTC()); err != nil {
		slog.Error("recordRun failed", "monitor", id, "error", err)
	}
}
