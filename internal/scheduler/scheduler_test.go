package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadflow/discovery-service/internal/feed"
	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/notify"
	"leadflow/discovery-service/internal/scheduler"
	"leadflow/discovery-service/internal/store"
)

// ── Fakes ──────────────────────────────────────────────────────────────────

type recordedRun struct {
	id    string
	stats model.RunStats
}

type fakeMonitors struct {
	mu      sync.Mutex
	configs map[string]*model.MonitorConfig
	runs    []recordedRun
}

func newFakeMonitors(configs ...*model.MonitorConfig) *fakeMonitors {
	m := &fakeMonitors{configs: make(map[string]*model.MonitorConfig)}
	for _, cfg := range configs {
		m.configs[cfg.ID] = cfg
	}
	return m
}

func (m *fakeMonitors) GetMonitor(ctx context.Context, id string) (*model.MonitorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (m *fakeMonitors) ListActive(ctx context.Context) ([]model.MonitorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MonitorConfig
	for _, cfg := range m.configs {
		if cfg.Active {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (m *fakeMonitors) RecordRun(ctx context.Context, id string, stats model.RunStats, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, recordedRun{id: id, stats: stats})
	return nil
}

func (m *fakeMonitors) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

type fakeLeads struct {
	mu        sync.Mutex
	leads     map[string]*model.Lead
	insertErr error
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{leads: make(map[string]*model.Lead)}
}

func (f *fakeLeads) FindByExternalID(ctx context.Context, externalID string) (*model.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[externalID]
	if !ok {
		return nil, nil
	}
	cp := *lead
	return &cp, nil
}

func (f *fakeLeads) Insert(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if _, ok := f.leads[lead.ExternalID]; ok {
		return nil, store.ErrDuplicateLead
	}
	f.leads[lead.ExternalID] = lead
	return lead, nil
}

func (f *fakeLeads) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leads)
}

func (f *fakeLeads) get(id string) *model.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leads[id]
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, board, terms)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []notify.Job
}

func (f *fakeNotifier) Enqueue(job notify.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return true
}

func (f *fakeNotifier) Connected(ctx context.Context) bool { return false }

func (f *fakeNotifier) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// ── Helpers ────────────────────────────────────────────────────────────────

func testMonitor() *model.MonitorConfig {
	cfg := &model.MonitorConfig{
		ID:              "mon-1",
		Name:            "East Mesa & Phoenix",
		Boards:          []string{"phoenix"},
		SearchTerms:     []string{"window"},
		IntervalMinutes: 30,
		Active:          true,
		WebhookURL:      "https://hooks.example/abc",
		WebhookEnabled:  true,
	}
	cfg.Rules = model.ScoringRules{
		Exclusions: []string{"hiring"},
		HighIntent: []string{"who do you recommend"},
		Service:    []string{"window", "gutter"},
		Location:   []string{"phoenix"},
	}
	cfg.Rules.Normalize()
	return cfg
}

func recentPost(id, title, body string, age time.Duration) model.DiscoveredPost {
	return model.DiscoveredPost{
		ExternalID: id,
		Board:      "phoenix",
		Author:     "someone",
		Title:      title,
		Body:       body,
		Permalink:  "https://boards.example/r/phoenix/comments/" + id,
		PostedAt:   time.Now().Add(-age).Unix(),
	}
}

func staticFetcher(posts ...model.DiscoveredPost) *fakeFetcher {
	return &fakeFetcher{fn: func(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error) {
		return posts, nil
	}}
}

func newScheduler(m *fakeMonitors, l *fakeLeads, f *fakeFetcher, n *fakeNotifier, opts ...scheduler.Option) *scheduler.Scheduler {
	base := []scheduler.Option{
		scheduler.WithWarmup(time.Millisecond),
		scheduler.WithBoardDelay(time.Millisecond),
	}
	return scheduler.New(m, l, f, n, 60, append(base, opts...)...)
}

// ── RunMonitor tri-state ───────────────────────────────────────────────────

func TestRunMonitor_NotFound(t *testing.T) {
	s := newScheduler(newFakeMonitors(), newFakeLeads(), staticFetcher(), &fakeNotifier{})
	_, err := s.RunMonitor(context.Background(), "nope")
	if !errors.Is(err, scheduler.ErrMonitorNotFound) {
		t.Errorf("want ErrMonitorNotFound, got %v", err)
	}
}

func TestRunMonitor_Inactive(t *testing.T) {
	cfg := testMonitor()
	cfg.Active = false
	s := newScheduler(newFakeMonitors(cfg), newFakeLeads(), staticFetcher(), &fakeNotifier{})
	_, err := s.RunMonitor(context.Background(), cfg.ID)
	if !errors.Is(err, scheduler.ErrMonitorInactive) {
		t.Errorf("want ErrMonitorInactive, got %v", err)
	}
}

func TestRunMonitor_OverlapRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	cfg := testMonitor()
	s := newScheduler(newFakeMonitors(cfg), newFakeLeads(), fetcher, &fakeNotifier{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.RunMonitor(context.Background(), cfg.ID); err != nil {
			t.Errorf("first run failed: %v", err)
		}
	}()

	<-entered
	_, err := s.RunMonitor(context.Background(), cfg.ID)
	if !errors.Is(err, scheduler.ErrPassInProgress) {
		t.Errorf("concurrent run: want ErrPassInProgress, got %v", err)
	}
	close(release)
	<-done
}

// ── Pipeline scenarios ─────────────────────────────────────────────────────

// Feed XML with one qualifying entry and one excluded entry: A scores
// 30+15+10 = 55 → persisted medium candidate; B contains an exclusion
// keyword and is dropped entirely.
func TestRunMonitor_EndToEndFromFeedXML(t *testing.T) {
	published := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>t3_lead01</id>
    <title>Who do you recommend for window cleaning in Phoenix?</title>
    <content>My panes are filthy</content>
    <link href="https://boards.example/r/phoenix/comments/lead01"/>
    <published>%s</published>
    <author><name>u/happyowner</name></author>
  </entry>
  <entry>
    <id>t3_spam02</id>
    <title>We are hiring window cleaners</title>
    <content>Join our phoenix team</content>
    <link href="https://boards.example/r/phoenix/comments/spam02"/>
    <published>%s</published>
    <author><name>u/recruiter</name></author>
  </entry>
</feed>`, published, published)

	posts, err := feed.NewParser().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse scenario feed: %v", err)
	}

	cfg := testMonitor()
	leads := newFakeLeads()
	notifier := &fakeNotifier{}
	s := newScheduler(newFakeMonitors(cfg), leads, staticFetcher(posts...), notifier)

	stats, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}

	if stats.BoardsScanned != 1 || stats.PostsChecked != 2 || stats.LeadsFound != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 1 board, 2 posts, 1 lead, 0 errors", *stats)
	}
	if leads.count() != 1 {
		t.Fatalf("persisted %d leads, want 1", leads.count())
	}

	lead := leads.get("lead01")
	if lead == nil {
		t.Fatal("entry A was not persisted under its external id")
	}
	if lead.Score != 55 || lead.Priority != model.PriorityMedium {
		t.Errorf("lead score/priority = %d/%s, want 55/medium", lead.Score, lead.Priority)
	}
	if lead.Status != model.StatusNew {
		t.Errorf("new lead status = %s, want NEW", lead.Status)
	}
	if leads.get("spam02") != nil {
		t.Error("excluded entry B must not be persisted")
	}
	if notifier.jobCount() != 1 {
		t.Errorf("notifier got %d jobs, want 1", notifier.jobCount())
	}
}

func TestRunMonitor_DedupSecondIngestion(t *testing.T) {
	cfg := testMonitor()
	leads := newFakeLeads()
	fetcher := staticFetcher(recentPost("dup1", "who do you recommend for window work", "", time.Hour))
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, &fakeNotifier{})

	first, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.LeadsFound != 1 {
		t.Errorf("first run leadsFound = %d, want 1", first.LeadsFound)
	}
	if second.LeadsFound != 0 {
		t.Errorf("second run leadsFound = %d, want 0 (dedup)", second.LeadsFound)
	}
	if leads.count() != 1 {
		t.Errorf("store holds %d leads, want exactly 1", leads.count())
	}
}

func TestRunMonitor_AgeFilterBoundary(t *testing.T) {
	cfg := testMonitor()
	leads := newFakeLeads()
	fetcher := staticFetcher(
		recentPost("fresh", "who do you recommend for window work", "", 47*time.Hour),
		recentPost("stale", "who do you recommend for window work", "", 49*time.Hour),
	)
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, &fakeNotifier{})

	stats, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if stats.LeadsFound != 1 {
		t.Errorf("leadsFound = %d, want 1 (49h-old post dropped)", stats.LeadsFound)
	}
	if leads.get("fresh") == nil || leads.get("stale") != nil {
		t.Error("47h-old post must be kept, 49h-old post must be dropped")
	}
}

func TestRunMonitor_BelowMinScoreDropped(t *testing.T) {
	cfg := testMonitor()
	leads := newFakeLeads()
	// Location only: 10 points, below the default minScore of 30.
	fetcher := staticFetcher(recentPost("weak1", "moving to phoenix soon", "", time.Hour))
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, &fakeNotifier{})

	stats, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if stats.PostsChecked != 1 || stats.LeadsFound != 0 || leads.count() != 0 {
		t.Errorf("low-scoring post must be checked but not persisted: %+v", *stats)
	}
}

func TestRunMonitor_LowPriorityPersistedNotNotified(t *testing.T) {
	cfg := testMonitor()
	leads := newFakeLeads()
	notifier := &fakeNotifier{}
	// Two service terms: 30 points — persisted (>= minScore) but low priority.
	fetcher := staticFetcher(recentPost("low1", "window and gutter cleaning advice", "", time.Hour))
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, notifier)

	if _, err := s.RunMonitor(context.Background(), cfg.ID); err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	lead := leads.get("low1")
	if lead == nil || lead.Priority != model.PriorityLow {
		t.Fatalf("lead = %+v, want persisted low-priority lead", lead)
	}
	if notifier.jobCount() != 0 {
		t.Errorf("low-priority lead enqueued %d notifications, want 0", notifier.jobCount())
	}
}

func TestRunMonitor_FetchErrorCountedOtherBoardsContinue(t *testing.T) {
	cfg := testMonitor()
	cfg.Boards = []string{"alpha", "blocked", "gamma"}
	leads := newFakeLeads()
	fetcher := &fakeFetcher{fn: func(ctx context.Context, board string, terms []string) ([]model.DiscoveredPost, error) {
		if board == "blocked" {
			return nil, &feed.FetchError{Board: board, Kind: feed.KindAccessDenied, Status: 403}
		}
		return []model.DiscoveredPost{
			recentPost(board+"-1", "who do you recommend for window work", "", time.Hour),
		}, nil
	}}
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, &fakeNotifier{})

	stats, err := s.RunMonitor(context.Background(), cfg.ID)
	if err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if stats.BoardsScanned != 3 {
		t.Errorf("boardsScanned = %d, want 3 (denied board still counts)", stats.BoardsScanned)
	}
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if stats.LeadsFound != 2 || leads.count() != 2 {
		t.Errorf("leadsFound = %d (store %d), want 2 from the healthy boards", stats.LeadsFound, leads.count())
	}
}

func TestRunMonitor_PersistenceErrorPropagates(t *testing.T) {
	cfg := testMonitor()
	leads := newFakeLeads()
	leads.insertErr = errors.New("connection reset")
	fetcher := staticFetcher(recentPost("x1", "who do you recommend for window work", "", time.Hour))
	s := newScheduler(newFakeMonitors(cfg), leads, fetcher, &fakeNotifier{})

	_, err := s.RunMonitor(context.Background(), cfg.ID)
	if err == nil || !errors.Is(err, leads.insertErr) {
		t.Errorf("persistence failure must propagate to the caller, got %v", err)
	}
}

func TestRunMonitor_RecordsLifetimeStats(t *testing.T) {
	cfg := testMonitor()
	monitors := newFakeMonitors(cfg)
	fetcher := staticFetcher(recentPost("r1", "who do you recommend for window work", "", time.Hour))
	s := newScheduler(monitors, newFakeLeads(), fetcher, &fakeNotifier{})

	if _, err := s.RunMonitor(context.Background(), cfg.ID); err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if monitors.runCount() != 1 {
		t.Fatalf("recorded %d runs, want 1", monitors.runCount())
	}
	monitors.mu.Lock()
	run := monitors.runs[0]
	monitors.mu.Unlock()
	if run.id != cfg.ID || run.stats.LeadsFound != 1 {
		t.Errorf("recorded run = %+v", run)
	}
}

// ── Timers ─────────────────────────────────────────────────────────────────

func TestStartMonitor_WarmupGatesFirstPass(t *testing.T) {
	cfg := testMonitor()
	fetcher := staticFetcher()
	s := newScheduler(newFakeMonitors(cfg), newFakeLeads(), fetcher, &fakeNotifier{},
		scheduler.WithWarmup(150*time.Millisecond))

	if err := s.StartMonitor(cfg.ID, cfg.IntervalMinutes); err != nil {
		t.Fatalf("StartMonitor: %v", err)
	}
	defer s.StopMonitor(cfg.ID)

	time.Sleep(50 * time.Millisecond)
	if fetcher.callCount() != 0 {
		t.Error("pass executed before the warm-up elapsed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.callCount() == 0 {
		t.Error("first pass did not execute after the warm-up")
	}
}

func TestStartMonitor_Idempotent(t *testing.T) {
	cfg := testMonitor()
	s := newScheduler(newFakeMonitors(cfg), newFakeLeads(), staticFetcher(), &fakeNotifier{},
		scheduler.WithWarmup(time.Hour))
	defer s.StopAll()

	if err := s.StartMonitor(cfg.ID, 30); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.StartMonitor(cfg.ID, 30); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}

	status := s.GetStatus(context.Background())
	if len(status.ActiveMonitorIDs) != 1 || status.ActiveMonitorIDs[0] != cfg.ID {
		t.Errorf("ActiveMonitorIDs = %v, want exactly [%s]", status.ActiveMonitorIDs, cfg.ID)
	}
}

func TestStartMonitor_RejectsBadInterval(t *testing.T) {
	s := newScheduler(newFakeMonitors(), newFakeLeads(), staticFetcher(), &fakeNotifier{})
	if err := s.StartMonitor("m", 0); err == nil {
		t.Error("interval 0 should be rejected")
	}
}

func TestStopMonitor_PreventsFuturePasses(t *testing.T) {
	cfg := testMonitor()
	fetcher := staticFetcher()
	s := newScheduler(newFakeMonitors(cfg), newFakeLeads(), fetcher, &fakeNotifier{},
		scheduler.WithWarmup(100*time.Millisecond))

	if err := s.StartMonitor(cfg.ID, cfg.IntervalMinutes); err != nil {
		t.Fatalf("StartMonitor: %v", err)
	}
	s.StopMonitor(cfg.ID)

	time.Sleep(250 * time.Millisecond)
	if fetcher.callCount() != 0 {
		t.Error("stopped monitor still executed a pass")
	}
	if got := s.GetStatus(context.Background()).ActiveMonitorIDs; len(got) != 0 {
		t.Errorf("ActiveMonitorIDs = %v, want empty after stop", got)
	}
}

func TestStartAllStopAll(t *testing.T) {
	a, b := testMonitor(), testMonitor()
	b.ID = "mon-2"
	inactive := testMonitor()
	inactive.ID = "mon-3"
	inactive.Active = false

	s := newScheduler(newFakeMonitors(a, b, inactive), newFakeLeads(), staticFetcher(), &fakeNotifier{},
		scheduler.WithWarmup(time.Hour))

	if err := s.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if got := s.GetStatus(context.Background()).ActiveMonitorIDs; len(got) != 2 {
		t.Errorf("ActiveMonitorIDs = %v, want the two active monitors", got)
	}

	s.StopAll()
	if got := s.GetStatus(context.Background()).ActiveMonitorIDs; len(got) != 0 {
		t.Errorf("ActiveMonitorIDs = %v, want empty after StopAll", got)
	}
}

func TestGetStatus_Initialized(t *testing.T) {
	s := newScheduler(newFakeMonitors(), newFakeLeads(), staticFetcher(), &fakeNotifier{})
	if s.GetStatus(context.Background()).Initialized {
		t.Error("Initialized must be false before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if !s.GetStatus(context.Background()).Initialized {
		t.Error("Initialized must be true after Start")
	}
}
