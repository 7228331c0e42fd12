// Package model defines shared data structures for the discovery service.
package model

import (
	"errors"
	"time"
)

// Validation failures for ScoringRules.
var (
	ErrNegativeWeight = errors.New("category weights must not be negative")
	ErrThresholdOrder = errors.New("medium threshold must not exceed high threshold")
	ErrInvalidLimit   = errors.New("minScore must be >= 0 and maxAgeHours >= 1")
)

// Priority is the derived classification of a scored post.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Notifiable reports whether leads of this priority are worth alerting on.
// Low-priority leads are persisted but never notified.
func (p Priority) Notifiable() bool {
	return p == PriorityHigh || p == PriorityMedium
}

// Weights holds the per-category point values added for each matched term.
type Weights struct {
	HighIntent int `json:"highIntent"`
	Service    int `json:"service"`
	Location   int `json:"location"`
}

// Thresholds holds the inclusive score cut-offs for priority derivation.
type Thresholds struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
}

// Default scoring parameters, applied by ScoringRules.Normalize when a
// monitor's stored configuration leaves a field unset.
const (
	DefaultHighIntentWeight = 30
	DefaultServiceWeight    = 15
	DefaultLocationWeight   = 10
	DefaultHighThreshold    = 60
	DefaultMediumThreshold  = 40
	DefaultMinScore         = 30
	DefaultMaxAgeHours      = 48
)

// ScoringRules is the validated keyword model of a monitor: four keyword
// categories plus the weight/threshold configuration the scoring engine
// evaluates posts against.
type ScoringRules struct {
	Exclusions  []string   `json:"exclusions"`
	HighIntent  []string   `json:"highIntent"`
	Service     []string   `json:"service"`
	Location    []string   `json:"location"`
	Weights     Weights    `json:"weights"`
	Thresholds  Thresholds `json:"thresholds"`
	MinScore    int        `json:"minScore"`
	MaxAgeHours int        `json:"maxAgeHours"`
}

// Normalize fills every unset numeric field with its default. Stored monitor
// rows routinely carry zeroes for columns added after the row was created, so
// defaults are applied once here instead of ad hoc at each use site.
func (r *ScoringRules) Normalize() {
	if r.Weights.HighIntent == 0 {
		r.Weights.HighIntent = DefaultHighIntentWeight
	}
	if r.Weights.Service == 0 {
		r.Weights.Service = DefaultServiceWeight
	}
	if r.Weights.Location == 0 {
		r.Weights.Location = DefaultLocationWeight
	}
	if r.Thresholds.High == 0 {
		r.Thresholds.High = DefaultHighThreshold
	}
	if r.Thresholds.Medium == 0 {
		r.Thresholds.Medium = DefaultMediumThreshold
	}
	if r.MinScore == 0 {
		r.MinScore = DefaultMinScore
	}
	if r.MaxAgeHours == 0 {
		r.MaxAgeHours = DefaultMaxAgeHours
	}
}

// Validate rejects rule sets that would make scoring meaningless. Call after
// Normalize.
func (r ScoringRules) Validate() error {
	if r.Weights.HighIntent < 0 || r.Weights.Service < 0 || r.Weights.Location < 0 {
		return ErrNegativeWeight
	}
	if r.Thresholds.Medium > r.Thresholds.High {
		return ErrThresholdOrder
	}
	if r.MinScore < 0 || r.MaxAgeHours < 1 {
		return ErrInvalidLimit
	}
	return nil
}

// MaxAge returns the age filter window as a duration.
func (r ScoringRules) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeHours) * time.Hour
}

// MonitorConfig is one named monitoring job: which boards to poll, what to
// search for, how to score, how often to run, and where to send alerts.
// Lifetime counters are updated by the scheduler after every pass.
type MonitorConfig struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Boards          []string     `json:"boards"`
	SearchTerms     []string     `json:"searchTerms"`
	Rules           ScoringRules `json:"rules"`
	IntervalMinutes int          `json:"intervalMinutes"`
	Active          bool         `json:"active"`
	WebhookURL      string       `json:"webhookUrl"`
	WebhookEnabled  bool         `json:"webhookEnabled"`
	PubSubEnabled   bool         `json:"pubsubEnabled"`

	TotalLeadsFound   int64      `json:"totalLeadsFound"`
	TotalPostsChecked int64      `json:"totalPostsChecked"`
	LastRunAt         *time.Time `json:"lastRunAt,omitempty"`
	LastRunStats      *RunStats  `json:"lastRunStats,omitempty"`
}

// DiscoveredPost is a single feed entry in flight through the pipeline. It is
// discarded unless it survives exclusion, age and score filtering.
type DiscoveredPost struct {
	ExternalID string
	Permalink  string
	Board      string
	Author     string
	Title      string
	Body       string
	PostedAt   int64 // unix seconds
}

// Lead is a persisted qualifying post. Identity is the external post id,
// globally unique across the store.
type Lead struct {
	ExternalID string   `json:"externalId"`
	MonitorID  string   `json:"monitorId"`
	Board      string   `json:"board"`
	Author     string   `json:"author"`
	Title      string   `json:"title"`
	Excerpt    string   `json:"excerpt"`
	Permalink  string   `json:"permalink"`
	Score      int      `json:"score"`
	Priority   Priority `json:"priority"`

	MatchedHighIntent []string `json:"matchedHighIntent,omitempty"`
	MatchedService    []string `json:"matchedService,omitempty"`
	MatchedLocation   []string `json:"matchedLocation,omitempty"`

	Status       Status     `json:"status"`
	PostedAt     int64      `json:"postedAt"`
	DiscoveredAt time.Time  `json:"discoveredAt"`
	NotifiedAt   *time.Time `json:"notifiedAt,omitempty"`
}

// Customer is the CRM record produced by converting a lead.
type Customer struct {
	ID             string    `json:"id"`
	LeadExternalID string    `json:"leadExternalId"`
	Name           string    `json:"name"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RunStats accumulates counters for one scheduler pass. It is folded into the
// monitor's lifetime totals at pass completion and not persisted on its own.
type RunStats struct {
	BoardsScanned int `json:"boardsScanned"`
	PostsChecked  int `json:"postsChecked"`
	LeadsFound    int `json:"leadsFound"`
	Errors        int `json:"errors"`
}

// ApplyRun folds one pass's stats into the monitor's lifetime counters and
// records the run snapshot.
func (m *MonitorConfig) ApplyRun(stats RunStats, at time.Time) {
	m.TotalLeadsFound += int64(stats.LeadsFound)
	m.TotalPostsChecked += int64(stats.PostsChecked)
	m.LastRunAt = &at
	snapshot := stats
	m.LastRunStats = &snapshot
}
