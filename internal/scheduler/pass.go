package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/notify"
	"leadflow/discovery-service/internal/scoring"
	"leadflow/discovery-service/internal/store"
)

// runPass executes one full discovery pass for cfg: iterate boards
// sequentially with a fixed inter-board delay, fetch → score → filter →
// persist → notify, accumulating RunStats. Fetch failures are counted and
// the remaining boards still run; a persistence failure aborts the pass and
// propagates, since a silently lost lead is a correctness issue.
func (s *Scheduler) runPass(ctx context.Context, cfg *model.MonitorConfig) (model.RunStats, error) {
	var stats model.RunStats
	slog.Info("pass started", "monitor", cfg.ID, "boards", len(cfg.Boards))

	for i, board := range cfg.Boards {
		if i > 0 {
			// Boards are polled strictly one at a time with a pause in
			// between to respect the source's per-client rate limits.
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(s.boardDelay):
			}
		}

		stats.BoardsScanned++
		posts, err := s.fetcher.Fetch(ctx, board, cfg.SearchTerms)
		if err != nil {
			stats.Errors++
			slog.Warn("board fetch failed", "monitor", cfg.ID, "board", board, "error", err)
			continue
		}

		for _, post := range posts {
			stats.PostsChecked++
			lead, err := s.ingest(ctx, cfg, post)
			if err != nil {
				return stats, fmt.Errorf("persist lead %s: %w", post.ExternalID, err)
			}
			if lead == nil {
				continue
			}
			stats.LeadsFound++
			s.notifyLead(lead, cfg)
		}
	}

	slog.Info("pass complete", "monitor", cfg.ID,
		"boards", stats.BoardsScanned, "posts", stats.PostsChecked,
		"leads", stats.LeadsFound, "errors", stats.Errors)
	return stats, nil
}

// ingest runs one post through scoring, the age filter and dedup, persisting
// it when it qualifies. Returns (nil, nil) for any rejected post.
func (s *Scheduler) ingest(ctx context.Context, cfg *model.MonitorConfig, post model.DiscoveredPost) (*model.Lead, error) {
	res := scoring.Score(post, cfg.Rules)
	if res.Excluded {
		slog.Debug("post excluded", "post", post.ExternalID, "term", res.ExclusionTerm)
		return nil, nil
	}
	// A missing creation timestamp parses as epoch zero and falls out here
	// with everything else older than the window.
	if time.Since(time.Unix(post.PostedAt, 0)) > cfg.Rules.MaxAge() {
		return nil, nil
	}
	if res.Score < cfg.Rules.MinScore {
		return nil, nil
	}

	if s.seen != nil && s.seen.Seen(ctx, post.ExternalID) {
		return nil, nil
	}
	existing, err := s.leads.FindByExternalID(ctx, post.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if s.seen != nil {
			s.seen.Remember(ctx, post.ExternalID)
		}
		return nil, nil
	}

	lead := &model.Lead{
		ExternalID:        post.ExternalID,
		MonitorID:         cfg.ID,
		Board:             post.Board,
		Author:            post.Author,
		Title:             post.Title,
		Excerpt:           post.Body,
		Permalink:         post.Permalink,
		Score:             res.Score,
		Priority:          res.Priority,
		MatchedHighIntent: res.HighIntent,
		MatchedService:    res.Service,
		MatchedLocation:   res.Location,
		Status:            model.StatusNew,
		PostedAt:          post.PostedAt,
		DiscoveredAt:      time.Now().UTC(),
	}

	inserted, err := s.leads.Insert(ctx, lead)
	if errors.Is(err, store.ErrDuplicateLead) {
		// Lost an insert race with another pass; same outcome as the dedup
		// lookup.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.seen != nil {
		s.seen.Remember(ctx, post.ExternalID)
	}
	return inserted, nil
}

// notifyLead queues an alert for a newly persisted medium/high lead when the
// monitor has a notification channel enabled.
func (s *Scheduler) notifyLead(lead *model.Lead, cfg *model.MonitorConfig) {
	if !lead.Priority.Notifiable() {
		return
	}

	webhookURL := ""
	if cfg.WebhookEnabled {
		webhookURL = cfg.WebhookURL
	}
	if webhookURL == "" && !cfg.PubSubEnabled {
		return
	}

	payload, err := json.Marshal(lead)
	if err != nil {
		slog.Error("encode lead event failed", "lead", lead.ExternalID, "error", err)
		return
	}

	s.notifier.Enqueue(notify.Job{
		Lead:        payload,
		ExternalID:  lead.ExternalID,
		MonitorName: cfg.Name,
		Message:     notify.BuildMessage(lead, cfg.Name),
		WebhookURL:  webhookURL,
		PubSub:      cfg.PubSubEnabled,
	})
}
