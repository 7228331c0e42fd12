package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow/discovery-service/internal/model"
)

// PostgresStore implements LeadStore and MonitorStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const leadColumns = `external_id, monitor_id, board, author, title, excerpt, permalink,
	score, priority, matched_high_intent, matched_service, matched_location,
	status, posted_at, discovered_at, notified_at`

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var priority, status string
	err := row.Scan(
		&l.ExternalID, &l.MonitorID, &l.Board, &l.Author, &l.Title, &l.Excerpt, &l.Permalink,
		&l.Score, &priority, &l.MatchedHighIntent, &l.MatchedService, &l.MatchedLocation,
		&status, &l.PostedAt, &l.DiscoveredAt, &l.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Priority = model.Priority(priority)
	l.Status = model.Status(status)
	return &l, nil
}

// ─── LeadStore ───────────────────────────────────────────────────────────────

// FindByExternalID returns the lead with the given external post id, or
// (nil, nil) when it does not exist.
func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*model.Lead, error) {
	lead, err := scanLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findByExternalID: %w", err)
	}
	return lead, nil
}

// Insert persists a new lead. The external id is the primary key, so a
// concurrent duplicate surfaces as ErrDuplicateLead rather than a second row.
func (s *PostgresStore) Insert(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (external_id) DO NOTHING`,
		lead.ExternalID, lead.MonitorID, lead.Board, lead.Author, lead.Title, lead.Excerpt,
		lead.Permalink, lead.Score, string(lead.Priority),
		lead.MatchedHighIntent, lead.MatchedService, lead.MatchedLocation,
		string(lead.Status), lead.PostedAt, lead.DiscoveredAt, lead.NotifiedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicateLead
	}
	return lead, nil
}

// MarkNotified stamps the notified-at timestamp on an already persisted lead.
func (s *PostgresStore) MarkNotified(ctx context.Context, externalID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET notified_at = $1 WHERE external_id = $2`, at, externalID)
	if err != nil {
		return fmt.Errorf("markNotified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// UpdateStatus transitions a lead to a new lifecycle status, enforcing the
// state machine.
func (s *PostgresStore) UpdateStatus(ctx context.Context, externalID string, to model.Status) (*model.Lead, error) {
	var currentStr string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM leads WHERE external_id = $1`, externalID).Scan(&currentStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updateStatus select: %w", err)
	}

	current, err := model.ParseStatus(currentStr)
	if err != nil {
		return nil, fmt.Errorf("updateStatus: %w", err)
	}
	if !model.IsTransitionAllowed(current, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, to)
	}

	lead, err := scanLead(s.pool.QueryRow(ctx,
		`UPDATE leads SET status = $1 WHERE external_id = $2 RETURNING `+leadColumns,
		string(to), externalID))
	if err != nil {
		return nil, fmt.Errorf("updateStatus update: %w", err)
	}
	return lead, nil
}

// ConvertToCustomer creates a customer record from a lead and flips its
// status to CONVERTED in one transaction. Converting twice fails with
// ErrAlreadyConverted; a dismissed lead cannot be converted.
func (s *PostgresStore) ConvertToCustomer(ctx context.Context, externalID string) (*model.Customer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStr, author, board string
	err = tx.QueryRow(ctx,
		`SELECT status, author, board FROM leads WHERE external_id = $1 FOR UPDATE`,
		externalID).Scan(&currentStr, &author, &board)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convert select: %w", err)
	}

	current, err := model.ParseStatus(currentStr)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if current == model.StatusConverted {
		return nil, ErrAlreadyConverted
	}
	if !model.IsTransitionAllowed(current, model.StatusConverted) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, model.StatusConverted)
	}

	customer := &model.Customer{
		ID:             uuid.NewString(),
		LeadExternalID: externalID,
		Name:           author,
		Source:         board,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO customers (id, lead_external_id, name, source)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		customer.ID, customer.LeadExternalID, customer.Name, customer.Source,
	).Scan(&customer.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("convert insert customer: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $1 WHERE external_id = $2`,
		string(model.StatusConverted), externalID); err != nil {
		return nil, fmt.Errorf("convert update lead: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convert commit: %w", err)
	}
	return customer, nil
}

// ListLeads returns leads newest-first with limit/offset pagination.
func (s *PostgresStore) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads ORDER BY discovered_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listLeads: %w", err)
	}
	defer rows.Close()

	leads := make([]model.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("listLeads scan: %w", err)
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// ─── MonitorStore ────────────────────────────────────────────────────────────

const monitorColumns = `id, name, boards, search_terms, rules, interval_minutes, active,
	webhook_url, webhook_enabled, pubsub_enabled,
	total_leads_found, total_posts_checked, last_run_at, last_run_stats`

func scanMonitor(row pgx.Row) (*model.MonitorConfig, error) {
	var m model.MonitorConfig
	var rulesJSON []byte
	var statsJSON []byte
	err := row.Scan(
		&m.ID, &m.Name, &m.Boards, &m.SearchTerms, &rulesJSON, &m.IntervalMinutes, &m.Active,
		&m.WebhookURL, &m.WebhookEnabled, &m.PubSubEnabled,
		&m.TotalLeadsFound, &m.TotalPostsChecked, &m.LastRunAt, &statsJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &m.Rules); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
	}
	if len(statsJSON) > 0 {
		var stats model.RunStats
		if err := json.Unmarshal(statsJSON, &stats); err != nil {
			return nil, fmt.Errorf("decode last_run_stats: %w", err)
		}
		m.LastRunStats = &stats
	}
	m.Rules.Normalize()
	return &m, nil
}

// CreateMonitor inserts a new monitoring job, minting an id when the caller
// left it empty. Rules are normalized and validated before the write.
func (s *PostgresStore) CreateMonitor(ctx context.Context, cfg *model.MonitorConfig) (*model.MonitorConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.Rules.Normalize()
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("createMonitor: %w", err)
	}

	rulesJSON, err := json.Marshal(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("createMonitor encode rules: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO monitors (id, name, boards, search_terms, rules, interval_minutes, active,
		                       webhook_url, webhook_enabled, pubsub_enabled)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)`,
		cfg.ID, cfg.Name, cfg.Boards, cfg.SearchTerms, rulesJSON, cfg.IntervalMinutes,
		cfg.Active, cfg.WebhookURL, cfg.WebhookEnabled, cfg.PubSubEnabled,
	)
	if err != nil {
		return nil, fmt.Errorf("createMonitor insert: %w", err)
	}
	return cfg, nil
}

// GetMonitor returns the monitor with the given id, or (nil, nil) when it
// does not exist.
func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*model.MonitorConfig, error) {
	m, err := scanMonitor(s.pool.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getMonitor: %w", err)
	}
	return m, nil
}

// ListActive returns every monitor with active = true.
func (s *PostgresStore) ListActive(ctx context.Context) ([]model.MonitorConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("listActive: %w", err)
	}
	defer rows.Close()

	var monitors []model.MonitorConfig
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("listActive scan: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// UpdateRules replaces a monitor's keyword model after validation.
func (s *PostgresStore) UpdateRules(ctx context.Context, id string, rules model.ScoringRules) error {
	rules.Normalize()
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("updateRules: %w", err)
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("updateRules encode: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE monitors SET rules = $1::jsonb WHERE id = $2`, rulesJSON, id)
	if err != nil {
		return fmt.Errorf("updateRules update: %w", err)
	}
	return nil
}

// RecordRun folds one pass's stats into the monitor's lifetime counters and
// stores the run snapshot.
func (s *PostgresStore) RecordRun(ctx context.Context, id string, stats model.RunStats, at time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("recordRun encode: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE monitors
		 SET total_leads_found   = total_leads_found + $1,
		     total_posts_checked = total_posts_checked + $2,
		     last_run_at         = $3,
		     last_run_stats      = $4::jsonb
		 WHERE id = $5`,
		stats.LeadsFound, stats.PostsChecked, at, statsJSON, id,
	)
	if err != nil {
		return fmt.Errorf("recordRun update: %w", err)
	}
	return nil
}
