// Package store persists leads, customers and monitor configurations.
package store

import (
	"context"
	"errors"
	"time"

	"leadflow/discovery-service/internal/model"
)

var (
	// ErrLeadNotFound is returned when no lead exists for the given id.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrDuplicateLead is returned by Insert when the external id already
	// exists. Callers treat it as a dedup reject, not a failure.
	ErrDuplicateLead = errors.New("lead already exists")
	// ErrAlreadyConverted is returned when converting a converted lead.
	ErrAlreadyConverted = errors.New("lead already converted")
	// ErrInvalidTransition is returned when a status change violates the
	// lead lifecycle state machine.
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// LeadStore is the persistence collaborator the engine requires. Lookups for
// absent monitors return (nil, nil); lead mutations use sentinel errors.
type LeadStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.Lead, error)
	Insert(ctx context.Context, lead *model.Lead) (*model.Lead, error)
	MarkNotified(ctx context.Context, externalID string, at time.Time) error
	UpdateStatus(ctx context.Context, externalID string, to model.Status) (*model.Lead, error)
	ConvertToCustomer(ctx context.Context, externalID string) (*model.Customer, error)
	ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, error)
}

// MonitorStore loads and mutates monitor configurations.
type MonitorStore interface {
	CreateMonitor(ctx context.Context, cfg *model.MonitorConfig) (*model.MonitorConfig, error)
	GetMonitor(ctx context.Context, id string) (*model.MonitorConfig, error)
	ListActive(ctx context.Context) ([]model.MonitorConfig, error)
	UpdateRules(ctx context.Context, id string, rules model.ScoringRules) error
	RecordRun(ctx context.Context, id string, stats model.RunStats, at time.Time) error
}
