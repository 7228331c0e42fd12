// Package notify fans out alerts for qualifying leads: a JSON webhook POST
// and an optional Redis pub/sub event for real-time subscribers.
//
// Sends go through a bounded in-process queue with a single worker so a slow
// or failing webhook can never stall a scheduler pass. Notification failure
// is logged and dropped — the lead record is already persisted and is never
// rolled back or reprocessed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventLeadFound is the pub/sub channel carrying the full lead payload.
const EventLeadFound = "EVENT_LEAD_FOUND"

const (
	queueCapacity  = 64
	webhookTimeout = 10 * time.Second
)

// NotifiedMarker stamps the notified-at timestamp after a successful send.
type NotifiedMarker interface {
	MarkNotified(ctx context.Context, externalID string, at time.Time) error
}

// Job is one queued alert.
type Job struct {
	Lead        json.RawMessage // full lead payload for pub/sub
	ExternalID  string
	MonitorName string
	Message     Message
	WebhookURL  string // empty disables the webhook send
	PubSub      bool
}

// Dispatcher owns the notification queue and worker.
type Dispatcher struct {
	store  NotifiedMarker
	rdb    *redis.Client // nil disables pub/sub
	client *http.Client

	queue chan Job
	wg    sync.WaitGroup
	once  sync.Once
}

// NewDispatcher constructs a Dispatcher. rdb may be nil when pub/sub is not
// configured.
func NewDispatcher(store NotifiedMarker, rdb *redis.Client) *Dispatcher {
	return &Dispatcher{
		store:  store,
		rdb:    rdb,
		client: &http.Client{Timeout: webhookTimeout},
		queue:  make(chan Job, queueCapacity),
	}
}

// Start launches the worker goroutine. Idempotent.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		d.wg.Add(1)
		go d.worker()
	})
}

// Close stops accepting jobs and drains the queue.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

// Enqueue hands a job to the worker without blocking. When the queue is full
// the job is dropped and logged; returns false in that case.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.queue <- job:
		return true
	default:
		slog.Warn("notification queue full, dropping alert", "lead", job.ExternalID)
		return false
	}
}

// Connected reports whether the pub/sub backend is reachable.
func (d *Dispatcher) Connected(ctx context.Context) bool {
	if d.rdb == nil {
		return false
	}
	return d.rdb.Ping(ctx).Err() == nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		d.send(ctx, job)
		cancel()
	}
}

// send publishes the pub/sub event and posts the webhook. The two are
// independent: a webhook failure never suppresses the event and vice versa.
func (d *Dispatcher) send(ctx context.Context, job Job) {
	if job.PubSub && d.rdb != nil {
		if err := d.rdb.Publish(ctx, EventLeadFound, []byte(job.Lead)).Err(); err != nil {
			slog.Warn("publish lead event failed", "lead", job.ExternalID, "error", err)
		}
	}

	if job.WebhookURL == "" {
		return
	}

	if err := d.postWebhook(ctx, job); err != nil {
		slog.Warn("webhook send failed", "lead", job.ExternalID, "error", err)
		return
	}

	if err := d.store.MarkNotified(ctx, job.ExternalID, time.Now().UTC()); err != nil {
		slog.Warn("markNotified failed", "lead", job.ExternalID, "error", err)
	}
}

func (d *Dispatcher) postWebhook(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job.Message)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &WebhookError{Status: resp.StatusCode}
	}
	return nil
}

// WebhookError reports a non-2xx webhook response.
type WebhookError struct {
	Status int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Status)
}
