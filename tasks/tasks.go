package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tryonapi/models"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	TypeAnalyticsEvent = "analytics:event"
	TypeFailureDigest  = "alerts:digest"

	QueueAnalytics = "analytics"
	QueueAlerts    = "alerts"
)

type AnalyticsEventPayload struct {
	Event models.AnalyticsEvent `json:"event"`
}

// EventSender delivers one analytics event, e.g. services.BeaconSender.
type EventSender interface {
	Send(ctx context.Context, event models.AnalyticsEvent) error
}

// Notifier pushes a short operator alert, e.g. telegram.Notifier.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

func NewAnalyticsEventTask(event models.AnalyticsEvent) (*asynq.Task, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(AnalyticsEventPayload{Event: event})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAnalyticsEvent, payload), nil
}

func NewFailureDigestTask() *asynq.Task {
	return asynq.NewTask(TypeFailureDigest, []byte{})
}

// Enqueuer is the part of *asynq.Client the tracker needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueTracker hands analytics events to the worker instead of sending them
// from the request path. Each enqueue runs in its own goroutine; failures are
// logged and dropped.
type QueueTracker struct {
	Client Enqueuer
	// Done, if set, is called after each enqueue attempt.
	Done   func(err error)
}

func (t *QueueTracker) Track(ctx context.Context, event models.AnalyticsEvent) {
	task, err := NewAnalyticsEventTask(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Name).Msg("failed to build analytics task")
		return
	}
	go func() {
		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_, err := t.Client.EnqueueContext(enqueueCtx, task,
			asynq.Queue(QueueAnalytics),
			asynq.MaxRetry(3),
			asynq.Timeout(30*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("event", event.Name).Msg("failed to enqueue analytics event")
		}
		if t.Done != nil {
			t.Done(err)
		}
	}()
}

// FailureDigest counts failed try-ons by kind between two digests. Events are
// counted once per ID, so a redelivered task does not inflate the counts.
type FailureDigest struct {
	mu     sync.Mutex
	window digestWindow

	// seen holds the IDs of the current and the previous window.
	seen, prevSeen map[string]bool
}

type digestWindow struct {
	since  time.Time
	counts map[models.ErrorKind]int
}

func NewFailureDigest() *FailureDigest {
	return &FailureDigest{
		window:   digestWindow{since: time.Now(), counts: map[models.ErrorKind]int{}},
		seen:     map[string]bool{},
		prevSeen: map[string]bool{},
	}
}

// Add counts one failure. Events with an ID already counted are ignored.
func (d *FailureDigest) Add(id string, kind models.ErrorKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id != "" {
		if d.seen[id] || d.prevSeen[id] {
			return
		}
		d.seen[id] = true
	}
	d.window.counts[kind]++
}

func (d *FailureDigest) take(now time.Time) digestWindow {
	d.mu.Lock()
	defer d.mu.Unlock()
	taken := d.window
	d.window = digestWindow{since: now, counts: map[models.ErrorKind]int{}}
	d.prevSeen, d.seen = d.seen, map[string]bool{}
	return taken
}

// putBack merges a window that could not be delivered into the current one.
func (d *FailureDigest) putBack(w digestWindow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kind, n := range w.counts {
		d.window.counts[kind] += n
	}
	if w.since.Before(d.window.since) {
		d.window.since = w.since
	}
}

func (w digestWindow) String() string {
	if len(w.counts) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(w.counts))
	total := 0
	for kind, n := range w.counts {
		kinds = append(kinds, string(kind))
		total += n
	}
	sort.Strings(kinds)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d try-on failures since %s\n", total, w.since.UTC().Format(time.RFC3339))
	for _, kind := range kinds {
		fmt.Fprintf(&sb, "%s: %d\n", kind, w.counts[models.ErrorKind(kind)])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Flush returns the summary text and resets the counters. The text is empty
// when nothing failed.
func (d *FailureDigest) Flush(now time.Time) string {
	return d.take(now).String()
}

func HandleAnalyticsEventTask(ctx context.Context, t *asynq.Task, sender EventSender, digest *FailureDigest) error {
	var payload AnalyticsEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Malformed payloads never succeed on retry.
		return fmt.Errorf("invalid analytics payload: %v: %w", err, asynq.SkipRetry)
	}
	event := payload.Event
	if event.Name == models.EventTryOnFailed && digest != nil {
		digest.Add(event.ID, models.ParseErrorKind(event.Props["kind"]))
	}
	if sender == nil {
		return nil
	}
	if err := sender.Send(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.Name).Msg("failed to deliver analytics event")
		return err
	}
	log.Debug().Str("event", event.Name).Msg("analytics event delivered")
	return nil
}

// HandleFailureDigestTask sends the digest of the past window. When the
// notifier fails the counts are kept for the next attempt.
func HandleFailureDigestTask(ctx context.Context, t *asynq.Task, digest *FailureDigest, notifier Notifier) error {
	window := digest.take(time.Now())
	text := window.String()
	if text == "" {
		return nil
	}
	log.Info().Str("digest", text).Msg("try-on failure digest")
	if notifier == nil {
		return nil
	}
	if err := notifier.Notify(ctx, text); err != nil {
		digest.putBack(window)
		sentry.CaptureException(err)
		return fmt.Errorf("failed to send failure digest: %w", err)
	}
	return nil
}
