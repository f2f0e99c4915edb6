package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tryonapi/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type senderMock struct {
	events []models.AnalyticsEvent
	err    error
}

func (s *senderMock) Send(ctx context.Context, event models.AnalyticsEvent) error {
	s.events = append(s.events, event)
	return s.err
}

type notifierMock struct {
	messages []string
	// failures is the number of calls that fail before Notify succeeds.
	failures int
}

func (n *notifierMock) Notify(ctx context.Context, text string) error {
	if n.failures > 0 {
		n.failures--
		return errors.New("telegram: 502 bad gateway")
	}
	n.messages = append(n.messages, text)
	return nil
}

type enqueuerMock struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error

	// release, if set, blocks every enqueue until it is closed.
	release chan struct{}
}

func (e *enqueuerMock) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.release != nil {
		<-e.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func trackAndWait(t *testing.T, tracker *QueueTracker, event models.AnalyticsEvent) error {
	done := make(chan error, 1)
	tracker.Done = func(err error) { done <- err }
	tracker.Track(context.Background(), event)
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue did not finish")
		return nil
	}
}

func TestQueueTrackerEnqueuesEvent(t *testing.T) {
	client := &enqueuerMock{}
	tracker := &QueueTracker{Client: client}

	err := trackAndWait(t, tracker, models.NewAnalyticsEvent(models.EventTryOnGenerated, map[string]string{"image_count": "2"}))
	require.NoError(t, err)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeAnalyticsEvent, client.tasks[0].Type())

	sender := &senderMock{}
	require.NoError(t, HandleAnalyticsEventTask(context.Background(), client.tasks[0], sender, nil))
	require.Len(t, sender.events, 1)
	assert.Equal(t, models.EventTryOnGenerated, sender.events[0].Name)
	assert.Equal(t, "2", sender.events[0].Props["image_count"])
	assert.NotEmpty(t, sender.events[0].ID)
}

func TestQueueTrackerDoesNotWaitForEnqueue(t *testing.T) {
	client := &enqueuerMock{release: make(chan struct{})}
	done := make(chan error, 1)
	tracker := &QueueTracker{Client: client, Done: func(err error) { done <- err }}

	returned := make(chan struct{})
	go func() {
		tracker.Track(context.Background(), models.NewAnalyticsEvent(models.EventTryOnGenerated, nil))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Track blocked on a stalled queue")
	}

	close(client.release)
	require.NoError(t, <-done)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.tasks, 1)
}

func TestQueueTrackerEnqueuesAfterRequestContextEnds(t *testing.T) {
	client := &enqueuerMock{release: make(chan struct{})}
	done := make(chan error, 1)
	tracker := &QueueTracker{Client: client, Done: func(err error) { done <- err }}

	ctx, cancel := context.WithCancel(context.Background())
	tracker.Track(ctx, models.NewAnalyticsEvent(models.EventTryOnFailed, nil))
	cancel()
	close(client.release)

	require.NoError(t, <-done)
}

func TestQueueTrackerSwallowsEnqueueErrors(t *testing.T) {
	client := &enqueuerMock{err: errors.New("redis down")}
	tracker := &QueueTracker{Client: client}

	var err error
	assert.NotPanics(t, func() {
		err = trackAndWait(t, tracker, models.NewAnalyticsEvent(models.EventTryOnFailed, nil))
	})
	assert.EqualError(t, err, "redis down")
}

func TestHandleAnalyticsEventTaskRejectsBadPayload(t *testing.T) {
	err := HandleAnalyticsEventTask(context.Background(), asynq.NewTask(TypeAnalyticsEvent, []byte("{")), &senderMock{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleAnalyticsEventTaskReturnsSendError(t *testing.T) {
	task, err := NewAnalyticsEventTask(models.NewAnalyticsEvent(models.EventTryOnInteraction, nil))
	require.NoError(t, err)

	err = HandleAnalyticsEventTask(context.Background(), task, &senderMock{err: errors.New("503")}, nil)
	assert.Error(t, err)
}

func TestFailureDigest(t *testing.T) {
	digest := NewFailureDigest()
	for _, kind := range []string{"upstream_timeout", "upstream_timeout", "quota_exceeded"} {
		task, err := NewAnalyticsEventTask(models.NewAnalyticsEvent(models.EventTryOnFailed, map[string]string{"kind": kind}))
		require.NoError(t, err)
		require.NoError(t, HandleAnalyticsEventTask(context.Background(), task, nil, digest))
	}

	notifier := &notifierMock{}
	require.NoError(t, HandleFailureDigestTask(context.Background(), NewFailureDigestTask(), digest, notifier))
	require.Len(t, notifier.messages, 1)
	lines := strings.Split(notifier.messages[0], "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "3 try-on failures since"))
	assert.Equal(t, "quota_exceeded: 1", lines[1])
	assert.Equal(t, "upstream_timeout: 2", lines[2])

	require.NoError(t, HandleFailureDigestTask(context.Background(), NewFailureDigestTask(), digest, notifier))
	assert.Len(t, notifier.messages, 1)
	assert.Empty(t, digest.Flush(time.Now()))
}

func TestFailureDigestCountsRedeliveredEventOnce(t *testing.T) {
	digest := NewFailureDigest()
	task, err := NewAnalyticsEventTask(models.NewAnalyticsEvent(models.EventTryOnFailed, map[string]string{"kind": "upstream_timeout"}))
	require.NoError(t, err)

	sender := &senderMock{err: errors.New("503")}
	// First delivery plus the three retries a failing send gets.
	for i := 0; i < 4; i++ {
		assert.Error(t, HandleAnalyticsEventTask(context.Background(), task, sender, digest))
	}
	assert.Len(t, sender.events, 4)

	text := digest.Flush(time.Now())
	assert.True(t, strings.HasPrefix(text, "1 try-on failures since"), text)
	assert.Contains(t, text, "upstream_timeout: 1")

	// A retry landing after the flush is still recognised.
	assert.Error(t, HandleAnalyticsEventTask(context.Background(), task, sender, digest))
	assert.Empty(t, digest.Flush(time.Now()))
}

func TestFailureDigestCountsDistinctEvents(t *testing.T) {
	digest := NewFailureDigest()
	digest.Add("a", models.KindUpstreamTimeout)
	digest.Add("b", models.KindUpstreamTimeout)
	digest.Add("", models.KindUpstreamTimeout)
	digest.Add("", models.KindUpstreamTimeout)

	assert.Contains(t, digest.Flush(time.Now()), "upstream_timeout: 4")
}

func TestFailureDigestKeptWhenNotifyFails(t *testing.T) {
	digest := NewFailureDigest()
	for _, kind := range []string{"upstream_timeout", "quota_exceeded"} {
		task, err := NewAnalyticsEventTask(models.NewAnalyticsEvent(models.EventTryOnFailed, map[string]string{"kind": kind}))
		require.NoError(t, err)
		require.NoError(t, HandleAnalyticsEventTask(context.Background(), task, nil, digest))
	}

	notifier := &notifierMock{failures: 1}
	assert.Error(t, HandleFailureDigestTask(context.Background(), NewFailureDigestTask(), digest, notifier))
	assert.Empty(t, notifier.messages)

	task, err := NewAnalyticsEventTask(models.NewAnalyticsEvent(models.EventTryOnFailed, map[string]string{"kind": "upstream_timeout"}))
	require.NoError(t, err)
	require.NoError(t, HandleAnalyticsEventTask(context.Background(), task, nil, digest))

	require.NoError(t, HandleFailureDigestTask(context.Background(), NewFailureDigestTask(), digest, notifier))
	require.Len(t, notifier.messages, 1)
	lines := strings.Split(notifier.messages[0], "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "3 try-on failures since"), lines[0])
	assert.Equal(t, "quota_exceeded: 1", lines[1])
	assert.Equal(t, "upstream_timeout: 2", lines[2])
}
