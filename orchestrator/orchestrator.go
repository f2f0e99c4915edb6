package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tryonapi/models"
	"tryonapi/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxDecodedBytes caps the estimated RGBA size of a selected image.
const DefaultMaxDecodedBytes int64 = 64 << 20

const maxRetainedResults = 5

type Transcoder interface {
	Transcode(ctx context.Context, asset models.ImageAsset, budget models.TranscodeBudget) (*services.TranscodeResult, error)
}

type EntitlementChecker interface {
	IsEntitled(ctx context.Context) bool
	RemainingFreeUsesToday(ctx context.Context) int
	RecordUse(ctx context.Context) error
}

type HistoryStore interface {
	Append(ctx context.Context, entry models.HistoryEntry) error
	List(ctx context.Context) ([]models.HistoryEntry, error)
	Clear(ctx context.Context) error
}

// Result is one successful attempt. OriginID is shared by a result and all of
// its free retries.
type Result struct {
	ID         string
	OriginID   string
	Candidates [][]byte
	MimeType   string
	ImageCount int
	FreeRetry  bool
	CreatedAt  time.Time
	Committed  bool
	Selected   int
	// SaveErr is set when saving the single candidate to history failed. The
	// result stays selectable so the save can be retried with Select.
	SaveErr error

	subject models.ImagePart
	garment models.ImagePart
}

type Options struct {
	Budget          models.TranscodeBudget
	MaxDecodedBytes int64
	MaxFreeRetries  int
	Language        models.Language
}

func DefaultOptions() Options {
	return Options{
		Budget:          models.DefaultTranscodeBudget(),
		MaxDecodedBytes: DefaultMaxDecodedBytes,
		MaxFreeRetries:  1,
		Language:        models.EN,
	}
}

// Orchestrator drives one user's try-on attempts through
// Idle -> Validating -> Transcoding -> AwaitingResponse -> Succeeded | Failed.
type Orchestrator struct {
	Transcoder   Transcoder
	Remote       RemoteTryOn
	History      HistoryStore
	Entitlements EntitlementChecker
	Tracker      services.Tracker
	Dispatcher   Dispatcher
	Options      Options

	// OnStateChange is invoked through Dispatcher.
	OnStateChange func(StateChange)

	mu          sync.Mutex
	state       State
	running     bool
	subject     *models.ImageAsset
	garment     *models.ImageAsset
	results     map[string]*Result
	order       []string
	freeRetries map[string]int
}

func New(transcoder Transcoder, remote RemoteTryOn, history HistoryStore, entitlements EntitlementChecker, opts Options) *Orchestrator {
	return &Orchestrator{
		Transcoder:   transcoder,
		Remote:       remote,
		History:      history,
		Entitlements: entitlements,
		Tracker:      services.NoopTracker{},
		Dispatcher:   ImmediateDispatcher,
		Options:      opts,
		state:        StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateIdle
	}
	return o.state
}

func (o *Orchestrator) SetSubject(asset *models.ImageAsset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subject = asset
}

func (o *Orchestrator) SetGarment(asset *models.ImageAsset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.garment = asset
}

func (o *Orchestrator) Selections() (*models.ImageAsset, *models.ImageAsset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subject, o.garment
}

// Reset clears both selections and returns to Idle.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.subject = nil
	o.garment = nil
	o.mu.Unlock()
	o.setState(StateIdle, nil, nil)
}

func (o *Orchestrator) dispatch(fn func()) {
	if o.Dispatcher == nil {
		fn()
		return
	}
	o.Dispatcher.Dispatch(fn)
}

func (o *Orchestrator) setState(to State, failure *Failure, result *Result) {
	o.mu.Lock()
	from := o.state
	if from == "" {
		from = StateIdle
	}
	o.state = to
	o.mu.Unlock()

	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("try-on state change")
	if o.OnStateChange != nil {
		change := StateChange{From: from, To: to, Failure: failure, Result: result}
		o.dispatch(func() { o.OnStateChange(change) })
	}
}

func (o *Orchestrator) track(ctx context.Context, name string, props map[string]string) {
	if o.Tracker == nil {
		return
	}
	if props == nil {
		props = map[string]string{}
	}
	props["path"] = "/tryon"
	o.Tracker.Track(ctx, models.NewAnalyticsEvent(name, props))
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	failure := NewFailure(o.Options.Language, err)
	log.Warn().Err(err).Str("failure_kind", string(failure.Kind)).Msg("try-on attempt failed")
	o.setState(StateFailed, failure, nil)
	o.track(ctx, models.EventTryOnFailed, map[string]string{"kind": string(failure.Kind)})
	return failure
}

func validateAsset(op string, asset *models.ImageAsset, maxDecodedBytes int64) error {
	if asset == nil || len(asset.Data) == 0 {
		return models.NewTryOnError(models.KindInvalidInput, op, reasonMissingImage, nil)
	}
	if asset.Width <= 0 || asset.Height <= 0 {
		return models.NewTryOnError(models.KindInvalidInput, op, reasonInvalidDimensions, nil)
	}
	if maxDecodedBytes > 0 && asset.EstimatedDecodedBytes() > maxDecodedBytes {
		return models.NewTryOnError(models.KindInvalidInput, op, reasonTooLargeToDecode, nil)
	}
	return nil
}

func (o *Orchestrator) transcode(ctx context.Context, op string, asset models.ImageAsset) (models.ImagePart, error) {
	out, err := o.Transcoder.Transcode(ctx, asset, o.Options.Budget)
	if err != nil {
		tryOnErr := models.AsTryOnError(err)
		if tryOnErr.Kind == models.KindUnknown && ctx.Err() == nil {
			tryOnErr.Kind = models.KindEncodingFailure
		}
		return models.ImagePart{}, &models.TryOnError{Kind: tryOnErr.Kind, Op: op, Message: tryOnErr.Message, Err: err}
	}
	log.Debug().
		Str("image", op).
		Int("bytes", len(out.Data)).
		Int("width", out.Width).
		Int("height", out.Height).
		Float64("quality", out.Quality).
		Bool("over_target", out.Warning).
		Msg("image transcoded")
	return out.Part(), nil
}

// TryOn runs a full attempt on the calling goroutine.
func (o *Orchestrator) TryOn(ctx context.Context, imageCount int) (*Result, error) {
	if !o.begin() {
		return nil, NewFailure(o.Options.Language, models.NewTryOnError(models.KindInvalidInput, "", reasonAttemptInProgress, nil))
	}
	defer o.end()

	o.setState(StateValidating, nil, nil)
	subject, garment := o.Selections()
	if err := validateAsset(opSubject, subject, o.Options.MaxDecodedBytes); err != nil {
		return nil, o.fail(ctx, err)
	}
	if err := validateAsset(opGarment, garment, o.Options.MaxDecodedBytes); err != nil {
		return nil, o.fail(ctx, err)
	}
	if o.Entitlements != nil && !o.Entitlements.IsEntitled(ctx) && o.Entitlements.RemainingFreeUsesToday(ctx) <= 0 {
		return nil, o.fail(ctx, models.NewTryOnError(models.KindQuotaExceeded, "", reasonDailyLimit, nil))
	}

	o.setState(StateTranscoding, nil, nil)
	subjectPart, err := o.transcode(ctx, opSubject, *subject)
	if err != nil {
		return nil, o.fail(ctx, err)
	}
	garmentPart, err := o.transcode(ctx, opGarment, *garment)
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	return o.submit(ctx, subjectPart, garmentPart, imageCount, "")
}

// TryOnAsync runs TryOn on its own goroutine and hands the outcome to done
// through the Dispatcher.
func (o *Orchestrator) TryOnAsync(ctx context.Context, imageCount int, done func(*Result, error)) {
	go func() {
		result, err := o.TryOn(ctx, imageCount)
		if done != nil {
			o.dispatch(func() { done(result, err) })
		}
	}()
}

func (o *Orchestrator) submit(ctx context.Context, subject, garment models.ImagePart, imageCount int, originID string) (*Result, error) {
	freeRetry := originID != ""
	count := services.ClampImageCount(imageCount)

	o.setState(StateAwaitingResponse, nil, nil)
	remote, err := o.Remote.TryOn(ctx, models.TryOnRequest{
		Subject:     subject,
		Garment:     garment,
		ImageCount:  count,
		IsFreeRetry: freeRetry,
	})
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	result := &Result{
		ID:         uuid.NewString(),
		OriginID:   originID,
		Candidates: remote.Images,
		MimeType:   remote.MimeType,
		ImageCount: count,
		FreeRetry:  freeRetry,
		CreatedAt:  time.Now(),
		Selected:   -1,
		subject:    subject,
		garment:    garment,
	}
	if result.OriginID == "" {
		result.OriginID = result.ID
	}
	o.retain(result)

	if !freeRetry && o.Entitlements != nil {
		if err := o.Entitlements.RecordUse(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to record usage")
		}
	}
	o.track(ctx, models.EventTryOnInteraction, map[string]string{
		"image_count": strconv.Itoa(count),
		"candidates":  strconv.Itoa(len(result.Candidates)),
		"free_retry":  strconv.FormatBool(freeRetry),
	})

	if len(result.Candidates) == 1 {
		if _, err := o.commit(ctx, result, 0); err != nil {
			log.Error().Err(err).Str("result_id", result.ID).Msg("failed to save try-on to history")
			o.mu.Lock()
			result.SaveErr = err
			o.mu.Unlock()
		}
	}
	o.setState(StateSucceeded, nil, result)
	return result, nil
}

func (o *Orchestrator) retain(result *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]*Result{}
	}
	o.results[result.ID] = result
	o.order = append(o.order, result.ID)
	for len(o.order) > maxRetainedResults {
		delete(o.results, o.order[0])
		o.order = o.order[1:]
	}
}

func (o *Orchestrator) lookup(resultID string) (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result, ok := o.results[resultID]
	return result, ok
}

// FreeRetry re-runs the attempt behind resultID with the same images. Each
// result lineage gets Options.MaxFreeRetries retries, which neither require
// an entitlement nor count against the daily allowance.
func (o *Orchestrator) FreeRetry(ctx context.Context, resultID string) (*Result, error) {
	if !o.begin() {
		return nil, NewFailure(o.Options.Language, models.NewTryOnError(models.KindInvalidInput, "", reasonAttemptInProgress, nil))
	}
	defer o.end()

	result, ok := o.lookup(resultID)
	if !ok {
		return nil, o.fail(ctx, models.NewTryOnError(models.KindInvalidInput, "", reasonResultNotFound, nil))
	}
	if o.FreeRetriesLeft(resultID) <= 0 {
		return nil, o.fail(ctx, models.NewTryOnError(models.KindQuotaExceeded, "", reasonFreeRetryUsed, nil))
	}

	o.track(ctx, models.EventFreeRetry, map[string]string{"origin_id": result.OriginID})
	retried, err := o.submit(ctx, result.subject, result.garment, result.ImageCount, result.OriginID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.freeRetries == nil {
		o.freeRetries = map[string]int{}
	}
	o.freeRetries[result.OriginID]++
	o.mu.Unlock()
	return retried, nil
}

// FreeRetriesLeft reports the remaining free retries for resultID's lineage.
func (o *Orchestrator) FreeRetriesLeft(resultID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	result, ok := o.results[resultID]
	if !ok {
		return 0
	}
	return max(0, o.Options.MaxFreeRetries-o.freeRetries[result.OriginID])
}

// Select commits candidate index of resultID to history and drops the other
// candidates.
func (o *Orchestrator) Select(ctx context.Context, resultID string, index int) (*models.HistoryEntry, error) {
	result, ok := o.lookup(resultID)
	if !ok {
		return nil, NewFailure(o.Options.Language, models.NewTryOnError(models.KindInvalidInput, "", reasonResultNotFound, nil))
	}
	if index < 0 || index >= len(result.Candidates) {
		return nil, NewFailure(o.Options.Language, models.NewTryOnError(models.KindInvalidInput, "", reasonCandidateRange, nil))
	}
	entry, err := o.commit(ctx, result, index)
	if err != nil {
		return nil, err
	}
	o.track(ctx, models.EventCandidateChosen, map[string]string{
		"index":      strconv.Itoa(index),
		"candidates": strconv.Itoa(len(result.Candidates)),
	})
	return entry, nil
}

func (o *Orchestrator) commit(ctx context.Context, result *Result, index int) (*models.HistoryEntry, error) {
	o.mu.Lock()
	if result.Committed {
		o.mu.Unlock()
		return nil, NewFailure(o.Options.Language, models.NewTryOnError(models.KindInvalidInput, "", reasonAlreadyCommitted, nil))
	}
	result.Committed = true
	result.Selected = index
	chosen := result.Candidates[index]
	for i := range result.Candidates {
		if i != index {
			result.Candidates[i] = nil
		}
	}
	o.mu.Unlock()

	entry := models.HistoryEntry{
		ID:             result.ID,
		Timestamp:      result.CreatedAt,
		SubjectImage:   result.subject.Data,
		GarmentImage:   result.garment.Data,
		ResultImage:    chosen,
		ResultMimeType: http.DetectContentType(chosen),
	}
	if o.History == nil {
		return &entry, nil
	}
	if err := o.History.Append(ctx, entry); err != nil {
		o.mu.Lock()
		result.Committed = false
		result.Selected = -1
		o.mu.Unlock()
		return nil, fmt.Errorf("failed to append history entry: %w", err)
	}
	o.mu.Lock()
	result.SaveErr = nil
	o.mu.Unlock()
	return &entry, nil
}
