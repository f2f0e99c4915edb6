package test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tryonapi/models"
	"tryonapi/orchestrator"
	"tryonapi/services"
)

// GeneratorMock returns Images[i] for the i-th call (wrapping around), or
// Err for the call numbered FailOn (1-based).
type GeneratorMock struct {
	Images [][]byte
	Err    error
	FailOn int64
	Delay  time.Duration

	calls atomic.Int64
}

func (m *GeneratorMock) Generate(ctx context.Context, subject, garment models.ImagePart) ([]byte, error) {
	n := m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil && (m.FailOn == 0 || m.FailOn == n) {
		return nil, m.Err
	}
	if len(m.Images) == 0 {
		return []byte{0x89, 'P', 'N', 'G'}, nil
	}
	return m.Images[int(n-1)%len(m.Images)], nil
}

func (m *GeneratorMock) Calls() int {
	return int(m.calls.Load())
}

// SlotGenerator returns Images[i] for the call filling slot i. Later slots
// finish first, Step apart.
type SlotGenerator struct {
	Images [][]byte
	Step   time.Duration
}

func (g *SlotGenerator) Generate(ctx context.Context, subject, garment models.ImagePart) ([]byte, error) {
	slot, ok := services.CallIndex(ctx)
	if !ok || slot >= len(g.Images) {
		return nil, errors.New("no image for this call")
	}
	select {
	case <-time.After(time.Duration(len(g.Images)-slot) * g.Step):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Images[slot], nil
}

// TrackerRecorder keeps every tracked event.
type TrackerRecorder struct {
	mu     sync.Mutex
	events []models.AnalyticsEvent
}

func (r *TrackerRecorder) Track(ctx context.Context, event models.AnalyticsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *TrackerRecorder) Events() []models.AnalyticsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AnalyticsEvent(nil), r.events...)
}

func (r *TrackerRecorder) Names() []string {
	var names []string
	for _, event := range r.Events() {
		names = append(names, event.Name)
	}
	return names
}

type EntitlementsStub struct {
	Entitled  bool
	Remaining int

	mu   sync.Mutex
	uses int
}

func (s *EntitlementsStub) IsEntitled(ctx context.Context) bool {
	return s.Entitled
}

func (s *EntitlementsStub) RemainingFreeUsesToday(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, s.Remaining-s.uses)
}

func (s *EntitlementsStub) RecordUse(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses++
	return nil
}

func (s *EntitlementsStub) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// RemoteMock answers try-on calls with Result or Err and keeps the requests.
type RemoteMock struct {
	Result *orchestrator.RemoteResult
	Err    error

	mu       sync.Mutex
	requests []models.TryOnRequest
}

func (m *RemoteMock) TryOn(ctx context.Context, req models.TryOnRequest) (*orchestrator.RemoteResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	images := make([][]byte, len(m.Result.Images))
	copy(images, m.Result.Images)
	return &orchestrator.RemoteResult{Images: images, MimeType: m.Result.MimeType}, nil
}

func (m *RemoteMock) Requests() []models.TryOnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TryOnRequest(nil), m.requests...)
}
