package models

import "time"

const (
	EventTryOnInteraction = "tryon_interaction"
	EventTryOnGenerated   = "tryon_generated"
	EventTryOnFailed      = "tryon_failed"
	EventCandidateChosen  = "tryon_candidate_selected"
	EventFreeRetry        = "tryon_free_retry"
)

type AnalyticsEvent struct {
	// ID stays the same across redeliveries of the same event.
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name"`
	Props     map[string]string `json:"props,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewAnalyticsEvent(name string, props map[string]string) AnalyticsEvent {
	return AnalyticsEvent{Name: name, Props: props, Timestamp: time.Now()}
}
