package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tryonapi/models"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Tracker records analytics events. Implementations never block the caller
// for network I/O and never report errors back into the pipeline.
type Tracker interface {
	Track(ctx context.Context, event models.AnalyticsEvent)
}

type NoopTracker struct{}

func (NoopTracker) Track(ctx context.Context, event models.AnalyticsEvent) {}

type beaconPayload struct {
	Name   string            `json:"name"`
	URL    string            `json:"url"`
	Domain string            `json:"domain"`
	Props  map[string]string `json:"props,omitempty"`
}

// BeaconSender posts events to a Plausible-compatible events endpoint.
type BeaconSender struct {
	Endpoint string
	Domain   string

	client *resty.Client
}

func NewBeaconSender(endpoint, domain string) *BeaconSender {
	return &BeaconSender{
		Endpoint: endpoint,
		Domain:   domain,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("User-Agent", "tryonapi/1.0"),
	}
}

func (s *BeaconSender) eventURL(event models.AnalyticsEvent) string {
	path := event.Props["path"]
	if path == "" {
		path = "/" + event.Name
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("https://%s%s", s.Domain, path)
}

// Send delivers one event synchronously.
func (s *BeaconSender) Send(ctx context.Context, event models.AnalyticsEvent) error {
	props := make(map[string]string, len(event.Props))
	for key, value := range event.Props {
		if key != "path" {
			props[key] = value
		}
	}
	res, err := s.client.NewRequest().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(beaconPayload{Name: event.Name, URL: s.eventURL(event), Domain: s.Domain, Props: props}).
		Post(s.Endpoint)
	if err != nil {
		return fmt.Errorf("analytics request failed: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("analytics request failed: status %d", res.StatusCode())
	}
	return nil
}

// BeaconTracker sends each event from its own goroutine.
type BeaconTracker struct {
	Sender *BeaconSender
}

func (t *BeaconTracker) Track(ctx context.Context, event models.AnalyticsEvent) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := t.Sender.Send(sendCtx, event); err != nil {
			log.Debug().Err(err).Str("event", event.Name).Msg("analytics event dropped")
		}
	}()
}
