package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"tryonapi/models"
	"tryonapi/services"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultRemoteTimeout = 90 * time.Second

// RemoteResult is the decoded answer of POST /api/tryon.
type RemoteResult struct {
	Images   [][]byte
	MimeType string
}

type RemoteTryOn interface {
	TryOn(ctx context.Context, req models.TryOnRequest) (*RemoteResult, error)
}

// RemoteClient talks to the try-on proxy.
type RemoteClient struct {
	Mode services.EncodingMode

	client *resty.Client
}

func NewRemoteClient(baseURL string, mode services.EncodingMode, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteClient{
		Mode: mode,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json, image/*"),
	}
}

func (c *RemoteClient) TryOn(ctx context.Context, req models.TryOnRequest) (*RemoteResult, error) {
	payload, err := services.EncodeTryOnRequest(req, c.Mode)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := c.client.NewRequest().
		SetContext(ctx).
		SetHeader("Content-Type", payload.ContentType).
		SetBody(payload.Body).
		Post("/api/tryon")
	if err != nil {
		return nil, services.ClassifyTransportError("tryon", err)
	}
	log.Debug().
		Int("status", res.StatusCode()).
		Str("encoding", c.Mode.String()).
		Int("request_bytes", len(payload.Body)).
		Dur("duration", time.Since(started)).
		Msg("try-on request finished")

	if res.IsError() {
		return nil, remoteError(res.StatusCode(), res.Body())
	}

	envelope, err := services.NormalizeEnvelope(res.Header().Get("Content-Type"), res.Body())
	if err != nil {
		return nil, err
	}
	return &RemoteResult{Images: envelope.Images, MimeType: envelope.MimeType}, nil
}

// remoteError restores the failure kind the server reported in "code".
func remoteError(status int, body []byte) error {
	var parsed models.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch models.ParseErrorKind(parsed.Code) {
		case models.KindUpstreamTimeout:
			return &models.TryOnError{Kind: models.KindUpstreamTimeout, Op: "tryon", StatusCode: status, Message: parsed.Error}
		case models.KindInvalidInput:
			return &models.TryOnError{Kind: models.KindInvalidInput, Op: "tryon", StatusCode: status, Message: parsed.Error}
		case models.KindUpstreamDecodeFailure:
			return &models.TryOnError{Kind: models.KindUpstreamDecodeFailure, Op: "tryon", StatusCode: status, Message: parsed.Error}
		}
	}
	return services.UpstreamStatusError("tryon", status, body)
}
