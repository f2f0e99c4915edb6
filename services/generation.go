package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tryonapi/models"

	"github.com/go-resty/resty/v2"
	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"
)

// TryOnPrompt is the instruction sent with every generation call.
var TryOnPrompt = strings.TrimSpace(dedent.Dedent(`
	Take the person from the first image and dress them in the garment from the second image.
	Keep the person's facial identity, body proportions, pose and placement exactly the same.
	Replace only the matching clothing item and keep everything else the person wears.
	Preserve the garment's color, pattern, texture and fit as closely as possible.
	Keep the original background and lighting. Output a single photorealistic image.
`))

// Generator performs one upstream generation call and returns one image.
type Generator interface {
	Generate(ctx context.Context, subject, garment models.ImagePart) ([]byte, error)
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		CandidateCount     int      `json:"candidateCount"`
	} `json:"generationConfig"`
}

type upstreamErrorBody struct {
	Error json.RawMessage `json:"error"`
}

// HTTPGenerator calls a Gemini-compatible generateContent endpoint over REST.
// Any endpoint that answers with an image body, a candidates envelope or an
// images list is accepted.
type HTTPGenerator struct {
	Endpoint string
	APIKey   string
	Prompt   string
	Timeout  time.Duration

	client *resty.Client
}

func NewHTTPGenerator(endpoint, apiKey string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Prompt:   TryOnPrompt,
		Timeout:  timeout,
		client: resty.New().
			SetDebug(false).
			SetTimeout(timeout).
			SetHeaders(map[string]string{
				"Accept":     "application/json, image/*",
				"User-Agent": "tryonapi/1.0",
			}),
	}
}

func (g *HTTPGenerator) buildRequest(subject, garment models.ImagePart) geminiRequest {
	var body geminiRequest
	body.Contents = append(body.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{
		Parts: []geminiPart{
			{Text: g.Prompt},
			{InlineData: &geminiInlineData{MimeType: mimeOrJPEG(subject.MimeType), Data: base64.StdEncoding.EncodeToString(subject.Data)}},
			{InlineData: &geminiInlineData{MimeType: mimeOrJPEG(garment.MimeType), Data: base64.StdEncoding.EncodeToString(garment.Data)}},
		},
	})
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}
	body.GenerationConfig.CandidateCount = 1
	return body
}

func (g *HTTPGenerator) Generate(ctx context.Context, subject, garment models.ImagePart) ([]byte, error) {
	started := time.Now()
	res, err := g.client.NewRequest().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", g.APIKey).
		SetBody(g.buildRequest(subject, garment)).
		Post(g.Endpoint)
	if err != nil {
		return nil, ClassifyTransportError("generate", err)
	}

	logger := log.With().
		Int("status", res.StatusCode()).
		Dur("duration", time.Since(started)).
		Logger()

	if res.IsError() {
		logger.Warn().Msg("upstream returned an error status")
		return nil, UpstreamStatusError("generate", res.StatusCode(), res.Body())
	}

	envelope, err := NormalizeEnvelope(res.Header().Get("Content-Type"), res.Body())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to normalize upstream response")
		return nil, err
	}
	logger.Debug().Str("shape", envelope.Shape.String()).Int("images", len(envelope.Images)).Msg("upstream call finished")
	return envelope.Images[0], nil
}

// ClassifyTransportError maps a failed round trip to a timeout or an
// unavailable upstream.
func ClassifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return &models.TryOnError{Kind: models.KindUpstreamTimeout, Op: op, Message: "request timed out", Err: err}
	}
	return &models.TryOnError{Kind: models.KindUpstreamUnavailable, Op: op, Message: "request failed", Err: err}
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// UpstreamStatusError builds the error for a non-2xx upstream response,
// carrying the upstream message when the body has one.
func UpstreamStatusError(op string, status int, body []byte) error {
	return &models.TryOnError{
		Kind:       models.KindUpstreamUnavailable,
		Op:         op,
		StatusCode: status,
		Message:    upstreamErrorMessage(status, body),
	}
}

func upstreamErrorMessage(status int, body []byte) string {
	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var asString string
		if err := json.Unmarshal(parsed.Error, &asString); err == nil && asString != "" {
			return asString
		}
		var asObject struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &asObject); err == nil && asObject.Message != "" {
			return asObject.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// IsServerError reports whether err is an upstream 5xx response.
func IsServerError(err error) bool {
	var tryOnErr *models.TryOnError
	if !errors.As(err, &tryOnErr) {
		return false
	}
	return tryOnErr.Kind == models.KindUpstreamUnavailable && tryOnErr.StatusCode >= 500
}

// NewGenerator picks the upstream backend from config.
func NewGenerator(ctx context.Context, cfg *Config) (Generator, error) {
	prompt := cfg.UpstreamPrompt
	if prompt == "" {
		prompt = TryOnPrompt
	}
	switch cfg.UpstreamBackend {
	case "genai":
		generator, err := NewGenAIGenerator(ctx, cfg.UpstreamAPIKey, ParseModelName(cfg.UpstreamModel), cfg.UpstreamTimeout)
		if err != nil {
			return nil, err
		}
		generator.Prompt = prompt
		return generator, nil
	case "rest", "":
		generator := NewHTTPGenerator(cfg.UpstreamEndpoint, cfg.UpstreamAPIKey, cfg.UpstreamTimeout)
		generator.Prompt = prompt
		return generator, nil
	}
	return nil, fmt.Errorf("unknown upstream backend %q", cfg.UpstreamBackend)
}
