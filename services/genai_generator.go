package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tryonapi/models"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// LLMModelName is the image model used by the genai backend.
type LLMModelName int32

const (
	Flash25Image LLMModelName = iota
	Flash25
	Pro25
)

func (t LLMModelName) String() string {
	switch t {
	case Flash25:
		return "gemini-2.5-flash"
	case Pro25:
		return "gemini-2.5-pro"
	default:
		return "gemini-2.5-flash-image-preview"
	}
}

func ParseModelName(name string) LLMModelName {
	for _, model := range []LLMModelName{Flash25Image, Flash25, Pro25} {
		if model.String() == name {
			return model
		}
	}
	return Flash25Image
}

func floatPointer(f float32) *float32 {
	return &f
}

// GetAllInlineImages collects image parts of every candidate. A safety block
// on any candidate fails the whole response.
func GetAllInlineImages(result *genai.GenerateContentResponse) ([][]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("empty response")
	}

	var allImageData [][]byte
	for _, cand := range result.Candidates {
		for _, rating := range cand.SafetyRatings {
			if rating.Blocked {
				return nil, fmt.Errorf("content blocked by safety setting: %s", rating.Category)
			}
		}
		if cand.Content == nil || len(cand.Content.Parts) == 0 {
			continue
		}
		for _, part := range cand.Content.Parts {
			inlineData := part.InlineData
			if inlineData == nil || !strings.HasPrefix(inlineData.MIMEType, "image/") {
				continue
			}
			if len(inlineData.Data) > 0 {
				allImageData = append(allImageData, inlineData.Data)
			}
		}
	}
	return allImageData, nil
}

// GenAIGenerator is the Generator backed by the google genai SDK.
type GenAIGenerator struct {
	Model   LLMModelName
	Prompt  string
	Timeout time.Duration

	client *genai.Client
}

func NewGenAIGenerator(ctx context.Context, apiKey string, model LLMModelName, timeout time.Duration) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIGenerator{Model: model, Prompt: TryOnPrompt, Timeout: timeout, client: client}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, subject, garment models.ImagePart) ([]byte, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeOrJPEG(subject.MimeType), Data: subject.Data}},
		{InlineData: &genai.Blob{MIMEType: mimeOrJPEG(garment.MimeType), Data: garment.Data}},
	}
	result, err := g.client.Models.GenerateContent(ctx, g.Model.String(), []*genai.Content{{Parts: parts, Role: genai.RoleUser}}, &genai.GenerateContentConfig{
		CandidateCount:     1,
		Temperature:        floatPointer(1),
		ResponseModalities: []string{"TEXT", "IMAGE"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: g.Prompt}},
		},
	})
	if err != nil {
		return nil, classifyGenAIError(err)
	}

	if result.UsageMetadata != nil {
		log.Debug().
			Int32("input_tokens", result.UsageMetadata.PromptTokenCount).
			Int32("output_tokens", result.UsageMetadata.CandidatesTokenCount).
			Int32("total_tokens", result.UsageMetadata.TotalTokenCount).
			Msg("genai usage")
	}
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return nil, decodeFailure(fmt.Sprintf("content violation: %s %s", result.PromptFeedback.BlockReason, result.PromptFeedback.BlockReasonMessage), nil)
	}

	images, err := GetAllInlineImages(result)
	if err != nil {
		return nil, decodeFailure("failed to read candidates", err)
	}
	if len(images) == 0 {
		return nil, decodeFailure("no image returned by model", nil)
	}
	return images[0], nil
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &models.TryOnError{
			Kind:       models.KindUpstreamUnavailable,
			Op:         "generate",
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return ClassifyTransportError("generate", err)
}
