package services

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"tryonapi/models"
)

type EnvelopeShape int

const (
	ShapeUnknown EnvelopeShape = iota
	ShapeBinary
	ShapeCandidates
	ShapeImageList
)

func (s EnvelopeShape) String() string {
	switch s {
	case ShapeBinary:
		return "binary"
	case ShapeCandidates:
		return "candidates"
	case ShapeImageList:
		return "images"
	default:
		return "unknown"
	}
}

// UpstreamEnvelope is the normalized form of every response shape we accept.
// Images is never empty for a successfully normalized envelope.
type UpstreamEnvelope struct {
	Shape    EnvelopeShape
	Images   [][]byte
	MimeType string
}

type inlineBlob struct {
	MimeType  string `json:"mimeType"`
	MimeSnake string `json:"mime_type"`
	Data      string `json:"data"`
}

type envelopePart struct {
	Text        string      `json:"text,omitempty"`
	InlineData  *inlineBlob `json:"inlineData,omitempty"`
	InlineSnake *inlineBlob `json:"inline_data,omitempty"`
}

type envelopeBody struct {
	Candidates []struct {
		Content *struct {
			Parts []envelopePart `json:"parts"`
		} `json:"content"`
		FinishReason  string `json:"finishReason"`
		SafetyRatings []struct {
			Category string `json:"category"`
			Blocked  bool   `json:"blocked"`
		} `json:"safetyRatings"`
	} `json:"candidates"`
	Images         []string `json:"images"`
	PromptFeedback *struct {
		BlockReason        string `json:"blockReason"`
		BlockReasonMessage string `json:"blockReasonMessage"`
	} `json:"promptFeedback"`
}

func decodeFailure(message string, err error) *models.TryOnError {
	return models.NewTryOnError(models.KindUpstreamDecodeFailure, "", message, err)
}

// NormalizeEnvelope classifies a 2xx upstream body and extracts its images.
func NormalizeEnvelope(contentType string, body []byte) (*UpstreamEnvelope, error) {
	mediaType := ""
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, decodeFailure("invalid content type", err)
		}
		mediaType = parsed
	}

	if strings.HasPrefix(mediaType, "image/") {
		if len(body) == 0 {
			return nil, decodeFailure("empty image body", nil)
		}
		return &UpstreamEnvelope{Shape: ShapeBinary, Images: [][]byte{body}, MimeType: mediaType}, nil
	}

	if mediaType != "" && mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		return nil, decodeFailure(fmt.Sprintf("unexpected content type %s", mediaType), nil)
	}

	var parsed envelopeBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, decodeFailure("invalid json body", err)
	}

	switch {
	case parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "":
		return nil, decodeFailure(fmt.Sprintf("prompt blocked: %s %s", parsed.PromptFeedback.BlockReason, parsed.PromptFeedback.BlockReasonMessage), nil)
	case len(parsed.Candidates) > 0:
		return normalizeCandidates(parsed)
	case parsed.Images != nil:
		return normalizeImageList(parsed.Images)
	}
	return nil, decodeFailure("response contains no images", nil)
}

func normalizeCandidates(parsed envelopeBody) (*UpstreamEnvelope, error) {
	candidate := parsed.Candidates[0]
	for _, rating := range candidate.SafetyRatings {
		if rating.Blocked {
			return nil, decodeFailure(fmt.Sprintf("content blocked by safety setting: %s", rating.Category), nil)
		}
	}
	if candidate.Content == nil {
		return nil, decodeFailure(fmt.Sprintf("candidate has no content (finish reason %s)", candidate.FinishReason), nil)
	}

	envelope := &UpstreamEnvelope{Shape: ShapeCandidates}
	for _, part := range candidate.Content.Parts {
		blob := part.InlineData
		if blob == nil {
			blob = part.InlineSnake
		}
		if blob == nil || blob.Data == "" {
			continue
		}
		mimeType := blob.MimeType
		if mimeType == "" {
			mimeType = blob.MimeSnake
		}
		if mimeType != "" && !strings.HasPrefix(mimeType, "image/") {
			continue
		}
		data, err := decodeBase64Image(blob.Data)
		if err != nil {
			return nil, decodeFailure("invalid base64 inline data", err)
		}
		if envelope.MimeType == "" {
			envelope.MimeType = mimeType
		}
		envelope.Images = append(envelope.Images, data)
	}
	if len(envelope.Images) == 0 {
		return nil, decodeFailure("no image found in candidate", nil)
	}
	return envelope, nil
}

func normalizeImageList(images []string) (*UpstreamEnvelope, error) {
	if len(images) == 0 {
		return nil, decodeFailure("empty images list", nil)
	}
	envelope := &UpstreamEnvelope{Shape: ShapeImageList, Images: make([][]byte, 0, len(images))}
	for i, encoded := range images {
		data, err := decodeBase64Image(encoded)
		if err != nil {
			return nil, decodeFailure(fmt.Sprintf("invalid base64 image at index %d", i), err)
		}
		if len(data) == 0 {
			return nil, decodeFailure(fmt.Sprintf("empty image at index %d", i), nil)
		}
		envelope.Images = append(envelope.Images, data)
	}
	return envelope, nil
}

// decodeBase64Image accepts padded or raw base64 and strips a data URL prefix.
func decodeBase64Image(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}
	encoded = strings.TrimSpace(encoded)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
}
