package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"tryonapi/models"

	"github.com/google/uuid"
)

type EncodingMode int

const (
	ModeJSON EncodingMode = iota
	ModeMultipart
)

func (m EncodingMode) String() string {
	switch m {
	case ModeMultipart:
		return "multipart"
	default:
		return "json"
	}
}

func ParseEncodingMode(value string) (EncodingMode, error) {
	switch strings.ToLower(value) {
	case "", "json":
		return ModeJSON, nil
	case "multipart", "form":
		return ModeMultipart, nil
	}
	return ModeJSON, fmt.Errorf("unknown encoding mode %q", value)
}

const (
	PersonField   = "person"
	ClothingField = "clothing"
)

// EncodedPayload is a ready-to-send request body.
type EncodedPayload struct {
	ContentType string
	Body        []byte
}

func invalidInput(message string, err error) *models.TryOnError {
	return models.NewTryOnError(models.KindInvalidInput, "", message, err)
}

// EncodeTryOnRequest serializes req in the given mode.
func EncodeTryOnRequest(req models.TryOnRequest, mode EncodingMode) (*EncodedPayload, error) {
	if len(req.Subject.Data) == 0 || len(req.Garment.Data) == 0 {
		return nil, invalidInput("both images are required", nil)
	}
	switch mode {
	case ModeMultipart:
		return encodeMultipart(req)
	default:
		return encodeJSON(req)
	}
}

func mimeOrJPEG(mimeType string) string {
	if mimeType == "" {
		return models.MimeJPEG
	}
	return mimeType
}

func encodeJSON(req models.TryOnRequest) (*EncodedPayload, error) {
	body := models.TryOnRequestBody{
		Person: &models.ImagePartBody{
			Data:     base64.StdEncoding.EncodeToString(req.Subject.Data),
			MimeType: mimeOrJPEG(req.Subject.MimeType),
		},
		Clothing: &models.ImagePartBody{
			Data:     base64.StdEncoding.EncodeToString(req.Garment.Data),
			MimeType: mimeOrJPEG(req.Garment.MimeType),
		},
	}
	if req.ImageCount > 0 {
		count := req.ImageCount
		body.ImageCount = &count
	}
	if req.IsFreeRetry {
		freeRetry := true
		body.IsFreeRetry = &freeRetry
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return &EncodedPayload{ContentType: "application/json", Body: data}, nil
}

func encodeMultipart(req models.TryOnRequest) (*EncodedPayload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(uuid.NewString()); err != nil {
		return nil, fmt.Errorf("failed to set boundary: %w", err)
	}

	for _, part := range []struct {
		name string
		data []byte
	}{
		{PersonField, req.Subject.Data},
		{ClothingField, req.Garment.Data},
	} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s.jpg"`, part.name, part.name))
		header.Set("Content-Type", models.MimeJPEG)
		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", part.name, err)
		}
		if _, err := w.Write(part.data); err != nil {
			return nil, fmt.Errorf("failed to write %s part: %w", part.name, err)
		}
	}
	if req.ImageCount > 0 {
		if err := writer.WriteField("imageCount", strconv.Itoa(req.ImageCount)); err != nil {
			return nil, err
		}
	}
	if req.IsFreeRetry {
		if err := writer.WriteField("isFreeRetry", "true"); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &EncodedPayload{ContentType: writer.FormDataContentType(), Body: buf.Bytes()}, nil
}

// DecodeTryOnRequest parses a request body of either encoding.
func DecodeTryOnRequest(contentType string, body []byte) (*models.TryOnRequest, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, invalidInput("invalid content type", err)
	}
	switch {
	case mediaType == "application/json":
		var parsed models.TryOnRequestBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, invalidInput("invalid json body", err)
		}
		return DecodeJSONRequest(parsed)
	case mediaType == "multipart/form-data":
		return DecodeMultipartRequest(bytes.NewReader(body), params["boundary"])
	}
	return nil, invalidInput(fmt.Sprintf("unsupported content type %s", mediaType), nil)
}

// DecodeJSONRequest turns the JSON envelope into raw image bytes.
func DecodeJSONRequest(body models.TryOnRequestBody) (*models.TryOnRequest, error) {
	if body.Person == nil || body.Person.Data == "" {
		return nil, invalidInput("person image is required", nil)
	}
	if body.Clothing == nil || body.Clothing.Data == "" {
		return nil, invalidInput("clothing image is required", nil)
	}
	subject, err := base64.StdEncoding.DecodeString(body.Person.Data)
	if err != nil {
		return nil, invalidInput("person image is not valid base64", err)
	}
	garment, err := base64.StdEncoding.DecodeString(body.Clothing.Data)
	if err != nil {
		return nil, invalidInput("clothing image is not valid base64", err)
	}
	req := &models.TryOnRequest{
		Subject: models.ImagePart{Data: subject, MimeType: mimeOrJPEG(body.Person.MimeType)},
		Garment: models.ImagePart{Data: garment, MimeType: mimeOrJPEG(body.Clothing.MimeType)},
	}
	if body.ImageCount != nil {
		req.ImageCount = *body.ImageCount
	}
	if body.IsFreeRetry != nil {
		req.IsFreeRetry = *body.IsFreeRetry
	}
	return req, nil
}

// DecodeMultipartRequest reads the person and clothing parts of a form body.
func DecodeMultipartRequest(r io.Reader, boundary string) (*models.TryOnRequest, error) {
	if boundary == "" {
		return nil, invalidInput("missing multipart boundary", nil)
	}
	reader := multipart.NewReader(r, boundary)
	req := &models.TryOnRequest{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalidInput("malformed multipart body", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, invalidInput("failed to read multipart part", err)
		}
		switch part.FormName() {
		case PersonField:
			req.Subject = models.ImagePart{Data: data, MimeType: mimeOrJPEG(part.Header.Get("Content-Type"))}
		case ClothingField:
			req.Garment = models.ImagePart{Data: data, MimeType: mimeOrJPEG(part.Header.Get("Content-Type"))}
		case "imageCount":
			count, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return nil, invalidInput("imageCount must be an integer", err)
			}
			req.ImageCount = count
		case "isFreeRetry":
			req.IsFreeRetry, _ = strconv.ParseBool(strings.TrimSpace(string(data)))
		}
	}
	if len(req.Subject.Data) == 0 {
		return nil, invalidInput("person image is required", nil)
	}
	if len(req.Garment.Data) == 0 {
		return nil, invalidInput("clothing image is required", nil)
	}
	return req, nil
}
