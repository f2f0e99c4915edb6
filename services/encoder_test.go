package services_test

import (
	"bytes"
	"encoding/json"
	"mime"
	"mime/multipart"
	"testing"

	"tryonapi/models"
	"tryonapi/services"
	"tryonapi/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() models.TryOnRequest {
	return models.TryOnRequest{
		Subject:     models.ImagePart{Data: test.SolidJPEG(20, 30), MimeType: models.MimeJPEG},
		Garment:     models.ImagePart{Data: test.SolidJPEG(30, 20), MimeType: models.MimeJPEG},
		ImageCount:  3,
		IsFreeRetry: true,
	}
}

func TestEncodeDecodeBothModes(t *testing.T) {
	for _, mode := range []services.EncodingMode{services.ModeJSON, services.ModeMultipart} {
		req := sampleRequest()
		payload, err := services.EncodeTryOnRequest(req, mode)
		require.NoError(t, err, mode.String())

		decoded, err := services.DecodeTryOnRequest(payload.ContentType, payload.Body)
		require.NoError(t, err, mode.String())
		assert.Equal(t, req.Subject.Data, decoded.Subject.Data, mode.String())
		assert.Equal(t, req.Garment.Data, decoded.Garment.Data, mode.String())
		assert.Equal(t, 3, decoded.ImageCount, mode.String())
		assert.True(t, decoded.IsFreeRetry, mode.String())
	}
}

func TestMultipartLayout(t *testing.T) {
	payload, err := services.EncodeTryOnRequest(sampleRequest(), services.ModeMultipart)
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(payload.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	require.NotEmpty(t, params["boundary"])

	reader := multipart.NewReader(bytes.NewReader(payload.Body), params["boundary"])
	var names, filenames []string
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		names = append(names, part.FormName())
		if part.FileName() != "" {
			filenames = append(filenames, part.FileName())
			assert.Equal(t, models.MimeJPEG, part.Header.Get("Content-Type"))
		}
	}
	assert.Equal(t, []string{"person", "clothing", "imageCount", "isFreeRetry"}, names)
	assert.Equal(t, []string{"person.jpg", "clothing.jpg"}, filenames)
}

func TestMultipartBoundaryIsUniquePerRequest(t *testing.T) {
	first, err := services.EncodeTryOnRequest(sampleRequest(), services.ModeMultipart)
	require.NoError(t, err)
	second, err := services.EncodeTryOnRequest(sampleRequest(), services.ModeMultipart)
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentType, second.ContentType)
}

func TestJSONLayout(t *testing.T) {
	req := sampleRequest()
	req.ImageCount = 0
	req.IsFreeRetry = false
	payload, err := services.EncodeTryOnRequest(req, services.ModeJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", payload.ContentType)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload.Body, &raw))
	assert.Contains(t, raw, "person")
	assert.Contains(t, raw, "clothing")
	assert.NotContains(t, raw, "imageCount")
	assert.NotContains(t, raw, "isFreeRetry")

	var body models.TryOnRequestBody
	require.NoError(t, json.Unmarshal(payload.Body, &body))
	assert.Equal(t, models.MimeJPEG, body.Person.MimeType)
}

func TestEncodeRequiresBothImages(t *testing.T) {
	req := sampleRequest()
	req.Garment.Data = nil
	_, err := services.EncodeTryOnRequest(req, services.ModeJSON)
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"unsupported type", "text/plain", "hi"},
		{"broken json", "application/json", "{"},
		{"missing person", "application/json", `{"clothing":{"data":"aGVsbG8="}}`},
		{"bad base64", "application/json", `{"person":{"data":"***"},"clothing":{"data":"aGVsbG8="}}`},
		{"missing boundary", "multipart/form-data", "--x--"},
	}
	for _, tc := range cases {
		_, err := services.DecodeTryOnRequest(tc.contentType, []byte(tc.body))
		assert.Equal(t, models.KindInvalidInput, models.KindOf(err), tc.name)
	}
}

func TestParseEncodingMode(t *testing.T) {
	mode, err := services.ParseEncodingMode("multipart")
	require.NoError(t, err)
	assert.Equal(t, services.ModeMultipart, mode)

	mode, err = services.ParseEncodingMode("")
	require.NoError(t, err)
	assert.Equal(t, services.ModeJSON, mode)

	_, err = services.ParseEncodingMode("xml")
	assert.Error(t, err)
}
