package controllers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tryonapi/models"
	"tryonapi/services"
	"tryonapi/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tryOnRequest(count int) models.TryOnRequest {
	return models.TryOnRequest{
		Subject:    models.ImagePart{Data: test.SolidJPEG(32, 32), MimeType: models.MimeJPEG},
		Garment:    models.ImagePart{Data: test.SolidJPEG(24, 32), MimeType: models.MimeJPEG},
		ImageCount: count,
	}
}

func setupTryOnServer(generator services.Generator, tracker services.Tracker) http.Handler {
	return SetupServer(services.NewFanoutCoordinator(generator, services.MaxFanoutImages), ServerOptions{Tracker: tracker})
}

func decodeImages(t *testing.T, rec *httptest.ResponseRecorder) [][]byte {
	var response models.TryOnImagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	out := make([][]byte, len(response.Images))
	for i, encoded := range response.Images {
		data, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

func TestHealthz(t *testing.T) {
	e := setupTryOnServer(&test.GeneratorMock{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTryOnSingleImageIsBinary(t *testing.T) {
	image := []byte("\x89PNG\r\n\x1a\nfake")
	generator := &test.GeneratorMock{Images: [][]byte{image}}
	tracker := &test.TrackerRecorder{}
	e := setupTryOnServer(generator, tracker)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(1), services.ModeMultipart))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.MimePNG, rec.Header().Get("Content-Type"))
	assert.Equal(t, image, rec.Body.Bytes())
	assert.Equal(t, 1, generator.Calls())
	assert.Equal(t, []string{models.EventTryOnGenerated}, tracker.Names())
}

func TestTryOnImageCountCardinality(t *testing.T) {
	cases := []struct {
		requested int
		calls     int
	}{
		{requested: 0, calls: 1},
		{requested: 2, calls: 2},
		{requested: 4, calls: 4},
		{requested: 7, calls: 4},
	}
	for _, tc := range cases {
		generator := &test.GeneratorMock{}
		e := setupTryOnServer(generator, nil)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(tc.requested), services.ModeJSON))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, tc.calls, generator.Calls(), "requested %d", tc.requested)
		if tc.calls == 1 {
			assert.Equal(t, models.MimePNG, rec.Header().Get("Content-Type"))
			continue
		}
		assert.Len(t, decodeImages(t, rec), tc.calls, "requested %d", tc.requested)
	}
}

func TestTryOnReturnsEveryGeneratedImage(t *testing.T) {
	images := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	generator := &test.GeneratorMock{Images: images}
	e := setupTryOnServer(generator, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(3), services.ModeJSON))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeImages(t, rec)
	require.Len(t, got, 3)
	// Calls race, so only the set is fixed; each slot holds exactly one image.
	assert.ElementsMatch(t, images, got)
}

func TestTryOnImagesFollowCallOrder(t *testing.T) {
	fixtures := [][]byte{
		test.TransparentPNG(800, 1200),
		test.TransparentPNG(600, 600),
		test.TransparentPNG(1200, 800),
		test.TransparentPNG(300, 450),
	}
	e := setupTryOnServer(&test.SlotGenerator{Images: fixtures, Step: 30 * time.Millisecond}, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(4), services.ModeJSON))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeImages(t, rec)
	require.Len(t, got, 4)
	for i := range fixtures {
		assert.True(t, bytes.Equal(fixtures[i], got[i]), "images[%d] is not the image of call %d", i, i)
	}
}

func TestTryOnPartialFailureFailsWholeRequest(t *testing.T) {
	generator := &test.GeneratorMock{
		Err:    models.NewTryOnError(models.KindUpstreamUnavailable, "generate", "model overloaded", nil),
		FailOn: 3,
	}
	tracker := &test.TrackerRecorder{}
	e := setupTryOnServer(generator, tracker)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(4), services.ModeJSON))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var response models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Failed to generate try-on", response.Error)
	assert.Equal(t, string(models.KindUpstreamUnavailable), response.Code)
	assert.Contains(t, response.Details, "model overloaded")
	assert.NotContains(t, rec.Body.String(), "images")
	assert.Equal(t, []string{models.EventTryOnFailed}, tracker.Names())
}

func TestTryOnTimeoutKind(t *testing.T) {
	generator := &test.GeneratorMock{Err: models.NewTryOnError(models.KindUpstreamTimeout, "generate", "request timed out", errors.New("deadline"))}
	e := setupTryOnServer(generator, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(1), services.ModeMultipart))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var response models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, string(models.KindUpstreamTimeout), response.Code)
}

func TestTryOnMissingClothingIsBadRequest(t *testing.T) {
	generator := &test.GeneratorMock{}
	e := setupTryOnServer(generator, nil)

	body := models.TryOnRequestBody{
		Person: &models.ImagePartBody{Data: base64.StdEncoding.EncodeToString(test.SolidJPEG(8, 8)), MimeType: models.MimeJPEG},
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONRequest(http.MethodPost, "/api/tryon", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var response models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, string(models.KindInvalidInput), response.Code)
	assert.Equal(t, 0, generator.Calls())
}

func TestTryOnJSONBodyWithExplicitCount(t *testing.T) {
	generator := &test.GeneratorMock{}
	e := setupTryOnServer(generator, nil)

	image := base64.StdEncoding.EncodeToString(test.SolidJPEG(8, 8))
	body := models.TryOnRequestBody{
		Person:      &models.ImagePartBody{Data: image, MimeType: models.MimeJPEG},
		Clothing:    &models.ImagePartBody{Data: image, MimeType: models.MimeJPEG},
		ImageCount:  test.IntPointer(2),
		IsFreeRetry: test.BoolPointer(true),
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONRequest(http.MethodPost, "/api/tryon", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var response models.TryOnImagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response.Images, 2)
	assert.Equal(t, 2, generator.Calls())
}

func TestTryOnInvalidBase64IsBadRequest(t *testing.T) {
	generator := &test.GeneratorMock{}
	e := setupTryOnServer(generator, nil)

	body := models.TryOnRequestBody{
		Person:   &models.ImagePartBody{Data: "not base64!!", MimeType: models.MimeJPEG},
		Clothing: &models.ImagePartBody{Data: "also not", MimeType: models.MimeJPEG},
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONRequest(http.MethodPost, "/api/tryon", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, generator.Calls())
}

func TestTryOnUnsupportedContentType(t *testing.T) {
	e := setupTryOnServer(&test.GeneratorMock{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/tryon", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTryOnUpstreamIsCalledConcurrently(t *testing.T) {
	generator := &test.GeneratorMock{Delay: 200 * time.Millisecond}
	e := setupTryOnServer(generator, nil)

	started := time.Now()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(4), services.ModeJSON))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(started), 700*time.Millisecond)
}

func TestTryOnAgainstFakeUpstream(t *testing.T) {
	image := test.SolidJPEG(20, 20)
	upstream := test.NewCandidatesServer(image)
	defer upstream.Close()

	generator := services.NewHTTPGenerator(upstream.URL, "test-key", services.DefaultUpstreamTimeout)
	e := setupTryOnServer(generator, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewTryOnRequest(tryOnRequest(2), services.ModeMultipart))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeImages(t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, image, got[0])
	assert.Equal(t, int64(2), upstream.Requests.Load())
}
