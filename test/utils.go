package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"tryonapi/models"
	"tryonapi/services"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {

	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

// NewTryOnRequest encodes req the way the client does and wraps it in an
// httptest request against /api/tryon.
func NewTryOnRequest(req models.TryOnRequest, mode services.EncodingMode) *http.Request {
	payload, err := services.EncodeTryOnRequest(req, mode)
	if err != nil {
		panic(err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/api/tryon", bytes.NewReader(payload.Body))
	httpReq.Header.Set("Content-Type", payload.ContentType)
	return httpReq
}

func IntPointer(i int) *int {
	return &i
}

func BoolPointer(b bool) *bool {
	return &b
}
