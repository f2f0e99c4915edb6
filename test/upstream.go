package test

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// UpstreamServer imitates the Gemini generateContent endpoint.
type UpstreamServer struct {
	*httptest.Server

	Requests atomic.Int64
}

// NewCandidatesServer answers every call with one inline PNG candidate.
func NewCandidatesServer(image []byte) *UpstreamServer {
	encoded := base64.StdEncoding.EncodeToString(image)
	body := fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":%q}}]}}]}`, encoded)
	return NewUpstreamServer(http.StatusOK, "application/json", []byte(body))
}

// NewUpstreamServer answers every call with status, content type and body.
func NewUpstreamServer(status int, contentType string, body []byte) *UpstreamServer {
	s := &UpstreamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write(body)
	}))
	return s
}

// NewHangingServer never answers before the client gives up.
func NewHangingServer() *UpstreamServer {
	s := &UpstreamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	return s
}
