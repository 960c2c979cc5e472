package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"lawchat-backend/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, ratelimit.Config{})

	w := s.get("/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDiagnostics_Test(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, ratelimit.Config{})

	w := s.get("/api/test")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status         string `json:"status"`
		ArticleCount   int    `json:"articleCount"`
		Provider       string `json:"provider"`
		SampleArticles []int  `json:"sampleArticles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 3, body.ArticleCount)
	assert.Equal(t, "scripted", body.Provider)
	assert.Equal(t, []int{1, 9, 25}, body.SampleArticles)
}

func TestDiagnostics_TestKey(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, ratelimit.Config{})

	w := s.get("/api/test-key")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","provider":"scripted"}`, w.Body.String())
}

func TestDiagnostics_TestKeyFailure(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{pingErr: errors.New("invalid api key")}, ratelimit.Config{})

	w := s.get("/api/test-key")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"status":"error","provider":"scripted","error":"invalid api key"}`, w.Body.String())
}

func TestDiagnostics_NotRateLimited(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, ratelimit.Config{Max: 1})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.get("/api/test").Code)
	}
}
