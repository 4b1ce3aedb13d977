package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-gateway/internal/common/errors"
)

func TestScorerScore(t *testing.T) {
	var gotReq ScoreRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/agent-gemini", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]string{"rekomendasi": "add iron-rich foods"})
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)
	scorer.SetAPIKey("scorer-key")

	recommendation, err := scorer.Score(context.Background(), ScoreRequest{
		ID:     "reading-1",
		Age:    24,
		Height: 85.5,
		Gender: "female",
		Status: "at-risk",
	})
	require.NoError(t, err)
	assert.Equal(t, "add iron-rich foods", recommendation)
	assert.Equal(t, "reading-1", gotReq.ID)
	assert.Equal(t, 24, gotReq.Age)
	assert.Equal(t, 85.5, gotReq.Height)
	assert.Equal(t, "female", gotReq.Gender)
	assert.Equal(t, "at-risk", gotReq.Status)
	assert.Equal(t, "Bearer scorer-key", gotAuth)
}

func TestScorerScoreModernFieldName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"recommendation": "continue monitoring"})
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	recommendation, err := scorer.Score(context.Background(), ScoreRequest{ID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "continue monitoring", recommendation)
}

func TestScorerScoreEmptyRecommendation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"other": "field"})
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	recommendation, err := scorer.Score(context.Background(), ScoreRequest{ID: "r"})
	require.NoError(t, err)
	assert.Empty(t, recommendation)
}

func TestScorerScoreUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{ID: "r"})
	assert.True(t, errors.IsType(err, errors.ErrTypeEnrichment))
}

func TestScorerScoreTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = scorer.Score(ctx, ScoreRequest{ID: "r"})
	assert.Error(t, err)
}

func TestNewScorerRequiresURL(t *testing.T) {
	_, err := NewScorer("", time.Second, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestScorerHealth(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	scorer, err := NewScorer(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	status = http.StatusOK
	assert.NoError(t, scorer.Health(context.Background()))

	status = http.StatusInternalServerError
	assert.Error(t, scorer.Health(context.Background()))
}
