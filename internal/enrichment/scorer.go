// Package enrichment calls the external recommendation scorer for each
// accepted reading and reconciles the delayed answer back onto the
// stored record. Scoring is strictly best-effort: a reading that never
// gets a recommendation is still a valid reading.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telemetry-gateway/internal/circuitbreaker"
	"telemetry-gateway/internal/common/errors"
)

const scorerPath = "/api/agent-gemini"

// ScoreRequest is the payload sent to the scorer.
type ScoreRequest struct {
	ID     string  `json:"id"`
	Age    int     `json:"age"`
	Height float64 `json:"height"`
	Gender string  `json:"gender"`
	Status string  `json:"status"`
}

// scoreResponse matches the scorer's wire format. Older deployments of
// the upstream service answer with "rekomendasi" instead of
// "recommendation"; both are accepted.
type scoreResponse struct {
	Recommendation string `json:"recommendation"`
	Rekomendasi    string `json:"rekomendasi"`
}

func (r scoreResponse) value() string {
	if r.Recommendation != "" {
		return r.Recommendation
	}
	return r.Rekomendasi
}

// Scorer is an HTTP client for the recommendation service.
type Scorer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.GoBreakerAdapter
}

func NewScorer(baseURL string, timeout time.Duration, breaker *circuitbreaker.GoBreakerAdapter) (*Scorer, error) {
	if baseURL == "" {
		return nil, errors.ConfigError("scorer URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Scorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}, nil
}

// SetAPIKey attaches a bearer credential to scorer requests. Loaded
// from encrypted settings at startup; empty means no auth.
func (s *Scorer) SetAPIKey(key string) {
	s.apiKey = key
}

// Score submits one reading and returns the recommendation text. An
// empty recommendation with nil error means the scorer had nothing to
// say; callers skip the patch in that case.
func (s *Scorer) Score(ctx context.Context, req ScoreRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.InternalError("failed to marshal score request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+scorerPath, bytes.NewReader(body))
	if err != nil {
		return "", errors.EnrichmentError("failed to build score request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	var recommendation string
	call := func() error {
		resp, err := s.client.Do(httpReq)
		if err != nil {
			return errors.EnrichmentError("scorer request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return errors.EnrichmentError(fmt.Sprintf("scorer returned HTTP %d", resp.StatusCode), nil)
		}

		var parsed scoreResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return errors.EnrichmentError("failed to decode scorer response", err)
		}

		recommendation = parsed.value()
		return nil
	}

	if s.breaker != nil {
		err = s.breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return "", err
	}

	return recommendation, nil
}

// Health probes the scorer base URL.
func (s *Scorer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.EnrichmentError("scorer unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return errors.EnrichmentError(fmt.Sprintf("scorer unhealthy: HTTP %d", resp.StatusCode), nil)
	}
	return nil
}
