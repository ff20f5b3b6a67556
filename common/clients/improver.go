package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ImproverClient calls the seed improver's internal HTTP surface
type ImproverClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewImproverClient creates a new improver client
func NewImproverClient(cfg *ClientConfig, logger Logger) *ImproverClient {
	return &ImproverClient{
		baseURL: cfg.BaseURL,
		http:    NewHTTPClient(&http.Client{Timeout: cfg.Timeout}, cfg.Secret, cfg.Caller, logger),
		logger:  logger,
	}
}

// TriggerRequest is the body of the run and loss triggers
type TriggerRequest struct {
	Pair    string `json:"pair,omitempty"`
	TradeID string `json:"trade_id,omitempty"`
	Async   bool   `json:"async,omitempty"`
}

// RecommendationInfo is one entry of top_recommendations
type RecommendationInfo struct {
	ID             string  `json:"id"`
	Priority       string  `json:"priority"`
	Category       string  `json:"category"`
	ChangeSummary  string  `json:"change_summary"`
	Hypothesis     string  `json:"hypothesis"`
	ExpectedImpact string  `json:"expected_impact"`
	Estimated      float64 `json:"estimated_impact"`
}

// RunResponse is returned by the run and loss triggers
type RunResponse struct {
	Status                 string               `json:"status"`
	RunID                  string               `json:"run_id"`
	TriggerType            string               `json:"trigger_type"`
	Summary                string               `json:"summary"`
	RecommendationsCount   int                  `json:"recommendations_count"`
	TopRecommendations     []RecommendationInfo `json:"top_recommendations"`
	PatternUpdatesCount    int                  `json:"pattern_updates_count"`
	VerdictsSummary        map[string]int       `json:"verdicts_summary"`
	ImplementationsSummary map[string]int       `json:"implementations_summary"`
}

// ChangeStatus is one entry of a status response
type ChangeStatus struct {
	ChangeSummary             string   `json:"change_summary"`
	Priority                  string   `json:"priority"`
	Verdict                   *string  `json:"verdict"`
	VerdictReason             *string  `json:"verdict_reason"`
	VerdictConfidence         *float64 `json:"verdict_confidence"`
	ImplementationOutcome     *string  `json:"implementation_outcome"`
	ImplementationBranch      *string  `json:"implementation_branch"`
	ImplementationCommitSHA   *string  `json:"implementation_commit_sha"`
	ImplementationCheckResult string   `json:"implementation_check_result"`
}

// StatusResponse is returned by the status endpoint
type StatusResponse struct {
	RunID       string         `json:"run_id"`
	TriggerType string         `json:"trigger_type"`
	Status      string         `json:"status"`
	Summary     string         `json:"summary"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at"`
	Changes     []ChangeStatus `json:"changes"`
}

// TriggerRun starts a manual run
func (c *ImproverClient) TriggerRun(ctx context.Context, req TriggerRequest) (*RunResponse, error) {
	var out RunResponse
	if err := c.post(ctx, "/internal/seed-improver/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerLoss starts a loss-triggered run
func (c *ImproverClient) TriggerLoss(ctx context.Context, req TriggerRequest) (*RunResponse, error) {
	var out RunResponse
	if err := c.post(ctx, "/internal/seed-improver/loss", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the durable state of a run
func (c *ImproverClient) Status(ctx context.Context, runID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.get(ctx, "/internal/seed-improver/status/"+url.PathEscape(runID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns fetches recent runs as raw JSON
func (c *ImproverClient) ListRuns(ctx context.Context, limit int) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/internal/seed-improver/runs?limit="+strconv.Itoa(limit), &out)
	return out, err
}

// ListPatterns fetches top patterns as raw JSON
func (c *ImproverClient) ListPatterns(ctx context.Context, limit int) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/internal/seed-improver/patterns?limit="+strconv.Itoa(limit), &out)
	return out, err
}

func (c *ImproverClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	c.logger.Info("triggering seed improver", "path", path)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decode(resp, out)
}

func (c *ImproverClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
