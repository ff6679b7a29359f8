package circleci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	circleAPIBaseURL = "https://circleci.com/api/v2"
	circleAppURL     = "https://app.circleci.com/pipelines"
	defaultTimeout   = 30 * time.Second
)

// APIError is an unsuccessful API response
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsTransient reports whether a trigger failure is worth retrying
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// CircleCIClient handles CircleCI API operations
type CircleCIClient struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewCircleCIClient creates a new CircleCI client. An empty baseURL uses the
// public API.
func NewCircleCIClient(token, baseURL string) *CircleCIClient {
	if baseURL == "" {
		baseURL = circleAPIBaseURL
	}
	return &CircleCIClient{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		token:   token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// ProjectSlug converts an "org/repo" path into a CircleCI project slug
func ProjectSlug(path string) string {
	if strings.Count(path, "/") >= 2 {
		return path
	}
	return "gh/" + path
}

// Trigger starts a pipeline for project on ref with the given parameters.
// token overrides the client token when set.
func (c *CircleCIClient) Trigger(ctx context.Context, project, token, ref string, variables map[string]string) (*Pipeline, error) {
	projectSlug := ProjectSlug(project)
	endpoint := fmt.Sprintf("%s/project/%s/pipeline", c.baseURL, projectSlug)

	body, err := json.Marshal(TriggerRequest{Branch: ref, Parameters: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if token == "" {
		token = c.token
	}
	req.Header.Set("Circle-Token", token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode, URL: endpoint, Message: resp.Status}

		var errResp ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return nil, apiErr
	}

	var pipeline Pipeline
	if err := json.NewDecoder(resp.Body).Decode(&pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	pipeline.WebURL = fmt.Sprintf("%s/%s/%d", circleAppURL, projectSlug, pipeline.Number)

	return &pipeline, nil
}

// Close cleans up the client (no-op for HTTP client)
func (c *CircleCIClient) Close() error {
	return nil
}
