// Package collab holds the default collaborator implementations wired by the
// service binary: HTTP-backed analyzer and issue-creation clients and a Slack
// incoming-webhook notifier. The orchestrator itself only sees the interfaces
// in the lifecycle package.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arlo/taskdeck/internal/lifecycle"
	"github.com/arlo/taskdeck/internal/task"
)

// HTTPAnalyzer calls an external analysis service over HTTP.
type HTTPAnalyzer struct {
	URL    string
	Client *http.Client
}

type analyzeRequest struct {
	Task           *task.Task         `json:"task"`
	Clarifications []lifecycle.QAPair `json:"clarifications,omitempty"`
}

// Analyze posts the task to the analysis endpoint and decodes the verdict.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, t *task.Task, clarifications []lifecycle.QAPair) (*lifecycle.Analysis, error) {
	var analysis lifecycle.Analysis
	if err := a.post(ctx, a.URL, analyzeRequest{Task: t, Clarifications: clarifications}, &analysis); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return &analysis, nil
}

func (a *HTTPAnalyzer) post(ctx context.Context, url string, body, out any) error {
	return postJSON(ctx, a.client(), url, body, out)
}

func (a *HTTPAnalyzer) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

// HTTPIssueCreator calls an external issue-creation service over HTTP.
type HTTPIssueCreator struct {
	URL    string
	Client *http.Client
}

type createIssueRequest struct {
	Task     *task.Task          `json:"task"`
	Analysis *lifecycle.Analysis `json:"analysis"`
}

// CreateIssue posts the task and its analysis to the issue endpoint.
func (c *HTTPIssueCreator) CreateIssue(ctx context.Context, t *task.Task, a *lifecycle.Analysis) (*lifecycle.IssueResult, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	var result lifecycle.IssueResult
	if err := postJSON(ctx, client, c.URL, createIssueRequest{Task: t, Analysis: a}, &result); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &result, nil
}

// postJSON posts body as JSON and decodes the response into out.
// Non-2xx responses surface the server's message as-is.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
