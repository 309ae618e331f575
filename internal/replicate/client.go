// Package replicate submits predictions to the Replicate HTTP API and reads
// its prediction webhooks.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/provider"
)

const Name = "replicate"

var statuses = provider.StatusTable{
	"starting":   models.TaskProcessing,
	"processing": models.TaskProcessing,
	"succeeded":  models.TaskCompleted,
	"failed":     models.TaskFailed,
	"canceled":   models.TaskFailed,
}

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		token:      cfg.ReplicateAPIToken,
		baseURL:    strings.TrimRight(cfg.ReplicateBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) Name() string {
	return Name
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	Logs   string          `json:"logs"`
}

// Submit creates a prediction on an official model ("owner/name").
func (c *Client) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	owner, name, ok := strings.Cut(req.Model, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("replicate model must be owner/name, got %q", req.Model)
	}

	body, err := json.Marshal(map[string]any{
		"input":                 buildInput(req.Parameters),
		"webhook":               req.CallbackURL,
		"webhook_events_filter": []string{"start", "completed"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal prediction: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/%s/predictions", c.baseURL, owner, name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post replicate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("replicate create prediction failed", "status", resp.StatusCode, "model", req.Model)
		}
		return "", fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncate(raw))
	}

	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode prediction: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("empty prediction id in response")
	}
	if c.log != nil {
		c.log.Info("replicate prediction created", "prediction_id", p.ID, "model", req.Model)
	}
	return p.ID, nil
}

func buildInput(p models.TaskParameters) map[string]any {
	input := map[string]any{"prompt": p.Prompt}
	if p.AspectRatio != "" {
		input["aspect_ratio"] = p.AspectRatio
	}
	if p.OutputFormat != "" {
		input["output_format"] = strings.ToLower(p.OutputFormat)
	}
	if p.Seed != nil {
		input["seed"] = *p.Seed
	}
	if len(p.InputURLs) > 0 {
		input["image_prompt"] = p.InputURLs[0]
	}
	for k, v := range p.Extra {
		if _, taken := input[k]; !taken {
			input[k] = v
		}
	}
	return input
}

// ParseWebhook reads a prediction object. Output is either a URL or a list of URLs.
func (c *Client) ParseWebhook(body []byte) (provider.Update, error) {
	var p prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return provider.Update{}, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if p.ID == "" && p.Status == "" {
		return provider.Update{}, fmt.Errorf("%w: missing id and status", provider.ErrMalformedPayload)
	}

	update := provider.Update{
		Status:            statuses.Map(p.Status),
		NativeStatus:      p.Status,
		ProviderRequestID: p.ID,
	}
	switch update.Status {
	case models.TaskCompleted:
		urls, err := outputURLs(p.Output)
		if err != nil {
			return provider.Update{}, fmt.Errorf("%w: output: %v", provider.ErrMalformedPayload, err)
		}
		for _, u := range urls {
			update.Outputs = append(update.Outputs, models.TaskResult{URL: u, Type: "image"})
		}
	case models.TaskFailed:
		update.ErrorCode = strings.ToLower(p.Status)
		update.ErrorMessage = errorText(p.Error)
		if update.ErrorMessage == "" && update.ErrorCode == "canceled" {
			update.ErrorMessage = "prediction canceled"
		}
	}
	return update, nil
}

func outputURLs(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var single string
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	out := list[:0]
	for _, u := range list {
		if u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func errorText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
