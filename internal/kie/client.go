package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/provider"
)

const Name = "kie"

// statuses is the jobs API state vocabulary.
var statuses = provider.StatusTable{
	"waiting":    models.TaskPending,
	"queuing":    models.TaskPending,
	"generating": models.TaskProcessing,
	"success":    models.TaskCompleted,
	"fail":       models.TaskFailed,
}

type Client struct {
	apiKey     string
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
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) Name() string {
	return Name
}

// Submit creates a job with a callback URL; KIE reports back through ParseWebhook.
func (c *Client) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"input":       buildInput(req),
		"callBackUrl": req.CallbackURL,
	}
	return c.createTask(ctx, payload)
}

// buildInput shapes parameters the way each model family expects them.
func buildInput(req provider.SubmitRequest) map[string]any {
	p := req.Parameters
	input := map[string]any{
		"prompt": p.Prompt,
	}
	if p.AspectRatio != "" {
		input["aspect_ratio"] = p.AspectRatio
	}
	if p.Resolution != "" {
		input["resolution"] = p.Resolution
	}
	if p.Seed != nil {
		input["seed"] = *p.Seed
	}

	switch {
	case strings.HasPrefix(req.Model, "nano-banana"):
		format := "png"
		if p.OutputFormat != "" {
			format = strings.ToLower(p.OutputFormat)
		}
		input["output_format"] = format
		if len(p.InputURLs) > 0 {
			input["image_input"] = p.InputURLs
		}
	default:
		if len(p.InputURLs) > 0 {
			input["input_urls"] = p.InputURLs
		}
		if p.OutputFormat != "" {
			input["output_format"] = strings.ToLower(p.OutputFormat)
		}
	}

	for k, v := range p.Extra {
		if _, taken := input[k]; !taken {
			input[k] = v
		}
	}
	return input
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse("/api/v1/jobs/createTask")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	fullURL := baseURL.ResolveReference(endpoint).String()

	if c.log != nil {
		c.log.Info("creating KIE task", "url", fullURL, "model", payload["model"])
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE create task failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != http.StatusOK {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	}
	return createResp.Data.TaskID, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
