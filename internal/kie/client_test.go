package kie

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/provider"
)

func TestStatusTable(t *testing.T) {
	cases := map[string]models.TaskStatus{
		"waiting":    models.TaskPending,
		"queuing":    models.TaskPending,
		"generating": models.TaskProcessing,
		"success":    models.TaskCompleted,
		"fail":       models.TaskFailed,
		"SUCCESS":    models.TaskCompleted,
		"cancelled":  models.TaskPending,
		"":           models.TaskPending,
	}
	for native, want := range cases {
		assert.Equal(t, want, statuses.Map(native), native)
	}
}

func TestSubmitCreatesTaskWithCallback(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"kie-task-42"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.Config{KIEAPIKey: "test-key", KIEBaseURL: srv.URL}, nil)
	seed := int64(7)
	id, err := c.Submit(context.Background(), provider.SubmitRequest{
		TaskID:      "t1",
		TaskType:    models.TaskImageToImage,
		Model:       "nano-banana-pro",
		Parameters:  models.TaskParameters{Prompt: "a cat", Resolution: "2K", Seed: &seed, InputURLs: []string{"https://cdn.example.com/ref.png"}},
		CallbackURL: "https://app.example.com/webhook/kie/t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "kie-task-42", id)

	assert.Equal(t, "nano-banana-pro", got["model"])
	assert.Equal(t, "https://app.example.com/webhook/kie/t1", got["callBackUrl"])
	input := got["input"].(map[string]any)
	assert.Equal(t, "a cat", input["prompt"])
	assert.Equal(t, "2K", input["resolution"])
	assert.Equal(t, "png", input["output_format"])
	assert.EqualValues(t, 7, input["seed"])
	assert.Equal(t, []any{"https://cdn.example.com/ref.png"}, input["image_input"])
}

func TestSubmitFluxUsesInputURLs(t *testing.T) {
	input := buildInput(provider.SubmitRequest{
		Model:      "flux-2/pro-image-to-image",
		Parameters: models.TaskParameters{Prompt: "p", InputURLs: []string{"u"}, Extra: map[string]any{"guidance": 3, "prompt": "ignored"}},
	})
	assert.Equal(t, []string{"u"}, input["input_urls"])
	assert.NotContains(t, input, "image_input")
	assert.Equal(t, 3, input["guidance"])
	assert.Equal(t, "p", input["prompt"])
}

func TestSubmitSurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":402,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	c := NewClient(config.Config{KIEAPIKey: "k", KIEBaseURL: srv.URL}, nil)
	_, err := c.Submit(context.Background(), provider.SubmitRequest{Model: "nano-banana-pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer failing.Close()

	c = NewClient(config.Config{KIEAPIKey: "k", KIEBaseURL: failing.URL}, nil)
	_, err = c.Submit(context.Background(), provider.SubmitRequest{Model: "nano-banana-pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestParseWebhookSuccess(t *testing.T) {
	c := &Client{}
	update, err := c.ParseWebhook([]byte(`{"code":200,"msg":"ok","data":{"taskId":"kie-1","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn.example.com/1.png\",\"https://cdn.example.com/2.png\"]}","failCode":null,"failMsg":null}}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, update.Status)
	assert.Equal(t, "kie-1", update.ProviderRequestID)
	assert.Equal(t, []models.TaskResult{
		{URL: "https://cdn.example.com/1.png", Type: "image"},
		{URL: "https://cdn.example.com/2.png", Type: "image"},
	}, update.Outputs)
}

func TestParseWebhookFailure(t *testing.T) {
	c := &Client{}
	update, err := c.ParseWebhook([]byte(`{"code":501,"msg":"generation failed","data":{"taskId":"kie-1","state":"fail","failCode":500,"failMsg":""}}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, update.Status)
	assert.Equal(t, "500", update.ErrorCode)
	assert.Equal(t, "generation failed", update.ErrorMessage)
}

func TestParseWebhookSuccessWithoutResults(t *testing.T) {
	c := &Client{}
	update, err := c.ParseWebhook([]byte(`{"code":200,"data":{"taskId":"kie-1","state":"success","resultJson":""}}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, update.Status)
	assert.Empty(t, update.Outputs)
}

func TestParseWebhookMalformed(t *testing.T) {
	c := &Client{}
	for _, body := range []string{
		`not json`,
		`{"code":200}`,
		`{"code":200,"data":{}}`,
		`{"code":200,"data":{"taskId":"kie-1","state":"success","resultJson":"{broken"}}`,
	} {
		_, err := c.ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, provider.ErrMalformedPayload, body)
	}
}
