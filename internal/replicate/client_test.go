package replicate

import (
	"context"
	"encoding/json"
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
		"starting":   models.TaskProcessing,
		"processing": models.TaskProcessing,
		"succeeded":  models.TaskCompleted,
		"failed":     models.TaskFailed,
		"canceled":   models.TaskFailed,
		"Succeeded":  models.TaskCompleted,
		"queued":     models.TaskPending,
		"aborted":    models.TaskPending,
	}
	for native, want := range cases {
		assert.Equal(t, want, statuses.Map(native), native)
	}
}

func TestSubmitCreatesPrediction(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/black-forest-labs/flux-schnell/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	}))
	defer srv.Close()

	c := NewClient(config.Config{ReplicateAPIToken: "r8_test", ReplicateBaseURL: srv.URL}, nil)
	id, err := c.Submit(context.Background(), provider.SubmitRequest{
		Model:       "black-forest-labs/flux-schnell",
		Parameters:  models.TaskParameters{Prompt: "lighthouse", AspectRatio: "16:9"},
		CallbackURL: "https://app.example.com/webhook/replicate/t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", id)
	assert.Equal(t, "https://app.example.com/webhook/replicate/t1", body["webhook"])
	input := body["input"].(map[string]any)
	assert.Equal(t, "lighthouse", input["prompt"])
	assert.Equal(t, "16:9", input["aspect_ratio"])
}

func TestSubmitRejectsBadModelAndErrors(t *testing.T) {
	c := NewClient(config.Config{ReplicateAPIToken: "t", ReplicateBaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Submit(context.Background(), provider.SubmitRequest{Model: "flux"})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c = NewClient(config.Config{ReplicateAPIToken: "t", ReplicateBaseURL: srv.URL}, nil)
	_, err = c.Submit(context.Background(), provider.SubmitRequest{Model: "a/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestParseWebhook(t *testing.T) {
	c := &Client{}

	update, err := c.ParseWebhook([]byte(`{"id":"pred-1","status":"succeeded","output":["https://replicate.delivery/a.webp"]}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, update.Status)
	assert.Equal(t, []models.TaskResult{{URL: "https://replicate.delivery/a.webp", Type: "image"}}, update.Outputs)

	update, err = c.ParseWebhook([]byte(`{"id":"pred-1","status":"succeeded","output":"https://replicate.delivery/b.png"}`))
	require.NoError(t, err)
	assert.Len(t, update.Outputs, 1)

	update, err = c.ParseWebhook([]byte(`{"id":"pred-1","status":"failed","error":"NSFW content detected"}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, update.Status)
	assert.Equal(t, "NSFW content detected", update.ErrorMessage)

	update, err = c.ParseWebhook([]byte(`{"id":"pred-1","status":"canceled","error":null}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, update.Status)
	assert.Equal(t, "prediction canceled", update.ErrorMessage)

	update, err = c.ParseWebhook([]byte(`{"id":"pred-1","status":"processing","output":null}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, update.Status)
	assert.Nil(t, update.Progress)
}

func TestParseWebhookMalformed(t *testing.T) {
	c := &Client{}
	for _, body := range []string{`[]`, `{}`, `{"id":"p","status":"succeeded","output":{"nested":true}}`} {
		_, err := c.ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, provider.ErrMalformedPayload, body)
	}
}
