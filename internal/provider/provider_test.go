package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digkill/imagecredits/internal/models"
)

func TestStatusTableDefaultsToPending(t *testing.T) {
	table := StatusTable{
		"running": models.TaskProcessing,
		"done":    models.TaskCompleted,
	}
	assert.Equal(t, models.TaskProcessing, table.Map("RUNNING"))
	assert.Equal(t, models.TaskCompleted, table.Map(" done "))
	assert.Equal(t, models.TaskPending, table.Map("exploded"))
	assert.Equal(t, models.TaskPending, table.Map(""))
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Submit(context.Context, SubmitRequest) (string, error) {
	return "", nil
}
func (s stubProvider) ParseWebhook([]byte) (Update, error) { return Update{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubProvider{name: "replicate"}, nil, stubProvider{name: "kie"})
	assert.Equal(t, []string{"kie", "replicate"}, r.Names())

	p, ok := r.Get("kie")
	assert.True(t, ok)
	assert.Equal(t, "kie", p.Name())

	_, ok = r.Get("midjourney")
	assert.False(t, ok)
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "https://app.example.com/webhook/kie/task-1", CallbackURL("https://app.example.com/", "kie", "task-1", ""))

	signed := CallbackURL("https://app.example.com", "kie", "task-1", "s3cret")
	token := CallbackToken("s3cret", "kie", "task-1")
	assert.Equal(t, "https://app.example.com/webhook/kie/task-1?token="+token, signed)
	assert.True(t, VerifyCallbackToken("s3cret", "kie", "task-1", token))
	assert.False(t, VerifyCallbackToken("s3cret", "kie", "task-2", token))
	assert.False(t, VerifyCallbackToken("s3cret", "replicate", "task-1", token))
	assert.False(t, VerifyCallbackToken("other", "kie", "task-1", token))
}
