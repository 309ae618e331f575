package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/pricing"
	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/repository/memory"
	"github.com/digkill/imagecredits/pkg/logger"
)

// fakeProvider records submissions and parses a minimal webhook shape:
// {"id": "...", "status": "...", "outputs": ["url"], "error": "...", "progress": n}.
type fakeProvider struct {
	name      string
	mu        sync.Mutex
	submitErr error
	requestID string
	requests  []provider.SubmitRequest
}

var fakeStatuses = provider.StatusTable{
	"queued":  models.TaskPending,
	"running": models.TaskProcessing,
	"done":    models.TaskCompleted,
	"error":   models.TaskFailed,
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Submit(_ context.Context, req provider.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.requestID, nil
}

func (f *fakeProvider) submitted() []provider.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.SubmitRequest(nil), f.requests...)
}

func (f *fakeProvider) ParseWebhook(body []byte) (provider.Update, error) {
	var payload struct {
		ID       string   `json:"id"`
		Status   string   `json:"status"`
		Outputs  []string `json:"outputs"`
		Error    string   `json:"error"`
		Progress *int     `json:"progress"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status == "" {
		return provider.Update{}, provider.ErrMalformedPayload
	}
	update := provider.Update{
		Status:            fakeStatuses.Map(payload.Status),
		NativeStatus:      payload.Status,
		ProviderRequestID: payload.ID,
		Progress:          payload.Progress,
		ErrorMessage:      payload.Error,
	}
	for _, u := range payload.Outputs {
		update.Outputs = append(update.Outputs, models.TaskResult{URL: u, Type: "image"})
	}
	return update, nil
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func (a *recordingAlerter) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type testEnv struct {
	store    *memory.Store
	quotas   *QuotaService
	daily    *DailyQuotaIssuer
	gen      *GenerationService
	hooks    *WebhookService
	billing  *BillingService
	users    *UserService
	provider *fakeProvider
	alerts   *recordingAlerter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()
	store := memory.NewStore()
	catalog, err := pricing.Default()
	require.NoError(t, err)

	fake := &fakeProvider{name: "kie", requestID: "req-1"}
	registry := provider.NewRegistry(fake)
	alerts := &recordingAlerter{}
	cfg := config.Config{PublicBaseURL: "https://app.example.com", WebhookSigningSecret: "hook-secret"}

	quotas := NewQuotaService(store, log)
	daily := NewDailyQuotaIssuer(store, quotas, 30, log)
	billing := NewBillingService(log, store, quotas, catalog)
	return &testEnv{
		store:    store,
		quotas:   quotas,
		daily:    daily,
		gen:      NewGenerationService(cfg, log, store, quotas, catalog, registry, alerts),
		hooks:    NewWebhookService(log, store, quotas, registry, alerts),
		billing:  billing,
		users:    NewUserService(log, billing, daily, quotas),
		provider: fake,
		alerts:   alerts,
	}
}

// grant inserts a grant row directly, bypassing the accounting engine.
func (e *testEnv) grant(t *testing.T, q models.Quota) models.Quota {
	t.Helper()
	require.NoError(t, e.store.Quotas().Create(context.Background(), &q))
	return q
}

func (e *testEnv) quota(t *testing.T, id string) models.Quota {
	t.Helper()
	q, err := e.store.Quotas().LockByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, q)
	return *q
}

func (e *testEnv) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := e.quotas.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) transactions(t *testing.T, userID string) []models.QuotaTransaction {
	t.Helper()
	txs, err := e.store.Quotas().ListTransactions(context.Background(), userID, 0)
	require.NoError(t, err)
	return txs
}

func (e *testEnv) task(t *testing.T, id string) models.GenerationTask {
	t.Helper()
	task, err := e.store.Tasks().LockForUpdate(context.Background(), id, e.provider.name)
	require.NoError(t, err)
	require.NotNil(t, task)
	return *task
}

func ptrTime(t time.Time) *time.Time { return &t }

var errBoom = errors.New("boom")
