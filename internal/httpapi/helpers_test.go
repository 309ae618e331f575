package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/internal/auth"
	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/pricing"
	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/ratelimit"
	"github.com/digkill/imagecredits/internal/repository/memory"
	"github.com/digkill/imagecredits/internal/service"
	"github.com/digkill/imagecredits/pkg/logger"
)

const (
	testJWTSecret     = "jwt-secret"
	testHookSecret    = "hook-secret"
	testBillingSecret = "billing-secret"
	testAdminPassword = "admin-pass"
)

// stubProvider accepts every submission and understands
// {"status": "...", "outputs": [...], "error": "..."} callbacks.
type stubProvider struct {
	mu        sync.Mutex
	submitErr error
	submitted int
}

func (p *stubProvider) Name() string { return "kie" }

func (p *stubProvider) Submit(context.Context, provider.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted++
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "req-1", nil
}

func (p *stubProvider) ParseWebhook(body []byte) (provider.Update, error) {
	var payload struct {
		Status  string   `json:"status"`
		Outputs []string `json:"outputs"`
		Error   string   `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status == "" {
		return provider.Update{}, provider.ErrMalformedPayload
	}
	update := provider.Update{
		Status: provider.StatusTable{
			"running": models.TaskProcessing,
			"done":    models.TaskCompleted,
			"error":   models.TaskFailed,
		}.Map(payload.Status),
		NativeStatus: payload.Status,
		ErrorMessage: payload.Error,
	}
	for _, u := range payload.Outputs {
		update.Outputs = append(update.Outputs, models.TaskResult{URL: u, Type: "image"})
	}
	return update, nil
}

type stubUploader struct {
	err         error
	contentType string
	size        int
}

func (u *stubUploader) Upload(_ context.Context, data []byte, contentType string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.contentType = contentType
	u.size = len(data)
	return "https://cdn.example.com/references/ref.png", nil
}

type apiEnv struct {
	srv      *Server
	auth     *auth.Authenticator
	store    *memory.Store
	quotas   *service.QuotaService
	provider *stubProvider
	uploader *stubUploader
}

func newAPIEnv(t *testing.T, limiter ratelimit.Limiter) *apiEnv {
	t.Helper()
	log := logger.Discard()
	cfg := config.Config{
		HTTPListenAddr:       ":0",
		PublicBaseURL:        "https://app.example.com",
		WebhookSigningSecret: testHookSecret,
		BillingWebhookSecret: testBillingSecret,
		AdminUsername:        "admin",
		AdminPassword:        testAdminPassword,
	}
	catalog, err := pricing.Default()
	require.NoError(t, err)

	store := memory.NewStore()
	stub := &stubProvider{}
	registry := provider.NewRegistry(stub)
	alerter := service.NopAlerter{}
	quotas := service.NewQuotaService(store, log)
	daily := service.NewDailyQuotaIssuer(store, quotas, 30, log)
	billing := service.NewBillingService(log, store, quotas, catalog)
	authn := auth.NewAuthenticator(testJWTSecret)
	uploader := &stubUploader{}

	srv := NewServer(cfg, log, Deps{
		Auth:        authn,
		Generations: service.NewGenerationService(cfg, log, store, quotas, catalog, registry, alerter),
		Webhooks:    service.NewWebhookService(log, store, quotas, registry, alerter),
		Billing:     billing,
		Quotas:      quotas,
		Users:       service.NewUserService(log, billing, daily, quotas),
		Uploader:    uploader,
		Limiter:     limiter,
	})
	return &apiEnv{srv: srv, auth: authn, store: store, quotas: quotas, provider: stub, uploader: uploader}
}

func (e *apiEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) fund(t *testing.T, userID string, amount int) {
	t.Helper()
	_, err := e.quotas.IssueGrant(context.Background(), service.GrantInput{UserID: userID, Type: models.QuotaPack, Amount: amount})
	require.NoError(t, err)
}

// do sends a request as userID; an empty userID sends no credentials.
func (e *apiEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	return e.send(req)
}

func (e *apiEnv) send(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func callbackPath(taskID string) string {
	return "/webhook/kie/" + taskID + "?token=" + provider.CallbackToken(testHookSecret, "kie", taskID)
}
