package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/service"
)

const signaturePrefix = "sha256="

// handleProviderWebhook is the public callback endpoint for generation
// providers. Replays and late deliveries answer 200 so providers stop retrying.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	taskID := chi.URLParam(r, "taskID")

	if s.webhookSecret != "" {
		token := r.URL.Query().Get("token")
		if !provider.VerifyCallbackToken(s.webhookSecret, providerName, taskID, token) {
			s.log.Warn("webhook token rejected", "provider", providerName, "task_id", taskID)
			s.writeError(w, http.StatusUnauthorized, "invalid callback token")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body error")
		return
	}

	err = s.deps.Webhooks.Handle(r.Context(), providerName, taskID, body)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, provider.ErrMalformedPayload):
		s.writeError(w, http.StatusBadRequest, provider.ErrMalformedPayload.Error())
	case errors.Is(err, service.ErrUnknownProvider):
		s.writeError(w, http.StatusNotFound, service.ErrUnknownProvider.Error())
	case errors.Is(err, service.ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, service.ErrTaskNotFound.Error())
	default:
		s.internalError(w, r, err)
	}
}

// handleBillingWebhook applies payment and subscription events signed with
// X-Signature: sha256=<hex hmac of the body>.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.billingSecret == "" {
		s.writeError(w, http.StatusServiceUnavailable, "billing webhooks are not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	if !validSignature(s.billingSecret, body, r.Header.Get("X-Signature")) {
		s.log.Warn("billing webhook signature rejected")
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev service.BillingEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	applied, err := s.deps.Billing.ApplyEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			s.badRequest(w, err)
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(signBody(secret, body))
	return hmac.Equal(got, want)
}
