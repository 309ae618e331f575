package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/service"
)

// adminTransactionLimit caps the ledger excerpt in the admin user view.
const adminTransactionLimit = 50

type adminGrantRequest struct {
	UserID    string           `json:"user_id" validate:"required,max=128"`
	Type      models.QuotaType `json:"type" validate:"required"`
	Amount    int              `json:"amount" validate:"gt=0"`
	ExpiresAt *time.Time       `json:"expires_at"`
}

type adminRefundRequest struct {
	Note string `json:"note"`
}

type adminUserQuota struct {
	UserID       string                `json:"user_id"`
	UserType     models.UserType       `json:"user_type"`
	Balance      int                   `json:"balance"`
	Grants       service.GrantOverview `json:"grants"`
	Transactions []transactionView     `json:"transactions"`
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validate.Struct(req); err != nil {
		s.badRequest(w, err)
		return
	}
	if !req.Type.Valid() {
		s.badRequest(w, fmt.Errorf("unknown quota type %q", req.Type))
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		s.badRequest(w, errors.New("expires_at must be in the future"))
		return
	}

	id, err := s.deps.Quotas.IssueGrant(r.Context(), service.GrantInput{
		UserID:    req.UserID,
		Type:      req.Type,
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.log.Info("admin grant issued", "user_id", req.UserID, "quota_id", id, "type", req.Type, "amount", req.Amount)
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleAdminUserQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	userType, err := s.deps.Billing.UserType(ctx, userID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	balance, err := s.deps.Quotas.Balance(ctx, userID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	grants, err := s.deps.Quotas.Grants(ctx, userID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	txs, err := s.deps.Quotas.Transactions(ctx, userID, adminTransactionLimit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, adminUserQuota{
		UserID:       userID,
		UserType:     userType,
		Balance:      balance,
		Grants:       grants,
		Transactions: newTransactionViews(txs),
	})
}

// handleAdminRefund reverses a consume transaction by hand, e.g. a debit
// whose task never reached the provider.
func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	var req adminRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "manual refund"
	}

	txID := chi.URLParam(r, "transactionID")
	refundID, err := s.deps.Quotas.Refund(r.Context(), txID, note)
	switch {
	case err == nil:
		s.log.Info("admin refund", "transaction_id", txID, "refund_id", refundID)
		s.writeJSON(w, http.StatusOK, map[string]string{"refund_transaction_id": refundID})
	case errors.Is(err, service.ErrTransactionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransactionType):
		s.badRequest(w, err)
	case errors.Is(err, service.ErrAlreadyRefunded):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, r, err)
	}
}
