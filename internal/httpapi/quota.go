package httpapi

import (
	"net/http"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

type transactionView struct {
	ID                   string                 `json:"id"`
	QuotaID              string                 `json:"quota_id"`
	Type                 models.TransactionType `json:"type"`
	Amount               int                    `json:"amount"`
	BalanceBefore        int                    `json:"balance_before"`
	BalanceAfter         int                    `json:"balance_after"`
	RelatedTransactionID *string                `json:"related_transaction_id,omitempty"`
	Note                 string                 `json:"note,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

func newTransactionViews(txs []models.QuotaTransaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, transactionView{
			ID:                   t.ID,
			QuotaID:              t.QuotaID,
			Type:                 t.Type,
			Amount:               t.Amount,
			BalanceBefore:        t.BalanceBefore,
			BalanceAfter:         t.BalanceAfter,
			RelatedTransactionID: t.RelatedTransactionID,
			Note:                 t.Note,
			CreatedAt:            t.CreatedAt,
		})
	}
	return views
}

// handleQuota is the page-load entry point: it issues the daily free grant
// when due before reporting the balance.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	overview, err := s.deps.Users.Overview(r.Context(), currentUser(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.deps.Quotas.Grants(r.Context(), currentUser(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grants)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	txs, err := s.deps.Quotas.Transactions(r.Context(), currentUser(r), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newTransactionViews(txs))
}
