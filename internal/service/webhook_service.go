package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/repository"
)

var ErrUnknownProvider = errors.New("unknown provider")

// processingProgress is reported while a provider gives no progress of its own.
const processingProgress = 50

// WebhookService applies provider callbacks to tasks. It is the only place a
// task changes status after dispatch.
type WebhookService struct {
	log       *slog.Logger
	store     repository.Store
	quotas    *QuotaService
	providers *provider.Registry
	alerter   Alerter
	now       func() time.Time
}

func NewWebhookService(log *slog.Logger, store repository.Store, quotas *QuotaService, providers *provider.Registry, alerter Alerter) *WebhookService {
	if alerter == nil {
		alerter = NopAlerter{}
	}
	return &WebhookService{
		log:       log.With("component", "webhook"),
		store:     store,
		quotas:    quotas,
		providers: providers,
		alerter:   alerter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle maps the payload and applies it under the task row lock. A task that
// already reached a terminal state is left untouched, so redeliveries are safe.
// Storage errors are returned so the provider retries.
func (s *WebhookService) Handle(ctx context.Context, providerName, taskID string, body []byte) error {
	p, ok := s.providers.Get(providerName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	update, err := p.ParseWebhook(body)
	if err != nil {
		return err
	}
	log := s.log.With("provider", providerName, "task_id", taskID, "native_status", update.NativeStatus)

	var refundErr error
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		refundErr = nil
		task, err := tx.Tasks().LockForUpdate(ctx, taskID, providerName)
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if task == nil {
			return ErrTaskNotFound
		}
		if task.Status.IsTerminal() {
			log.Info("webhook for finished task ignored", "status", task.Status)
			return nil
		}

		next := *task
		if next.ProviderRequestID == "" && update.ProviderRequestID != "" {
			next.ProviderRequestID = update.ProviderRequestID
		}

		switch update.Status {
		case models.TaskCompleted:
			if len(update.Outputs) == 0 {
				log.Warn("completed webhook without outputs ignored")
				return nil
			}
			completed := s.now()
			next.Status = models.TaskCompleted
			next.Progress = 100
			next.Results = update.Outputs
			next.CompletedAt = &completed
		case models.TaskFailed:
			taskErr := &models.TaskError{Code: update.ErrorCode, Message: update.ErrorMessage}
			if taskErr.Message == "" {
				taskErr.Message = "generation failed"
			}
			refundID, err := s.quotas.RefundTx(ctx, tx, task.ConsumeTransactionID, "generation failed "+task.ID)
			switch {
			case err == nil:
				next.RefundTransactionID = &refundID
			case isRefundBusinessError(err):
				refundErr = err
				taskErr.RefundError = err.Error()
			default:
				return err
			}
			completed := s.now()
			next.Status = models.TaskFailed
			next.Error = taskErr
			next.CompletedAt = &completed
		case models.TaskProcessing:
			next.Status = models.TaskProcessing
			next.Progress = processingProgress
			if update.Progress != nil {
				next.Progress = min(max(*update.Progress, 0), 99)
			}
		default:
			if next.ProviderRequestID == task.ProviderRequestID {
				log.Info("webhook status leaves task unchanged", "mapped_status", update.Status)
				return nil
			}
		}

		if next.Status != task.Status && !models.CanTransition(task.Status, next.Status) {
			log.Warn("webhook transition rejected", "from", task.Status, "to", next.Status)
			return nil
		}
		if err := tx.Tasks().Update(ctx, &next); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		log.Info("task updated", "status", next.Status, "progress", next.Progress)
		return nil
	})
	if err != nil {
		return err
	}

	if refundErr != nil {
		s.log.Error("refund not recorded for failed task", "provider", providerName, "task_id", taskID, "err", refundErr)
		if err := s.alerter.Alert(ctx, fmt.Sprintf("Refund not recorded for failed task %s (%s): %v", taskID, providerName, refundErr)); err != nil {
			s.log.Warn("send alert", "err", err)
		}
	}
	return nil
}
