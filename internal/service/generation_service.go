package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/pricing"
	"github.com/digkill/imagecredits/internal/provider"
	"github.com/digkill/imagecredits/internal/repository"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrDispatchFailed      = errors.New("generation provider rejected the request")
	ErrProviderUnavailable = errors.New("generation provider is not configured")
	ErrInvalidInput        = errors.New("invalid generation request")
)

const dispatchFailedCode = "dispatch_failed"

// SubmitInput is a generation request as sent by the client.
type SubmitInput struct {
	TaskType     models.TaskType `json:"task_type" validate:"omitempty,oneof=text-to-image image-to-image"`
	Model        string          `json:"model" validate:"omitempty,max=128"`
	Prompt       string          `json:"prompt" validate:"required,max=4000"`
	AspectRatio  string          `json:"aspect_ratio" validate:"omitempty,max=16"`
	Resolution   string          `json:"resolution" validate:"omitempty,max=8"`
	OutputFormat string          `json:"output_format" validate:"omitempty,oneof=png jpg jpeg webp"`
	Seed         *int64          `json:"seed"`
	InputURLs    []string        `json:"input_urls" validate:"omitempty,max=8,dive,url"`
	Extra        map[string]any  `json:"extra"`
}

type SubmitResult struct {
	TaskID      string            `json:"task_id"`
	ShareID     string            `json:"share_id"`
	Status      models.TaskStatus `json:"status"`
	CreditsCost int               `json:"credits_cost"`
}

type TaskErrorView struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TaskView is what clients see of a task. Result and error fields depend on status.
type TaskView struct {
	TaskID      string              `json:"task_id"`
	ShareID     string              `json:"share_id"`
	Status      models.TaskStatus   `json:"status"`
	Progress    int                 `json:"progress"`
	TaskType    models.TaskType     `json:"task_type"`
	Model       string              `json:"model"`
	CreatedAt   time.Time           `json:"created_at"`
	Results     []models.TaskResult `json:"results,omitempty"`
	Error       *TaskErrorView      `json:"error,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
}

func NewTaskView(t *models.GenerationTask) TaskView {
	view := TaskView{
		TaskID:    t.ID,
		ShareID:   t.ShareID,
		Status:    t.Status,
		Progress:  t.Progress,
		TaskType:  t.TaskType,
		Model:     t.Model,
		CreatedAt: t.CreatedAt,
	}
	switch t.Status {
	case models.TaskCompleted:
		view.Results = t.Results
		view.CompletedAt = t.CompletedAt
	case models.TaskFailed:
		view.Error = &TaskErrorView{Message: "generation failed"}
		if t.Error != nil {
			view.Error = &TaskErrorView{Code: t.Error.Code, Message: t.Error.Message}
		}
		view.CompletedAt = t.CompletedAt
	default:
		started := t.StartedAt
		view.StartedAt = &started
	}
	return view
}

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	store     repository.Store
	quotas    *QuotaService
	catalog   *pricing.Catalog
	providers *provider.Registry
	alerter   Alerter
	validate  *validator.Validate
	now       func() time.Time
}

func NewGenerationService(cfg config.Config, log *slog.Logger, store repository.Store, quotas *QuotaService, catalog *pricing.Catalog, providers *provider.Registry, alerter Alerter) *GenerationService {
	if alerter == nil {
		alerter = NopAlerter{}
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &GenerationService{
		cfg:       cfg,
		log:       log.With("component", "generation"),
		store:     store,
		quotas:    quotas,
		catalog:   catalog,
		providers: providers,
		alerter:   alerter,
		validate:  v,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateAndDispatch debits the request's cost and records the pending task in
// one transaction, then hands the job to the provider. When the provider call
// fails the debit is refunded and the task is closed as failed.
func (s *GenerationService) CreateAndDispatch(ctx context.Context, userID string, in SubmitInput) (*SubmitResult, error) {
	if err := s.validateInput(&in); err != nil {
		return nil, err
	}

	cost := s.catalog.Cost(in.TaskType, in.Model, in.Resolution)
	price, priced := s.catalog.Lookup(in.TaskType, in.Model)
	var prov provider.Provider
	if priced {
		p, ok := s.providers.Get(price.Provider)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, price.Provider)
		}
		prov = p
	}

	now := s.now()
	task := &models.GenerationTask{
		ID:       uuid.NewString(),
		ShareID:  newShareID(),
		UserID:   userID,
		TaskType: in.TaskType,
		Provider: price.Provider,
		Model:    in.Model,
		Status:   models.TaskPending,
		Parameters: models.TaskParameters{
			Prompt:       in.Prompt,
			AspectRatio:  in.AspectRatio,
			Resolution:   in.Resolution,
			OutputFormat: in.OutputFormat,
			Seed:         in.Seed,
			InputURLs:    in.InputURLs,
			Extra:        in.Extra,
		},
		CreditsCost: cost,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		txID, err := s.quotas.DebitTx(ctx, tx, userID, cost, "generation "+task.ID)
		if err != nil {
			return err
		}
		// Unpriced models cost UnknownCost, so this is only reached by an
		// account holding that much; still nothing can run it.
		if prov == nil {
			return fmt.Errorf("%w: no provider serves %s", ErrProviderUnavailable, in.Model)
		}
		task.ConsumeTransactionID = txID
		if err := tx.Tasks().Create(ctx, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	requestID, err := prov.Submit(ctx, provider.SubmitRequest{
		TaskID:      task.ID,
		TaskType:    task.TaskType,
		Model:       task.Model,
		Parameters:  task.Parameters,
		CallbackURL: provider.CallbackURL(s.cfg.PublicBaseURL, prov.Name(), task.ID, s.cfg.WebhookSigningSecret),
	})
	if err != nil {
		s.log.Error("dispatch failed", "task_id", task.ID, "provider", prov.Name(), "model", task.Model, "err", err)
		s.compensateDispatch(context.WithoutCancel(ctx), task)
		return nil, ErrDispatchFailed
	}

	if requestID != "" {
		if err := s.store.Tasks().SetProviderRequestID(ctx, task.ID, requestID); err != nil {
			// The first webhook fills it in as well.
			s.log.Warn("store provider request id", "task_id", task.ID, "request_id", requestID, "err", err)
		}
	}
	s.log.Info("task dispatched", "task_id", task.ID, "user_id", userID, "provider", prov.Name(), "model", task.Model, "credits", cost)

	return &SubmitResult{
		TaskID:      task.ID,
		ShareID:     task.ShareID,
		Status:      models.TaskPending,
		CreditsCost: cost,
	}, nil
}

// compensateDispatch refunds the debit of a task the provider never accepted
// and closes the task as failed, unless a webhook already settled it.
func (s *GenerationService) compensateDispatch(ctx context.Context, task *models.GenerationTask) {
	var refundErr error
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Tasks().LockForUpdate(ctx, task.ID, task.Provider)
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if current == nil || !models.CanTransition(current.Status, models.TaskFailed) {
			return nil
		}
		taskErr := &models.TaskError{Code: dispatchFailedCode, Message: ErrDispatchFailed.Error()}
		refundID, err := s.quotas.RefundTx(ctx, tx, current.ConsumeTransactionID, "dispatch failed "+current.ID)
		switch {
		case err == nil:
			current.RefundTransactionID = &refundID
		case isRefundBusinessError(err):
			refundErr = err
			taskErr.RefundError = err.Error()
		default:
			return err
		}
		completed := s.now()
		current.Status = models.TaskFailed
		current.Error = taskErr
		current.CompletedAt = &completed
		if err := tx.Tasks().Update(ctx, current); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("dispatch compensation failed", "task_id", task.ID, "consume_transaction_id", task.ConsumeTransactionID, "err", err)
		s.alert(ctx, fmt.Sprintf("Dispatch compensation failed for task %s (consume %s): %v", task.ID, task.ConsumeTransactionID, err))
		return
	}
	if refundErr != nil {
		s.log.Error("dispatch refund not recorded", "task_id", task.ID, "err", refundErr)
		s.alert(ctx, fmt.Sprintf("Refund not recorded for task %s after dispatch failure: %v", task.ID, refundErr))
	}
}

func (s *GenerationService) alert(ctx context.Context, text string) {
	if err := s.alerter.Alert(ctx, text); err != nil {
		s.log.Warn("send alert", "err", err)
	}
}

// PollStatus returns the caller's own task. A task owned by someone else is
// reported exactly like a missing one.
func (s *GenerationService) PollStatus(ctx context.Context, taskID, userID string) (*TaskView, error) {
	task, err := s.store.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil || task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	view := NewTaskView(task)
	return &view, nil
}

// SharedTask looks a task up by its public share id. Anyone holding the link may read it.
func (s *GenerationService) SharedTask(ctx context.Context, shareID string) (*TaskView, error) {
	task, err := s.store.Tasks().GetByShareID(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("get shared task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	view := NewTaskView(task)
	return &view, nil
}

func (s *GenerationService) ListTasks(ctx context.Context, userID string, limit, offset int) ([]TaskView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	tasks, err := s.store.Tasks().ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	views := make([]TaskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, NewTaskView(&tasks[i]))
	}
	return views, nil
}

// DeleteTask hides a task from the owner's history and its share link.
// Credits are unaffected; a late webhook still settles them.
func (s *GenerationService) DeleteTask(ctx context.Context, taskID, userID string) error {
	deleted, err := s.store.Tasks().SoftDelete(ctx, taskID, userID, s.now())
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if !deleted {
		return ErrTaskNotFound
	}
	return nil
}

// validateInput checks the request shape and fills in the task type and model defaults.
func (s *GenerationService) validateInput(in *SubmitInput) error {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.Model = strings.TrimSpace(in.Model)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %s", ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.TaskType == "" {
		in.TaskType = models.TaskTextToImage
		if len(in.InputURLs) > 0 {
			in.TaskType = models.TaskImageToImage
		}
	}
	if in.TaskType == models.TaskImageToImage && len(in.InputURLs) == 0 {
		return fmt.Errorf("%w: input_urls required for %s", ErrInvalidInput, in.TaskType)
	}
	if in.Model == "" {
		in.Model = s.catalog.DefaultModel(in.TaskType)
	}
	if in.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	return nil
}

func isRefundBusinessError(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrAlreadyRefunded)
}

func newShareID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
