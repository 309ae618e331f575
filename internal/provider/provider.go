// Package provider defines the contract every image-generation backend
// implements and the canonical status vocabulary their callbacks map into.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/digkill/imagecredits/internal/models"
)

// ErrMalformedPayload marks a callback body that could not be understood.
var ErrMalformedPayload = errors.New("malformed webhook payload")

type SubmitRequest struct {
	TaskID      string
	TaskType    models.TaskType
	Model       string
	Parameters  models.TaskParameters
	CallbackURL string
}

// Update is a provider callback translated into canonical terms.
type Update struct {
	Status            models.TaskStatus
	NativeStatus      string
	ProviderRequestID string
	Progress          *int
	Outputs           []models.TaskResult
	ErrorCode         string
	ErrorMessage      string
}

type Provider interface {
	Name() string
	// Submit starts an asynchronous job and returns the provider's request id.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	ParseWebhook(body []byte) (Update, error)
}

// StatusTable maps a provider's native status names to canonical statuses.
type StatusTable map[string]models.TaskStatus

// Map is case-insensitive. Unknown names map to pending so that a new
// vocabulary never finishes or fails a task by accident.
func (t StatusTable) Map(native string) models.TaskStatus {
	if st, ok := t[strings.ToLower(strings.TrimSpace(native))]; ok {
		return st
	}
	return models.TaskPending
}

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
