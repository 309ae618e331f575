package service

import "context"

// Alerter delivers operator alerts for money that could not be settled
// automatically.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, string) error { return nil }
