// Package notify delivers best-effort "tasks changed for lead" signals to presentation consumers.
package notify

import (
	"context"
	"errors"
)

// Notifier defines the invalidation signal contract.
type Notifier interface {
	Notify(ctx context.Context, tenantID, leadID string) error
}

// NoopNotifier is a no-op implementation.
type NoopNotifier struct{}

// Notify performs no action.
func (NoopNotifier) Notify(context.Context, string, string) error { return nil }

// Fanout delivers the signal to every wrapped notifier and joins their failures.
type Fanout []Notifier

// Notify calls each notifier in turn; one failure does not stop the rest.
func (f Fanout) Notify(ctx context.Context, tenantID, leadID string) error {
	var err error
	for _, n := range f {
		if n == nil {
			continue
		}
		err = errors.Join(err, n.Notify(ctx, tenantID, leadID))
	}
	return err
}
