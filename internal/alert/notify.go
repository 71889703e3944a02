// Package alert turns seizure events into durable records and user-facing
// alerts: persistence, notification, UI dispatch and SMS fan-out, each leg
// isolated from the others' failures.
package alert

import "context"

// NotifyKind selects the notification channel.
type NotifyKind int

const (
	// KindStatusInfo is a low-priority connection status update, suppressed
	// while the UI is foregrounded.
	KindStatusInfo NotifyKind = iota
	// KindSeizure is a high-priority alert that always fires.
	KindSeizure
)

// String returns the channel name.
func (k NotifyKind) String() string {
	if k == KindSeizure {
		return "seizure"
	}
	return "status"
}

// Notification is one user-facing alert. DeepLinkID carries the seizure
// record id so the UI can open the matching history entry.
type Notification struct {
	Kind       NotifyKind
	Title      string
	Body       string
	DeepLinkID string
}

// Notifier raises local notifications. Implementations must not block for
// long; failures are reported, never fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
