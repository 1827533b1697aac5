package queue

import "context"

// Notifier is the outbound channel owned by the surrounding service.
// A returned error means delivery failed; it never unwinds the state
// transition that triggered the notification.
type Notifier interface {
	Notify(ctx context.Context, ownerID, message string) error
}
