package audit

import "context"

// Store persists audit events. Events for one credential are listed in the
// order they were appended.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByFingerprint(ctx context.Context, fingerprint string) ([]Event, error)
}
