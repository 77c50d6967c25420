package queue

import "context"

// Job handles every message of one Type.
type Job interface {
	Name() string
	Type() string
	// Handle receives the payload as json.RawMessage; use ParsePayload to
	// decode it. A returned error schedules a retry.
	Handle(ctx context.Context, payload interface{}) error
}
