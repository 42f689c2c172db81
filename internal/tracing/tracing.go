// Package tracing assigns a short-lived correlation id to each inbound
// message purely for log correlation across the goroutines that handle it.
// The id never appears on the wire and carries no meaning beyond this
// process's own logs.
package tracing

import "github.com/google/uuid"

// NewID returns a fresh trace id for one inbound message.
func NewID() string {
	return uuid.NewString()
}
