package flume

import "context"

// Identity is an opaque reference to the requesting user.
type Identity struct {
	ID   string
	Name string
}

// RateLimiter decides whether an identity may start a new turn.
// Check returns the remaining quota, or an error when the quota is
// exhausted (callers treat that as critical).
type RateLimiter interface {
	Check(ctx context.Context, id Identity) (remaining int, err error)
}
