package flume

import "context"

// Provider is a strategy pattern interface for upstream token generators.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
