// Package mock provides test doubles for flume interfaces using function fields.
package mock

import (
	"context"

	"github.com/flumechat/flume"
)

// Interface compliance checks.
var (
	_ flume.Provider    = (*Provider)(nil)
	_ flume.RateLimiter = (*RateLimiter)(nil)
)

// Provider is a test double for flume.Provider.
// Set StreamFn before calling Stream.
type Provider struct {
	StreamFn func(ctx context.Context, req flume.Request) (flume.Stream, error)
}

// Stream delegates to StreamFn.
func (p *Provider) Stream(ctx context.Context, req flume.Request) (flume.Stream, error) {
	return p.StreamFn(ctx, req)
}

// RateLimiter is a test double for flume.RateLimiter. When CheckFn is nil,
// Check allows everything with a large remaining quota.
type RateLimiter struct {
	CheckFn func(ctx context.Context, id flume.Identity) (int, error)
}

// Check delegates to CheckFn.
func (r *RateLimiter) Check(ctx context.Context, id flume.Identity) (int, error) {
	if r.CheckFn == nil {
		return 1 << 20, nil
	}
	return r.CheckFn(ctx, id)
}
