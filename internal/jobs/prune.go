// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"time"
)

// Cleaner is satisfied by *ratelimit.Limiter.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) error
}

// PruneRateLimits returns a loop function that drops buckets idle for
// longer than retention and buckets of unconfigured action types.
func PruneRateLimits(c Cleaner, retention time.Duration) Func {
	return func(ctx context.Context) error {
		return c.Cleanup(ctx, retention)
	}
}
