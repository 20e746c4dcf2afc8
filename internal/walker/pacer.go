package walker

import (
	"context"
	"time"
)

// DefaultPageDelay is the pause between page fetches.
const DefaultPageDelay = 5 * time.Second

// Pacer decides how long the walk pauses after a page has been consumed.
type Pacer interface {
	Wait(ctx context.Context, page int) error
}

// FixedDelay pauses for the same duration after every page.
type FixedDelay time.Duration

func (d FixedDelay) Wait(ctx context.Context, _ int) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(d))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay never pauses.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context, _ int) error {
	return ctx.Err()
}
