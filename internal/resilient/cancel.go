package resilient

import (
	"context"
)

// Any returns a context that is done as soon as any parent is done. Its
// cause is the cause of the first parent to finish. Values are looked up
// in the first parent. The returned CancelFunc releases the parent
// watchers and must be called once the context is no longer needed.
func Any(parents ...context.Context) (context.Context, context.CancelFunc) {
	if len(parents) == 0 {
		return context.WithCancel(context.Background())
	}

	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parents[0]))

	stops := make([]func() bool, 0, len(parents))
	for _, p := range parents {
		if p.Err() != nil {
			cancel(context.Cause(p))
			break
		}
		p := p
		stops = append(stops, context.AfterFunc(p, func() {
			cancel(context.Cause(p))
		}))
	}

	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel(context.Canceled)
	}
}
