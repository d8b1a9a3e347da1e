package event

import (
	"context"
	"fmt"
	"sync"
)

// Source is a producer of events. It runs until ctx is cancelled or the
// producer is exhausted, calling emit for every event. A nil return means the
// producer finished; a non-nil error means it failed and may be restarted.
type Source func(ctx context.Context, emit func(Event)) error

// Never is a Source that emits nothing and returns when ctx is cancelled.
func Never(ctx context.Context, _ func(Event)) error {
	<-ctx.Done()
	return nil
}

// Map returns a Source that applies fn to every event produced by s.
func (s Source) Map(fn func(Event) Event) Source {
	return func(ctx context.Context, emit func(Event)) error {
		return s(ctx, func(e Event) { emit(fn(e)) })
	}
}

// Filter returns a Source that only forwards events for which keep is true.
func (s Source) Filter(keep func(Event) bool) Source {
	return func(ctx context.Context, emit func(Event)) error {
		return s(ctx, func(e Event) {
			if keep(e) {
				emit(e)
			}
		})
	}
}

// Merge returns a Source that runs every src concurrently and serializes
// their events into one emit. It finishes when all sources finish, or fails
// with the first error, cancelling the rest. Merging nothing yields Never.
func Merge(srcs ...Source) Source {
	switch len(srcs) {
	case 0:
		return Never
	case 1:
		return srcs[0]
	}

	return func(ctx context.Context, emit func(Event)) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var mu sync.Mutex
		serial := func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			emit(e)
		}

		errs := make(chan error, len(srcs))
		for _, src := range srcs {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errs <- fmt.Errorf("event: source panicked: %v", r)
					}
				}()
				errs <- src(ctx, serial)
			}()
		}

		var first error
		for range srcs {
			if err := <-errs; err != nil && first == nil {
				first = err
				cancel()
			}
		}
		return first
	}
}
