package busline

import (
	"context"
	"sync"
	"time"
)

// Filter is a pluggable pre/post processing step for deliveries.
// Inbound filters run before the dispatch pipeline; outbound filters run
// after serialization on the publish side. Returning false drops the
// delivery without error.
type Filter interface {
	Process(ctx context.Context, d *Delivery) (allow bool, err error)
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(ctx context.Context, d *Delivery) (bool, error)

// Process invokes the function.
func (f FilterFunc) Process(ctx context.Context, d *Delivery) (bool, error) {
	return f(ctx, d)
}

// DedupFilter drops redeliveries of correlation IDs seen within a TTL
// window. It is an in-process filter; distributed deployments should use
// a shared back-end (see adapters/redis).
type DedupFilter struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// Ensure interface compliance at compile time
var _ Filter = (*DedupFilter)(nil)

// DedupOption configures a DedupFilter.
type DedupOption func(*DedupFilter)

// WithDedupTTL sets how long a correlation ID is remembered.
func WithDedupTTL(d time.Duration) DedupOption {
	return func(f *DedupFilter) {
		if d > 0 {
			f.ttl = d
		}
	}
}

// WithDedupClock sets the time source (useful for testing).
func WithDedupClock(now func() time.Time) DedupOption {
	return func(f *DedupFilter) {
		if now != nil {
			f.now = now
		}
	}
}

// NewDedupFilter creates a DedupFilter with a 10 minute window.
func NewDedupFilter(opts ...DedupOption) *DedupFilter {
	f := &DedupFilter{
		ttl:  10 * time.Minute,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Process allows the first delivery of a correlation ID within the TTL
// window and drops subsequent ones. Redelivered copies on the retry path
// are allowed through so the retry policy stays in charge.
func (f *DedupFilter) Process(ctx context.Context, d *Delivery) (bool, error) {
	id := d.Headers[HeaderCorrelationID]
	if id == "" {
		return true, nil
	}
	if d.Headers.RetryCount() > 0 {
		return true, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for k, expiry := range f.seen {
		if expiry.Before(now) {
			delete(f.seen, k)
		}
	}

	if _, dup := f.seen[id]; dup {
		return false, nil
	}

	f.seen[id] = now.Add(f.ttl)
	return true, nil
}
