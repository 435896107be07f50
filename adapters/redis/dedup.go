package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/R-Suite/busline"
)

// Ensure interface compliance at compile time
var _ busline.Filter = (*DedupFilter)(nil)

// DedupFilter suppresses duplicate deliveries across workers by marking
// seen correlation ids in Redis with SET NX and a TTL. Retry-path
// redeliveries carry a retry counter and are never suppressed.
type DedupFilter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// DedupOption configures a DedupFilter.
type DedupOption func(*DedupFilter)

// WithDedupPrefix sets the key namespace prefix.
func WithDedupPrefix(prefix string) DedupOption {
	return func(f *DedupFilter) {
		f.prefix = prefix
	}
}

// WithDedupWindow sets how long a correlation id is remembered.
func WithDedupWindow(ttl time.Duration) DedupOption {
	return func(f *DedupFilter) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// NewDedupFilter creates a Redis-backed deduplication filter.
func NewDedupFilter(client *redis.Client, opts ...DedupOption) *DedupFilter {
	f := &DedupFilter{
		client: client,
		prefix: "busline:dedup",
		ttl:    10 * time.Minute,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Process allows a delivery the first time its correlation id is seen
// within the window. Deliveries without a correlation id always pass.
func (f *DedupFilter) Process(ctx context.Context, d *busline.Delivery) (bool, error) {
	id := d.Headers[busline.HeaderCorrelationID]
	if id == "" || d.Headers.RetryCount() > 0 {
		return true, nil
	}

	key := f.prefix + ":" + d.TypeName + ":" + id
	fresh, err := f.client.SetNX(ctx, key, "1", f.ttl).Result()
	if err != nil {
		return false, storeErr("dedup check failed", err)
	}
	return fresh, nil
}
