// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// outcome is a cached tier result. The reason is cached with the flag so a
// repeated validation reports exactly the same fields.
type outcome struct {
	ok     bool
	reason string
}

// outcomeCache is a size-bounded TTL cache of per-host outcomes with
// in-flight deduplication: concurrent lookups of one host share one check.
type outcomeCache struct {
	lru   *expirable.LRU[string, outcome]
	group singleflight.Group
}

func newOutcomeCache(size int, ttl time.Duration) *outcomeCache {
	return &outcomeCache{lru: expirable.NewLRU[string, outcome](size, nil, ttl)}
}

// flight is what one shared check hands to every waiting caller.
type flight struct {
	outcome    outcome
	definitive bool
}

// get returns the cached outcome for host or runs check once, caching the
// result when check reports it as definitive. Concurrent callers share the
// check, which runs under the first caller's ctx; a caller whose own ctx is
// still live when the shared check was cut short runs it again itself.
func (c *outcomeCache) get(ctx context.Context, host string, check func(context.Context) (outcome, bool)) outcome {
	if o, ok := c.lru.Get(host); ok {
		return o
	}
	v, _, _ := c.group.Do(host, func() (any, error) {
		if o, ok := c.lru.Get(host); ok {
			return flight{outcome: o, definitive: true}, nil
		}
		o, definitive := check(ctx)
		if definitive {
			c.lru.Add(host, o)
		}
		return flight{outcome: o, definitive: definitive}, nil
	})
	f := v.(flight)
	if f.definitive || ctx.Err() != nil {
		return f.outcome
	}

	o, definitive := check(ctx)
	if definitive {
		c.lru.Add(host, o)
	}
	return o
}

func (c *outcomeCache) len() int {
	return c.lru.Len()
}

func (c *outcomeCache) purge() {
	c.lru.Purge()
}
