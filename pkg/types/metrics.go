// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "maps"

// Metrics is an open bag of numeric counters and timings keyed by
// dotted names such as "featured_customers.pages_checked". Writes add or
// overwrite individual keys; the bag is never replaced wholesale.
type Metrics map[string]float64

// Merge copies every key of other into m, overwriting existing keys.
// It returns m, allocating it if nil.
func (m Metrics) Merge(other Metrics) Metrics {
	if m == nil {
		m = make(Metrics, len(other))
	}
	maps.Copy(m, other)
	return m
}

// Add increments key by delta and returns m, allocating it if nil.
func (m Metrics) Add(key string, delta float64) Metrics {
	if m == nil {
		m = make(Metrics)
	}
	m[key] += delta
	return m
}

// Prefixed returns a copy of m with every key prefixed by "prefix.".
func (m Metrics) Prefixed(prefix string) Metrics {
	if prefix == "" {
		return maps.Clone(m)
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[prefix+"."+k] = v
	}
	return out
}
