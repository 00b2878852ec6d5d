package inventory

// Config holds the tunables of the inventory feature.
type Config struct {
	// Strategy names the direct deduction strategy
	// (optimistic, pessimistic, cache_counter, segment).
	Strategy string `mapstructure:"strategy" default:"optimistic"`
	// Selection names how the segment path picks a segment
	// (best_match, sequential).
	Selection string `mapstructure:"selection" default:"best_match"`
	// SegmentStock is the standard segment capacity.
	SegmentStock int `mapstructure:"segment_stock" default:"4"`
	// UseProductLock serializes reservations per product behind the
	// distributed lock instead of relying on the optimistic CAS alone.
	UseProductLock bool `mapstructure:"use_product_lock" default:"false"`
	// LockTTLSeconds bounds how long a crashed holder blocks a product.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds" default:"5"`
	// MergeIntervalMinutes is the period of the fragmentation scan.
	MergeIntervalMinutes int `mapstructure:"merge_interval_minutes" default:"60"`
}
