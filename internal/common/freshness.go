// Package common provides shared utilities for SmartFund
package common

import "time"

// Freshness TTLs for upstream data
const (
	FreshnessEstimate = 60 * time.Second
	FreshnessHoldings = 3 * 24 * time.Hour // holdings are disclosed quarterly
	FreshnessFundList = 24 * time.Hour
	FreshnessHistory  = 6 * time.Hour // NAVs publish once per evening
)

// IsFresh returns true if the given timestamp is within the TTL of now.
func IsFresh(updated, now time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
