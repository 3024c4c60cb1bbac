// Package pricing computes the issuance cost of a key. The function is pure:
// no store access, no clock, same inputs always produce the same cost.
package pricing

import (
	"strconv"

	"kuropanel/internal/domain"
)

// untieredPerDayPerDevice is the flat multiplier applied to whole-day
// durations that have no configured price tier.
const untieredPerDayPerDevice = 3

// Cost returns the non-negative cost of issuing a key with the given
// duration, unit, and device count under the policy.
//
// Hour-based durations prorate linearly against the default per-day price.
// Day-based durations use the matching flat tier when one exists, otherwise
// the untiered multiplier.
func Cost(duration int, unit domain.DurationUnit, deviceCount int, policy domain.PricingPolicy) float64 {
	if duration <= 0 || deviceCount < 1 {
		return 0
	}
	if unit == domain.DurationHours {
		perDay := policy.DefaultPricePerDay
		if perDay <= 0 {
			perDay = 1
		}
		return float64(duration) / 24 * perDay * float64(deviceCount)
	}
	if tier, ok := policy.Tiers[strconv.Itoa(duration)]; ok {
		return tier.Price * float64(deviceCount)
	}
	return float64(duration * deviceCount * untieredPerDayPerDevice)
}
