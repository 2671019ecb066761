// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import "time"

// NextCooldown returns the cool-down before the nth OPEN period may move
// to HALF_OPEN. The first open uses the base cool-down; every failed trial
// doubles it, capped at max.
//
// Pure function so the schedule is testable without a clock.
func NextCooldown(opens int, base, max time.Duration) time.Duration {
	if opens <= 1 {
		return base
	}
	d := base
	for i := 1; i < opens; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
