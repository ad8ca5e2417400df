package utils

import (
	"time"

	"coldreach/models"
)

// UnlimitedDailySends is the effective ceiling for a sequence with no daily
// cap and no ramp.
const UnlimitedDailySends = 1 << 30

// EffectiveDailyLimit computes today's send ceiling for a sequence. With slow
// ramp disabled the configured cap applies directly. With ramp enabled the
// limit grows linearly from the ramp start to the cap over the ramp duration,
// clamped to [rampStart, cap] and never negative before activation.
func EffectiveDailyLimit(seq *models.Sequence, now time.Time) int {
	cap := seq.DailyLimit
	if cap <= 0 {
		cap = UnlimitedDailySends
	}

	if !seq.SlowRampEnabled {
		return cap
	}

	days := 0
	if seq.ActivatedAt != nil {
		days = int(now.Sub(*seq.ActivatedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
	}

	start := seq.SlowRampStart
	if start < 0 {
		start = 0
	}
	if seq.SlowRampDays <= 0 {
		return cap
	}

	rate := float64(cap) / float64(seq.SlowRampDays)
	limit := start + int(rate*float64(days))
	if limit > cap {
		limit = cap
	}
	if limit < start {
		limit = start
	}
	return limit
}
