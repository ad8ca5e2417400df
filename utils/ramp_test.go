package utils

import (
	"testing"
	"time"

	"coldreach/models"

	"github.com/stretchr/testify/assert"
)

func rampSequence(start, cap, days int, activatedAt time.Time) *models.Sequence {
	return &models.Sequence{
		DailyLimit:      cap,
		SlowRampEnabled: true,
		SlowRampStart:   start,
		SlowRampDays:    days,
		ActivatedAt:     &activatedAt,
	}
}

func TestEffectiveDailyLimitNoCap(t *testing.T) {
	seq := &models.Sequence{DailyLimit: 0}
	assert.Equal(t, UnlimitedDailySends, EffectiveDailyLimit(seq, time.Now()))
}

func TestEffectiveDailyLimitRampDisabled(t *testing.T) {
	seq := &models.Sequence{DailyLimit: 200}
	assert.Equal(t, 200, EffectiveDailyLimit(seq, time.Now()))
}

func TestEffectiveDailyLimitRampProgression(t *testing.T) {
	activated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seq := rampSequence(5, 50, 14, activated)

	// Day zero starts at the ramp floor.
	assert.Equal(t, 5, EffectiveDailyLimit(seq, activated.Add(2*time.Hour)))

	// Midway the limit has grown but not reached the cap.
	day7 := EffectiveDailyLimit(seq, activated.AddDate(0, 0, 7))
	assert.Greater(t, day7, 5)
	assert.Less(t, day7, 50)

	// At the end of the ramp the cap applies.
	assert.Equal(t, 50, EffectiveDailyLimit(seq, activated.AddDate(0, 0, 14)))

	// And it never exceeds the cap afterwards.
	assert.Equal(t, 50, EffectiveDailyLimit(seq, activated.AddDate(0, 2, 0)))
}

func TestEffectiveDailyLimitClockBeforeActivation(t *testing.T) {
	activated := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seq := rampSequence(5, 50, 14, activated)

	// A clock reading before activation clamps to day zero, never negative.
	assert.Equal(t, 5, EffectiveDailyLimit(seq, activated.AddDate(0, 0, -3)))
}

func TestEffectiveDailyLimitNilActivation(t *testing.T) {
	seq := &models.Sequence{
		DailyLimit:      50,
		SlowRampEnabled: true,
		SlowRampStart:   5,
		SlowRampDays:    14,
	}
	assert.Equal(t, 5, EffectiveDailyLimit(seq, time.Now()))
}
