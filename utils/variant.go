package utils

import (
	"math/rand"

	"coldreach/models"
)

// PickVariant chooses one active variant of a step by weighted random draw.
// Returns nil when no variant is active (the step is unsendable; callers must
// skip the recipient without advancing or failing the enrollment). When every
// active weight is zero the first active variant is returned.
func PickVariant(variants []models.StepVariant, rng *rand.Rand) *models.StepVariant {
	active := make([]*models.StepVariant, 0, len(variants))
	for i := range variants {
		if variants[i].IsActive {
			active = append(active, &variants[i])
		}
	}

	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}

	total := 0
	for _, v := range active {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return active[0]
	}

	draw := rng.Intn(total)
	for _, v := range active {
		if v.Weight <= 0 {
			continue
		}
		draw -= v.Weight
		if draw < 0 {
			return v
		}
	}
	return active[0]
}
