package utils

import (
	"math/rand"
	"testing"

	"coldreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickVariantNoActive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	assert.Nil(t, PickVariant(nil, rng))
	assert.Nil(t, PickVariant([]models.StepVariant{
		{Subject: "a", IsActive: false},
	}, rng))
}

func TestPickVariantSingleActive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	variants := []models.StepVariant{
		{Subject: "off", IsActive: false},
		{Subject: "on", IsActive: true, Weight: 3},
	}

	got := PickVariant(variants, rng)
	require.NotNil(t, got)
	assert.Equal(t, "on", got.Subject)
}

func TestPickVariantWeightedDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	variants := []models.StepVariant{
		{Subject: "heavy", IsActive: true, Weight: 3},
		{Subject: "light", IsActive: true, Weight: 1},
	}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		got := PickVariant(variants, rng)
		require.NotNil(t, got)
		counts[got.Subject]++
	}

	heavyShare := float64(counts["heavy"]) / 10000
	assert.Greater(t, heavyShare, 0.70)
	assert.Less(t, heavyShare, 0.80)
}

func TestPickVariantZeroTotalWeightFallsBackToFirstActive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	variants := []models.StepVariant{
		{Subject: "first", IsActive: true, Weight: 0},
		{Subject: "second", IsActive: true, Weight: 0},
	}

	got := PickVariant(variants, rng)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Subject)
}
