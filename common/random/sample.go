package random

import (
	"fmt"
	"math/rand"
)

// Indices draws count indices uniformly at random, with replacement,
// from the half-open interval [0, max).
func Indices(rng *rand.Rand, max int, count int) ([]int, error) {
	if max <= 0 {
		return nil, fmt.Errorf("indices: max must be > 0, got %d", max)
	}
	if count < 0 {
		return nil, fmt.Errorf("indices: count must be >= 0, got %d", count)
	}
	idx := make([]int, count)
	for i := range idx {
		idx[i] = rng.Intn(max)
	}
	return idx, nil
}
