package random

import (
	"math/rand"
	"testing"
)

func TestIndicesRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	idx, err := Indices(rng, 7, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx) != 10000 {
		t.Fatalf("expected 10000 indices, got %d", len(idx))
	}
	hist := map[int]int{}
	for _, i := range idx {
		if i < 0 || i >= 7 {
			t.Fatalf("index out of range: %d", i)
		}
		hist[i]++
	}
	// With 10000 draws every bucket should be hit
	for i := 0; i < 7; i++ {
		if hist[i] == 0 {
			t.Errorf("bucket %d never drawn", i)
		}
	}
}

func TestIndicesInvalid(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	if _, err := Indices(rng, 0, 1); err == nil {
		t.Error("expected error for max == 0")
	}
	if _, err := Indices(rng, 5, -1); err == nil {
		t.Error("expected error for negative count")
	}
}
