package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsDeterministicForSeed(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.Intn(9), b.Intn(9))
	}
}

func TestSequenceWrapsAround(t *testing.T) {
	s := NewSequence(0.1, 0.5, 0.9)
	got := []float64{s.Float64(), s.Float64(), s.Float64(), s.Float64()}
	assert.Equal(t, []float64{0.1, 0.5, 0.9, 0.1}, got)
}

func TestSequenceIntnStaysInRange(t *testing.T) {
	s := NewSequence(0, 0.4999, 0.5, 0.99999)
	assert.Equal(t, 0, s.Intn(2))
	assert.Equal(t, 0, s.Intn(2))
	assert.Equal(t, 1, s.Intn(2))
	assert.Equal(t, 1, s.Intn(2))
}

func TestHelpers(t *testing.T) {
	s := NewSequence(0.25)
	assert.InDelta(t, 75.0, Between(s, 70, 90), 1e-9)
	assert.True(t, Chance(s, 0.3))
	assert.False(t, Chance(s, 0.25))
	assert.Equal(t, "b", Pick(s, []string{"a", "b", "c", "d"}))
}
