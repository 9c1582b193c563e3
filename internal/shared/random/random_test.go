package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSource_Deterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestDerive_PerKey(t *testing.T) {
	a := Derive(7, "alice")
	b := Derive(7, "bob")
	c := Derive(7, "alice")

	va, vb, vc := a.Float64(), b.Float64(), c.Float64()
	assert.NotEqual(t, va, vb)
	assert.Equal(t, va, vc)
}

func TestUniform_Bounds(t *testing.T) {
	s := New(1)
	for i := 0; i < 1000; i++ {
		v := s.Uniform(3)
		assert.GreaterOrEqual(t, v, -3.0)
		assert.Less(t, v, 3.0)
	}
}

func TestSample(t *testing.T) {
	s := New(3)

	t.Run("distinct indices", func(t *testing.T) {
		got := s.Sample(10, 4)
		assert.Len(t, got, 4)
		seen := map[int]bool{}
		for _, idx := range got {
			assert.False(t, seen[idx])
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, 10)
			seen[idx] = true
		}
	})

	t.Run("short pool returns everything", func(t *testing.T) {
		got := s.Sample(2, 5)
		assert.ElementsMatch(t, []int{0, 1}, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, s.Sample(0, 3))
		assert.Nil(t, s.Sample(3, 0))
	})
}
