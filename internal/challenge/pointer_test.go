package challenge

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointer_PathEndsOnTarget(t *testing.T) {
	p := NewPointer(42)
	from, to := Point{10, 10}, Point{600, 420}

	steps := p.Path(from, to, 30)
	require.GreaterOrEqual(t, len(steps), 12)
	assert.Equal(t, to, steps[len(steps)-1].Point)

	var total time.Duration
	for _, s := range steps {
		assert.False(t, math.IsNaN(s.X) || math.IsNaN(s.Y))
		total += s.Delay
	}
	assert.Greater(t, total, 100*time.Millisecond)
}

func TestPointer_ShortMove(t *testing.T) {
	steps := NewPointer(1).Path(Point{5, 5}, Point{5.2, 5.1}, 10)
	require.Len(t, steps, 1)
	assert.Equal(t, Point{5.2, 5.1}, steps[0].Point)
}

func TestPointer_Deterministic(t *testing.T) {
	a := NewPointer(7).Path(Point{0, 0}, Point{300, 200}, 20)
	b := NewPointer(7).Path(Point{0, 0}, Point{300, 200}, 20)
	assert.Equal(t, a, b)
}

func TestPointer_FittsGrowsWithDistance(t *testing.T) {
	p := NewPointer(3)
	p.FittsA, p.FittsB = 100, 120
	near := p.MovementTime(20, 40)
	far := p.MovementTime(2000, 40)
	assert.Greater(t, far, near)
	assert.GreaterOrEqual(t, near, 50*time.Millisecond)
}

func TestPointer_JitterStaysInBox(t *testing.T) {
	p := NewPointer(11)
	for i := 0; i < 200; i++ {
		pt := p.Jitter(100, 200, 60, 30)
		assert.True(t, pt.X > 100 && pt.X < 160, "x=%f", pt.X)
		assert.True(t, pt.Y > 200 && pt.Y < 230, "y=%f", pt.Y)
	}
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, easeInOutCubic(0))
	assert.Equal(t, 1.0, easeInOutCubic(1))
	assert.InDelta(t, 0.5, easeInOutCubic(0.5), 1e-9)
}
