package challenge

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Point is a viewport coordinate.
type Point struct{ X, Y float64 }

// Step is one pointer position and the pause before the next one.
type Step struct {
	Point
	Delay time.Duration
}

// Pointer generates human-like pointer trajectories: a cubic Bezier curve
// with randomized control points, traversed with ease-in-out timing over a
// total duration given by Fitts's law.
type Pointer struct {
	// Fitts's law coefficients in milliseconds: MT = A + B*log2(D/W + 1).
	FittsA, FittsB float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPointer returns a pointer model seeded with seed.
func NewPointer(seed int64) *Pointer {
	return &Pointer{
		FittsA: 100,
		FittsB: 120,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// MovementTime predicts how long a human takes to reach a target of width
// w at distance d.
func (p *Pointer) MovementTime(d, w float64) time.Duration {
	w = math.Max(w, 5)
	id := math.Log2(d/w + 1)
	mt := p.FittsA + p.FittsB*id
	p.mu.Lock()
	mt += (p.rng.Float64() - 0.5) * mt * 0.2
	p.mu.Unlock()
	if mt < 50 {
		mt = 50
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// Path returns the steps from one point to a target of width w. The last
// step lands exactly on to.
func (p *Pointer) Path(from, to Point, w float64) []Step {
	dx, dy := to.X-from.X, to.Y-from.Y
	dist := math.Hypot(dx, dy)
	if dist < 1 {
		return []Step{{Point: to}}
	}

	// Control points at a third and two thirds, pushed sideways.
	nx, ny := -dy/dist, dx/dist
	p.mu.Lock()
	bend1 := (p.rng.Float64() - 0.5) * dist * 0.4
	bend2 := (p.rng.Float64() - 0.5) * dist * 0.3
	p.mu.Unlock()
	p1 := Point{from.X + dx/3 + nx*bend1, from.Y + dy/3 + ny*bend1}
	p2 := Point{from.X + 2*dx/3 + nx*bend2, from.Y + 2*dy/3 + ny*bend2}

	n := int(math.Min(60, math.Max(12, dist/8)))
	total := p.MovementTime(dist, w)
	per := total / time.Duration(n)

	steps := make([]Step, 0, n)
	for i := 1; i <= n; i++ {
		t := easeInOutCubic(float64(i) / float64(n))
		steps = append(steps, Step{Point: bezier(from, p1, p2, to, t), Delay: per})
	}
	steps[len(steps)-1].Point = to
	return steps
}

// Jitter returns a point near the center of a box, within a sixth of its
// size in each direction.
func (p *Pointer) Jitter(x, y, width, height float64) Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Point{
		X: x + width/2 + (p.rng.Float64()-0.5)*width/3,
		Y: y + height/2 + (p.rng.Float64()-0.5)*height/3,
	}
}

// Somewhere returns a random point inside the central area of a viewport.
func (p *Pointer) Somewhere(width, height float64) Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Point{
		X: width * (0.2 + 0.6*p.rng.Float64()),
		Y: height * (0.2 + 0.6*p.rng.Float64()),
	}
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func bezier(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	c0 := u * u * u
	c1 := 3 * u * u * t
	c2 := 3 * u * t * t
	c3 := t * t * t
	return Point{
		X: c0*p0.X + c1*p1.X + c2*p2.X + c3*p3.X,
		Y: c0*p0.Y + c1*p1.Y + c2*p2.Y + c3*p3.Y,
	}
}
