// Package track provides grid-indexed track geometry: wall and checkpoint
// segments with ray-cast and oriented-box collision queries.
package track

import "math"

// epsilon guards parallel and behind-origin ray hits.
const epsilon = 1e-9

// Point is a 2D position in world units.
type Point struct {
	X, Y float64
}

// Segment is a line segment between two points.
type Segment struct {
	A, B Point
}

// Pose is a position and heading (radians, counterclockwise from +X).
type Pose struct {
	Position Point
	Heading  float64
}

// Scratch deduplicates candidate segments during one query.
// Each caller owns its own Scratch so a Grid can be queried concurrently.
type Scratch struct {
	marks []uint32
	gen   uint32
}

// NewScratch creates a scratch sized for n segments.
func NewScratch(n int) *Scratch {
	return &Scratch{marks: make([]uint32, n)}
}

func (s *Scratch) begin(n int) {
	if len(s.marks) < n {
		s.marks = make([]uint32, n)
		s.gen = 0
	}
	s.gen++
	if s.gen == 0 {
		for i := range s.marks {
			s.marks[i] = 0
		}
		s.gen = 1
	}
}

// visit marks i and reports whether it was unseen in this query.
func (s *Scratch) visit(i int32) bool {
	if s.marks[i] == s.gen {
		return false
	}
	s.marks[i] = s.gen
	return true
}

// Grid indexes segments in a uniform cell grid. Every segment is stamped
// into each cell its bounding box overlaps. Immutable after construction.
type Grid struct {
	cellSize float64
	originX  float64
	originY  float64
	cols     int
	rows     int
	cells    [][]int32
	segments []Segment
}

// NewGrid builds a grid over segments with the given cell size.
func NewGrid(segments []Segment, cellSize float64) *Grid {
	g := &Grid{cellSize: cellSize, segments: segments}
	if len(segments) == 0 {
		g.cols, g.rows = 1, 1
		g.cells = make([][]int32, 1)
		return g
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range segments {
		minX = math.Min(minX, math.Min(s.A.X, s.B.X))
		minY = math.Min(minY, math.Min(s.A.Y, s.B.Y))
		maxX = math.Max(maxX, math.Max(s.A.X, s.B.X))
		maxY = math.Max(maxY, math.Max(s.A.Y, s.B.Y))
	}

	// One cell of padding on each side
	g.originX = minX - cellSize
	g.originY = minY - cellSize
	g.cols = int((maxX-g.originX)/cellSize) + 2
	g.rows = int((maxY-g.originY)/cellSize) + 2
	g.cells = make([][]int32, g.cols*g.rows)

	for i, s := range segments {
		c0, r0 := g.cellCoords(math.Min(s.A.X, s.B.X), math.Min(s.A.Y, s.B.Y))
		c1, r1 := g.cellCoords(math.Max(s.A.X, s.B.X), math.Max(s.A.Y, s.B.Y))
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				idx := r*g.cols + c
				g.cells[idx] = append(g.cells[idx], int32(i))
			}
		}
	}
	return g
}

// Len returns the number of indexed segments.
func (g *Grid) Len() int {
	return len(g.segments)
}

// Segment returns segment i.
func (g *Grid) Segment(i int) Segment {
	return g.segments[i]
}

// Segments returns the indexed segments. Callers must not modify the slice.
func (g *Grid) Segments() []Segment {
	return g.segments
}

// cellCoords returns the clamped cell column and row for a world position.
func (g *Grid) cellCoords(x, y float64) (col, row int) {
	col = int(math.Floor((x - g.originX) / g.cellSize))
	row = int(math.Floor((y - g.originY) / g.cellSize))

	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

func (g *Grid) scratch(s *Scratch) *Scratch {
	if s == nil {
		s = NewScratch(len(g.segments))
	}
	s.begin(len(g.segments))
	return s
}

func cross(ax, ay, bx, by float64) float64 {
	return ax*by - ay*bx
}

// raySegment returns the distance t along a unit ray to s, rejecting parallel,
// behind-origin and off-segment hits.
func raySegment(ox, oy, dx, dy float64, s Segment) (float64, bool) {
	sx, sy := s.B.X-s.A.X, s.B.Y-s.A.Y
	denom := cross(dx, dy, sx, sy)
	if math.Abs(denom) < epsilon {
		return 0, false
	}
	qx, qy := s.A.X-ox, s.A.Y-oy
	t := cross(qx, qy, sx, sy) / denom
	u := cross(qx, qy, dx, dy) / denom
	if t <= epsilon || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// RayIntersectionsMinLength casts a ray from origin at angle and returns the
// distance to the nearest segment hit. Only cells the ray traverses are
// visited; maxLen <= 0 walks until the ray leaves the grid.
func (g *Grid) RayIntersectionsMinLength(origin Point, angle, maxLen float64, scratch *Scratch) (float64, bool) {
	if len(g.segments) == 0 {
		return 0, false
	}
	dx, dy := math.Cos(angle), math.Sin(angle)
	if maxLen <= 0 {
		maxLen = math.Inf(1)
	}

	// Clip the ray against the grid bounds (slab method)
	tEnter, tExit := 0.0, maxLen
	minX, minY := g.originX, g.originY
	maxX, maxY := minX+float64(g.cols)*g.cellSize, minY+float64(g.rows)*g.cellSize
	for _, slab := range [2][4]float64{{origin.X, dx, minX, maxX}, {origin.Y, dy, minY, maxY}} {
		o, d, lo, hi := slab[0], slab[1], slab[2], slab[3]
		if math.Abs(d) < epsilon {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t0, t1 := (lo-o)/d, (hi-o)/d
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tEnter = math.Max(tEnter, t0)
		tExit = math.Min(tExit, t1)
		if tEnter > tExit {
			return 0, false
		}
	}

	s := g.scratch(scratch)
	col, row := g.cellCoords(origin.X+dx*tEnter, origin.Y+dy*tEnter)

	stepC, stepR := 0, 0
	tMaxX, tMaxY := math.Inf(1), math.Inf(1)
	tDeltaX, tDeltaY := math.Inf(1), math.Inf(1)
	if dx > epsilon {
		stepC = 1
		tMaxX = (g.originX + float64(col+1)*g.cellSize - origin.X) / dx
		tDeltaX = g.cellSize / dx
	} else if dx < -epsilon {
		stepC = -1
		tMaxX = (g.originX + float64(col)*g.cellSize - origin.X) / dx
		tDeltaX = -g.cellSize / dx
	}
	if dy > epsilon {
		stepR = 1
		tMaxY = (g.originY + float64(row+1)*g.cellSize - origin.Y) / dy
		tDeltaY = g.cellSize / dy
	} else if dy < -epsilon {
		stepR = -1
		tMaxY = (g.originY + float64(row)*g.cellSize - origin.Y) / dy
		tDeltaY = -g.cellSize / dy
	}

	best := math.Inf(1)
	for {
		for _, idx := range g.cells[row*g.cols+col] {
			if !s.visit(idx) {
				continue
			}
			if t, ok := raySegment(origin.X, origin.Y, dx, dy, g.segments[idx]); ok && t < best {
				best = t
			}
		}

		tNext := math.Min(tMaxX, tMaxY)
		if best <= tNext || tNext > tExit {
			break
		}
		if tMaxX < tMaxY {
			col += stepC
			tMaxX += tDeltaX
		} else {
			row += stepR
			tMaxY += tDeltaY
		}
		if col < 0 || col >= g.cols || row < 0 || row >= g.rows {
			break
		}
	}

	if math.IsInf(best, 1) || best > maxLen {
		return 0, false
	}
	return best, true
}

// IsBoxColliding tests an oriented rectangle against the indexed segments
// with the separating-axis theorem. width is measured along angle, height
// across it. Returns the first colliding segment index.
func (g *Grid) IsBoxColliding(center Point, width, height, angle float64, scratch *Scratch) (int, bool) {
	if len(g.segments) == 0 {
		return -1, false
	}
	cos, sin := math.Cos(angle), math.Sin(angle)
	hw, hh := width/2, height/2

	// Axis-aligned extent of the rotated box selects candidate cells
	ex := hw*math.Abs(cos) + hh*math.Abs(sin)
	ey := hw*math.Abs(sin) + hh*math.Abs(cos)
	c0, r0 := g.cellCoords(center.X-ex, center.Y-ey)
	c1, r1 := g.cellCoords(center.X+ex, center.Y+ey)

	box := orientedBox{cx: center.X, cy: center.Y, ux: cos, uy: sin, hw: hw, hh: hh}
	s := g.scratch(scratch)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			for _, idx := range g.cells[r*g.cols+c] {
				if !s.visit(idx) {
					continue
				}
				if box.intersects(g.segments[idx]) {
					return int(idx), true
				}
			}
		}
	}
	return -1, false
}

// BoxHitsSegment tests an oriented rectangle against segment i alone.
func (g *Grid) BoxHitsSegment(i int, center Point, width, height, angle float64) bool {
	if i < 0 || i >= len(g.segments) {
		return false
	}
	cos, sin := math.Cos(angle), math.Sin(angle)
	box := orientedBox{cx: center.X, cy: center.Y, ux: cos, uy: sin, hw: width / 2, hh: height / 2}
	return box.intersects(g.segments[i])
}

type orientedBox struct {
	cx, cy float64
	ux, uy float64 // unit axis along width
	hw, hh float64
}

// project returns the box's projection interval on axis (ax, ay).
func (b orientedBox) project(ax, ay float64) (lo, hi float64) {
	c := b.cx*ax + b.cy*ay
	r := b.hw*math.Abs(b.ux*ax+b.uy*ay) + b.hh*math.Abs(-b.uy*ax+b.ux*ay)
	return c - r, c + r
}

func (b orientedBox) intersects(s Segment) bool {
	sx, sy := s.B.X-s.A.X, s.B.Y-s.A.Y
	axes := [3][2]float64{{b.ux, b.uy}, {-b.uy, b.ux}, {-sy, sx}}
	for i, axis := range axes {
		ax, ay := axis[0], axis[1]
		if i == 2 {
			l := math.Hypot(ax, ay)
			if l < epsilon {
				continue
			}
			ax, ay = ax/l, ay/l
		}
		blo, bhi := b.project(ax, ay)
		pa := s.A.X*ax + s.A.Y*ay
		pb := s.B.X*ax + s.B.Y*ay
		slo, shi := math.Min(pa, pb), math.Max(pa, pb)
		if shi < blo || slo > bhi {
			return false
		}
	}
	return true
}
