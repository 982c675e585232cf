package geometry

import (
	"errors"
	"image"
	"math"
	"sort"
)

// ErrDegenerateQuad is returned when four points cannot form a usable quadrilateral.
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// Quad holds the four corners of the keyboard region.
// Corners are ordered: top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point

// Corner indices into a Quad.
const (
	TopLeft     = 0
	TopRight    = 1
	BottomRight = 2
	BottomLeft  = 3
)

// OrderCorners arranges four arbitrary points as TL, TR, BR, BL.
// TL has the smallest x+y and BR the largest; of the remaining two, TR is
// the one with the larger x-y.
func OrderCorners(pts [4]Point) (Quad, error) {
	idx := []int{0, 1, 2, 3}
	sort.Slice(idx, func(a, b int) bool {
		return pts[idx[a]].X+pts[idx[a]].Y < pts[idx[b]].X+pts[idx[b]].Y
	})

	tl := pts[idx[0]]
	br := pts[idx[3]]
	a, b := pts[idx[1]], pts[idx[2]]

	tr, bl := a, b
	if a.X-a.Y < b.X-b.Y {
		tr, bl = b, a
	}

	q := Quad{tl, tr, br, bl}
	if !q.IsConvex() || q.Area() < 1 {
		return Quad{}, ErrDegenerateQuad
	}
	return q, nil
}

// RectQuad returns the quad covering an axis-aligned rectangle.
func RectQuad(r image.Rectangle) Quad {
	return Quad{
		Pt(float64(r.Min.X), float64(r.Min.Y)),
		Pt(float64(r.Max.X), float64(r.Min.Y)),
		Pt(float64(r.Max.X), float64(r.Max.Y)),
		Pt(float64(r.Min.X), float64(r.Max.Y)),
	}
}

// Area returns the polygon area via the shoelace formula.
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(sum) / 2
}

// IsConvex reports whether the corners form a strictly convex polygon.
// A convex quad is also simple (non-self-intersecting).
func (q Quad) IsConvex() bool {
	sign := 0
	for i := 0; i < 4; i++ {
		c := cross(q[i], q[(i+1)%4], q[(i+2)%4])
		if c == 0 {
			return false
		}
		s := 1
		if c < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// BoundingRect returns the integer axis-aligned extent of the quad.
func (q Quad) BoundingRect() image.Rectangle {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := minX, minY
	for _, p := range q[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY)),
	)
}

// Within reports whether every corner lies inside [0,width]x[0,height].
func (q Quad) Within(width, height int) bool {
	for _, p := range q {
		if p.X < 0 || p.Y < 0 || p.X > float64(width) || p.Y > float64(height) {
			return false
		}
	}
	return true
}

// AspectRatio returns mean edge width over mean edge height.
func (q Quad) AspectRatio() float64 {
	w := (q[TopLeft].Distance(q[TopRight]) + q[BottomLeft].Distance(q[BottomRight])) / 2
	h := (q[TopLeft].Distance(q[BottomLeft]) + q[TopRight].Distance(q[BottomRight])) / 2
	if h == 0 {
		return 0
	}
	return w / h
}

// ImagePoints returns the corners rounded to pixel coordinates.
func (q Quad) ImagePoints() []image.Point {
	pts := make([]image.Point, 4)
	for i, p := range q {
		pts[i] = p.ImagePoint()
	}
	return pts
}

// cross returns the z component of (b-a) x (c-b).
func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
}

// ConvexHull computes the convex hull of a point set using the monotone
// chain algorithm. Collinear points are dropped.
func ConvexHull(points []Point) []Point {
	if len(points) < 3 {
		return points
	}

	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X == pts[j].X {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})

	turn := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	hull := make([]Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}
