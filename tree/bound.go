package tree

import (
	"math"
)

// HRect is an axis-aligned bounding hyperrectangle.
type HRect struct {
	Min []float64
	Max []float64
}

// NewHRect returns an empty rectangle of the given dimensionality. An empty
// rectangle contains no points until it is extended.
func NewHRect(dim int) *HRect {
	mn := make([]float64, dim)
	mx := make([]float64, dim)
	for i := 0; i < dim; i++ {
		mn[i] = math.Inf(1)
		mx[i] = math.Inf(-1)
	}
	return &HRect{Min: mn, Max: mx}
}

func (h *HRect) Dim() int {
	return len(h.Min)
}

// Extend grows the rectangle to cover pt.
func (h *HRect) Extend(pt []float64) {
	for i, v := range pt {
		if v < h.Min[i] {
			h.Min[i] = v
		}
		if v > h.Max[i] {
			h.Max[i] = v
		}
	}
}

// Contains reports whether pt lies within the rectangle.
func (h *HRect) Contains(pt []float64) bool {
	for i, v := range pt {
		if v < h.Min[i] || v > h.Max[i] {
			return false
		}
	}
	return true
}

// RangeDistanceSq returns the interval of possible squared distances
// between a point in h and a point in other under the given metric. The
// bounds are realized by per-dimension nearest and furthest coordinate
// pairs, which is exact for any coordinate-monotone metric (all Lp).
func (h *HRect) RangeDistanceSq(m Metric, other *HRect) Range {
	dim := len(h.Min)
	nearA := make([]float64, dim)
	nearB := make([]float64, dim)
	farA := make([]float64, dim)
	farB := make([]float64, dim)

	for i := 0; i < dim; i++ {
		switch {
		case h.Max[i] < other.Min[i]:
			nearA[i], nearB[i] = h.Max[i], other.Min[i]
		case other.Max[i] < h.Min[i]:
			nearA[i], nearB[i] = h.Min[i], other.Max[i]
		default:
			// overlapping intervals touch at any shared coordinate
			c := math.Max(h.Min[i], other.Min[i])
			nearA[i], nearB[i] = c, c
		}

		if other.Max[i]-h.Min[i] >= h.Max[i]-other.Min[i] {
			farA[i], farB[i] = h.Min[i], other.Max[i]
		} else {
			farA[i], farB[i] = h.Max[i], other.Min[i]
		}
	}

	return Range{
		Lo: m.DistanceSq(nearA, nearB),
		Hi: m.DistanceSq(farA, farB),
	}
}
