package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeMid(t *testing.T) {
	require.Equal(t, 5.0, Range{Lo: 2, Hi: 8}.Mid())
	require.Equal(t, 0.0, Range{}.Mid())
}

func TestRangeDistanceSqDisjoint1D(t *testing.T) {
	m := EuclideanMetric{}

	a := &HRect{Min: []float64{0}, Max: []float64{3}}
	b := &HRect{Min: []float64{5}, Max: []float64{9}}

	// disjoint intervals [a,b], [c,d] with c > b: ((c-b)^2, (d-a)^2)
	r := a.RangeDistanceSq(m, b)
	require.Equal(t, 4.0, r.Lo)
	require.Equal(t, 81.0, r.Hi)

	// symmetric
	r = b.RangeDistanceSq(m, a)
	require.Equal(t, 4.0, r.Lo)
	require.Equal(t, 81.0, r.Hi)
}

func TestRangeDistanceSqOverlapping(t *testing.T) {
	m := EuclideanMetric{}

	a := &HRect{Min: []float64{0}, Max: []float64{6}}
	b := &HRect{Min: []float64{4}, Max: []float64{9}}

	r := a.RangeDistanceSq(m, b)
	require.Equal(t, 0.0, r.Lo)
	require.Equal(t, 81.0, r.Hi)
}

func TestRangeDistanceSqMultiDim(t *testing.T) {
	m := EuclideanMetric{}

	a := &HRect{Min: []float64{0, 0}, Max: []float64{1, 1}}
	b := &HRect{Min: []float64{4, 5}, Max: []float64{6, 7}}

	r := a.RangeDistanceSq(m, b)
	require.Equal(t, 9.0+16.0, r.Lo)
	require.Equal(t, 36.0+49.0, r.Hi)
}

func TestExtendAndContains(t *testing.T) {
	h := NewHRect(2)
	require.False(t, h.Contains([]float64{0, 0}))

	h.Extend([]float64{1, 2})
	h.Extend([]float64{-1, 5})

	require.True(t, h.Contains([]float64{0, 3}))
	require.True(t, h.Contains([]float64{1, 5}))
	require.False(t, h.Contains([]float64{2, 3}))

	require.Equal(t, []float64{-1, 2}, h.Min)
	require.Equal(t, []float64{1, 5}, h.Max)
}
