package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaversineZero(t *testing.T) {
	p := Point{Lat: 40, Lng: -73}
	require.Equal(t, 0.0, HaversineKM(p, p))
	require.Equal(t, 0.0, HaversineKM(Point{}, Point{}))
}

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{{Lat: 40, Lng: -73}, {Lat: 41, Lng: -73}},
		{{Lat: 35.7, Lng: 51.4}, {Lat: -33.9, Lng: 151.2}},
		{{Lat: 0, Lng: 179.9}, {Lat: 0, Lng: -179.9}},
	}
	for _, pair := range pairs {
		require.InDelta(t, HaversineKM(pair[0], pair[1]), HaversineKM(pair[1], pair[0]), 1e-9)
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	require.InDelta(t, 5.56, HaversineKM(Point{Lat: 40, Lng: -73}, Point{Lat: 40.05, Lng: -73}), 0.05)
	require.InDelta(t, 111.19, HaversineKM(Point{Lat: 40, Lng: -73}, Point{Lat: 41, Lng: -73}), 0.05)
	// across the antimeridian the short way round
	require.InDelta(t, 22.24, HaversineKM(Point{Lat: 0, Lng: 179.9}, Point{Lat: 0, Lng: -179.9}), 0.05)
}

func TestValidLatLng(t *testing.T) {
	require.True(t, ValidLatLng(90, 180))
	require.True(t, ValidLatLng(-90, -180))
	require.False(t, ValidLatLng(90.1, 0))
	require.False(t, ValidLatLng(0, -180.5))
	require.False(t, ValidLatLng(math.NaN(), 0))
	require.False(t, ValidLatLng(0, math.Inf(1)))
}

func TestBoundingBoxContainsCenterAndRadius(t *testing.T) {
	center := Point{Lat: 40, Lng: -73}
	box := NewBoundingBox(center, 30)
	require.False(t, box.Wraps())
	require.False(t, box.FullLongitude())
	require.True(t, box.Contains(center))
	require.True(t, box.Contains(Point{Lat: 40.25, Lng: -73}))
	require.False(t, box.Contains(Point{Lat: 41, Lng: -73}))
	require.InDelta(t, 40-30.0/111, box.MinLat, 1e-9)
	require.InDelta(t, 40+30.0/111, box.MaxLat, 1e-9)
}

func TestBoundingBoxWrapsAtAntimeridian(t *testing.T) {
	box := NewBoundingBox(Point{Lat: 0, Lng: 179.95}, 30)
	require.True(t, box.Wraps())
	require.True(t, box.Contains(Point{Lat: 0, Lng: -179.95}))
	require.True(t, box.Contains(Point{Lat: 0, Lng: 179.8}))
	require.False(t, box.Contains(Point{Lat: 0, Lng: 0}))
	require.Len(t, box.LngRanges(), 2)
}

func TestBoundingBoxWidensNearPoles(t *testing.T) {
	box := NewBoundingBox(Point{Lat: 89.9, Lng: 10}, 30)
	require.True(t, box.FullLongitude())
	require.Equal(t, 90.0, box.MaxLat)
	require.True(t, box.Contains(Point{Lat: 89.95, Lng: -170}))

	exact := NewBoundingBox(Point{Lat: -90, Lng: 0}, 1)
	require.True(t, exact.FullLongitude())
}

func TestBoundingBoxHugeRadiusCoversEverything(t *testing.T) {
	box := NewBoundingBox(Point{Lat: 10, Lng: 10}, 30000)
	require.True(t, box.FullLongitude())
	require.True(t, box.Contains(Point{Lat: -80, Lng: -170}))
}

func TestNormalizeLng(t *testing.T) {
	require.InDelta(t, 179, NormalizeLng(-181), 1e-9)
	require.InDelta(t, -179, NormalizeLng(181), 1e-9)
	require.InDelta(t, 45, NormalizeLng(45), 1e-9)
	require.InDelta(t, 0, NormalizeLng(360), 1e-9)
}
