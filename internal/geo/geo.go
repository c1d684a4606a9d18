package geo

import "math"

const (
	// EarthRadiusKM is the mean earth radius used for great-circle distances.
	EarthRadiusKM = 6371.0
	// KMPerDegree approximates the length of one degree of latitude.
	KMPerDegree = 111.0

	minCos = 1e-9
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is finite and within latitude/longitude range.
func (p Point) Valid() bool {
	return ValidLatLng(p.Lat, p.Lng)
}

// ValidLatLng reports whether lat/lng are finite and in range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineKM returns the great-circle distance between a and b in kilometers.
func HaversineKM(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	if aa > 1 {
		aa = 1
	}
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return EarthRadiusKM * c
}

// BoundingBox is a cheap rectangular prefilter around a point.
// When MinLng > MaxLng the window wraps across the antimeridian.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// FullLongitude reports whether the box spans every longitude.
func (b BoundingBox) FullLongitude() bool {
	return b.MinLng <= -180 && b.MaxLng >= 180
}

// Wraps reports whether the longitude window crosses ±180°.
func (b BoundingBox) Wraps() bool {
	return b.MinLng > b.MaxLng
}

// Contains reports whether p falls inside the box.
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// LngRanges splits the longitude window into non-wrapping [min,max] ranges,
// which is what range queries against a store need.
func (b BoundingBox) LngRanges() [][2]float64 {
	if b.Wraps() {
		return [][2]float64{{b.MinLng, 180}, {-180, b.MaxLng}}
	}
	return [][2]float64{{b.MinLng, b.MaxLng}}
}

// NewBoundingBox derives the prefilter box for a radius around center using
// 1° lat ≈ 111 km and 1° lng ≈ 111·cos(lat) km. The cosine is taken at the
// box edge farthest from the equator so the window never undershoots. When
// that cosine collapses, or the box reaches a pole, the longitude window is
// widened to the full range.
func NewBoundingBox(center Point, radiusKM float64) BoundingBox {
	latDelta := radiusKM / KMPerDegree
	box := BoundingBox{
		MinLat: math.Max(-90, center.Lat-latDelta),
		MaxLat: math.Min(90, center.Lat+latDelta),
		MinLng: -180,
		MaxLng: 180,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		return box
	}

	edgeLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	cosLat := math.Cos(toRadians(edgeLat))
	if cosLat < minCos {
		return box
	}
	lngDelta := radiusKM / (KMPerDegree * cosLat)
	if lngDelta >= 180 {
		return box
	}
	box.MinLng = NormalizeLng(center.Lng - lngDelta)
	box.MaxLng = NormalizeLng(center.Lng + lngDelta)
	return box
}

// NormalizeLng folds a longitude into [-180, 180].
func NormalizeLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
