// Package geo computes great-circle distances, clusters points with
// DBSCAN and answers nearby queries over active locations.
package geo

import (
	"math"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	EarthRadiusMeters = 6371000.0
	FeetPerMeter      = 3.281
)

// Haversine returns the great-circle distance between a and b in feet.
func Haversine(a, b models.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c * FeetPerMeter
}

// CheckPoint fails with InvalidGeometry for non-finite or out of range
// coordinates.
func CheckPoint(p models.Point) error {
	if !p.Finite() {
		return apperr.E(apperr.InvalidGeometry, "coordinates must be finite")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return apperr.E(apperr.InvalidGeometry, "coordinates out of range")
	}
	return nil
}

// DistanceMatrix returns the symmetric matrix of pairwise distances in feet.
func DistanceMatrix(points []models.Point) [][]float64 {
	n := len(points)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := Haversine(points[i], points[j])
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m
}

// Box is a lat/lng bounding box used to pre-filter candidates.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a box that contains every point within radius feet
// of origin. Near the poles it widens to the full longitude range.
func BoundingBox(origin models.Point, radius float64) Box {
	meters := radius / FeetPerMeter
	dLat := meters / EarthRadiusMeters * 180 / math.Pi

	box := Box{
		MinLat: math.Max(-90, origin.Lat-dLat),
		MaxLat: math.Min(90, origin.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	cosLat := math.Cos(origin.Lat * math.Pi / 180)
	if cosLat > 1e-9 && box.MinLat > -90 && box.MaxLat < 90 {
		dLng := dLat / cosLat
		if dLng < 180 {
			box.MinLng = origin.Lng - dLng
			box.MaxLng = origin.Lng + dLng
		}
	}
	return box
}

// Contains reports whether p lies in the box. Boxes crossing the
// antimeridian are handled by wrapping.
func (b Box) Contains(p models.Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLng >= -180 && b.MaxLng <= 180 {
		return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
	}
	lng := p.Lng
	if b.MinLng < -180 && lng > 0 {
		lng -= 360
	}
	if b.MaxLng > 180 && lng < 0 {
		lng += 360
	}
	return lng >= b.MinLng && lng <= b.MaxLng
}
