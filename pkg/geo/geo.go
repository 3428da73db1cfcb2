// Package geo holds the coordinate types and distance math used by the
// location-aware event search.
//
// Distances are computed with the equirectangular approximation. It is fast
// and accurate enough for point-radius searches within a country, but it is
// not geodesically exact: the error grows with the distance between the two
// points and near the poles. Haversine is provided as a reference for
// callers that want to compare.
package geo

import (
	"fmt"
	"math"

	"github.com/umahmood/haversine"
)

const (
	// EarthRadiusKm is the mean earth radius used by the estimator.
	EarthRadiusKm = 6371.0

	// KmToMiles is the conversion factor applied to estimator output.
	KmToMiles = 0.62
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate checks that the coordinate is within the valid degree ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v must be between -90 and 90", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v must be between -180 and 180", c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

// Estimator computes approximate great-circle distances.
type Estimator struct {
	RadiusKm float64
}

// NewEstimator returns an estimator using the given earth radius. A
// non-positive radius selects EarthRadiusKm.
func NewEstimator(radiusKm float64) Estimator {
	if radiusKm <= 0 {
		radiusKm = EarthRadiusKm
	}
	return Estimator{RadiusKm: radiusKm}
}

// Estimate returns the equirectangular distance between a and b in
// kilometers. The latitude average is taken as (a + b) / 2 before the cosine,
// which keeps the result bit-for-bit symmetric.
func (e Estimator) Estimate(a, b Coordinate) float64 {
	radius := e.RadiusKm
	if radius <= 0 {
		radius = EarthRadiusKm
	}

	latA := toRadians(a.Latitude)
	lonA := toRadians(a.Longitude)
	latB := toRadians(b.Latitude)
	lonB := toRadians(b.Longitude)

	x := (lonB - lonA) * math.Cos((latA+latB)/2)
	y := latB - latA
	return radius * math.Sqrt(x*x+y*y)
}

// EstimateMiles is Estimate converted with the given km to miles factor.
func (e Estimator) EstimateMiles(a, b Coordinate, kmToMiles float64) float64 {
	return e.Estimate(a, b) * kmToMiles
}

// Haversine returns the haversine distance between a and b in kilometers.
func Haversine(a, b Coordinate) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Latitude, Lon: a.Longitude},
		haversine.Coord{Lat: b.Latitude, Lon: b.Longitude},
	)
	return km
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// BoundingBox is an axis aligned latitude/longitude rectangle.
type BoundingBox struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// BoxAround returns the box of half-width halfDegrees centered on c. The box
// is not clamped or wrapped at the poles or the antimeridian.
func BoxAround(c Coordinate, halfDegrees float64) BoundingBox {
	return BoundingBox{
		MinLatitude:  c.Latitude - halfDegrees,
		MaxLatitude:  c.Latitude + halfDegrees,
		MinLongitude: c.Longitude - halfDegrees,
		MaxLongitude: c.Longitude + halfDegrees,
	}
}

// Contains reports whether c lies strictly inside the box. Points on the
// border are outside.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Latitude > b.MinLatitude && c.Latitude < b.MaxLatitude &&
		c.Longitude > b.MinLongitude && c.Longitude < b.MaxLongitude
}
