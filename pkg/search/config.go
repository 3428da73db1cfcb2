package search

import (
	"runtime"
	"time"

	"github.com/rubiojr/volunteer/pkg/geo"
)

// Config holds the tunables of a Pipeline. Zero values are replaced by the
// matching DefaultConfig value.
type Config struct {
	// MaxSearchRange is the half-width, in degrees, of the coarse bounding
	// box applied to text searches with a location.
	MaxSearchRange float64

	// DefaultLimit is the page size used when the request has no valid limit.
	DefaultLimit int

	// EarthRadiusKm is the radius used by the distance estimator.
	EarthRadiusKm float64

	// KmToMiles converts estimator output to miles.
	KmToMiles float64

	// LookupTimeout bounds each call to the geocoder and the event index.
	// Zero means only the caller's context applies.
	LookupTimeout time.Duration

	// ParallelThreshold is the candidate count from which distances are
	// computed on the worker pool. Negative disables parallel computation.
	ParallelThreshold int

	// Workers is the worker pool size.
	Workers int

	// BrowseBoundingBox applies the coarse bounding box to location searches
	// without text as well.
	BrowseBoundingBox bool
}

// DefaultConfig returns the stock search configuration.
func DefaultConfig() Config {
	return Config{
		MaxSearchRange:    6,
		DefaultLimit:      10,
		EarthRadiusKm:     geo.EarthRadiusKm,
		KmToMiles:         geo.KmToMiles,
		ParallelThreshold: 512,
		Workers:           runtime.NumCPU(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSearchRange <= 0 {
		c.MaxSearchRange = d.MaxSearchRange
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.EarthRadiusKm <= 0 {
		c.EarthRadiusKm = d.EarthRadiusKm
	}
	if c.KmToMiles <= 0 {
		c.KmToMiles = d.KmToMiles
	}
	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = d.ParallelThreshold
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.LookupTimeout < 0 {
		c.LookupTimeout = 0
	}
	return c
}
