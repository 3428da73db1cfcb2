// Package geocode resolves postal codes to coordinates using a read-only
// reference table.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rubiojr/volunteer/pkg/geo"
)

var (
	// ErrInvalidInput is returned when a zipcode is not an integer-like string.
	ErrInvalidInput = errors.New("zipcode is not numeric")

	// ErrNotFound is returned when a well formed zipcode has no record.
	// Callers treat it as "location search unavailable", not as a failure.
	ErrNotFound = errors.New("zipcode not found")
)

// LocationRecord is one row of the postal code reference table.
type LocationRecord struct {
	Zipcode    string         `json:"zipcode"`
	Coordinate geo.Coordinate `json:"coordinate"`
	City       string         `json:"city"`
	State      string         `json:"state"`
}

// Table looks up location records by exact zipcode. A missing zipcode is
// reported as (nil, nil).
type Table interface {
	Lookup(ctx context.Context, zipcode string) (*LocationRecord, error)
}

// Resolver validates zipcodes and resolves them through a Table.
type Resolver struct {
	table Table
}

func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

// Normalize trims the zipcode and checks that it parses as an integer.
func Normalize(zipcode string) (string, error) {
	zip := strings.TrimSpace(zipcode)
	if _, err := strconv.Atoi(zip); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidInput, zipcode)
	}
	return zip, nil
}

// Resolve returns the location record for zipcode. The lookup key is the
// trimmed zipcode string, so leading zeros are significant.
func (r *Resolver) Resolve(ctx context.Context, zipcode string) (LocationRecord, error) {
	zip, err := Normalize(zipcode)
	if err != nil {
		return LocationRecord{}, err
	}

	rec, err := r.table.Lookup(ctx, zip)
	if err != nil {
		return LocationRecord{}, fmt.Errorf("looking up zipcode %s: %w", zip, err)
	}
	if rec == nil {
		return LocationRecord{}, fmt.Errorf("%w: %s", ErrNotFound, zip)
	}

	return *rec, nil
}
