package geocode

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/log"
)

// geoNamesFields is the column count of a GeoNames postal code dump.
const geoNamesFields = 12

var logger = log.ForService("geocode")

// LoadGeoNames parses a GeoNames postal code dump (tab separated, as found
// in US.txt) and returns its records. Malformed rows are skipped with a
// warning.
func LoadGeoNames(r io.Reader) ([]LocationRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = geoNamesFields
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	var records []LocationRecord
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Warnf("skipping row %d: %v", line, err)
				continue
			}
			return nil, fmt.Errorf("reading postal codes: %w", err)
		}

		zip := strings.TrimSpace(rec[1])
		lat, err := strconv.ParseFloat(rec[9], 64)
		if err != nil {
			logger.Warnf("skipping %s: bad latitude %q", zip, rec[9])
			continue
		}
		lon, err := strconv.ParseFloat(rec[10], 64)
		if err != nil {
			logger.Warnf("skipping %s: bad longitude %q", zip, rec[10])
			continue
		}

		coord := geo.Coordinate{Latitude: lat, Longitude: lon}
		if err := coord.Validate(); err != nil {
			logger.Warnf("skipping %s: %v", zip, err)
			continue
		}

		records = append(records, LocationRecord{
			Zipcode:    zip,
			Coordinate: coord,
			City:       rec[2],
			State:      rec[4],
		})
	}

	logger.Debugf("parsed %d postal codes", len(records))
	return records, nil
}

// LoadGeoNamesFile loads a GeoNames dump from disk. Both the plain text file
// and the zip archive distributed by GeoNames (e.g. US.zip) are accepted.
func LoadGeoNamesFile(path string) ([]LocationRecord, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return loadGeoNamesZip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening postal code file: %w", err)
	}
	defer f.Close()

	return LoadGeoNames(f)
}

func loadGeoNamesZip(path string) ([]LocationRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening postal code archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		if !strings.HasSuffix(name, ".txt") || strings.EqualFold(name, "readme.txt") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		return LoadGeoNames(rc)
	}

	return nil, fmt.Errorf("no postal code file found in %s", path)
}
