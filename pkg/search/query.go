package search

import (
	"net/url"
	"strconv"
	"strings"
)

// Query holds the raw search request values. An empty field is absent.
type Query struct {
	// Text is the free text matched against name, description and
	// organization.
	Text string

	// Zip is the zipcode the search is centered on.
	Zip string

	// Radius is the maximum distance in miles from Zip.
	Radius string

	// Limit is the maximum number of results.
	Limit string
}

// ParseQuery builds a Query from HTTP query parameters. The text may be given
// as "query" or "q".
//
// Supported parameters:
//   - query, q: free text
//   - zip: zipcode
//   - radius: radius in miles
//   - limit: page size
func ParseQuery(values url.Values) Query {
	text := values.Get("query")
	if text == "" {
		text = values.Get("q")
	}

	return Query{
		Text:   text,
		Zip:    values.Get("zip"),
		Radius: values.Get("radius"),
		Limit:  values.Get("limit"),
	}
}

// HasLocation reports whether both a zipcode and a radius were given.
func (q Query) HasLocation() bool {
	return q.Zip != "" && q.Radius != ""
}

func (q Query) text() string {
	return strings.TrimSpace(q.Text)
}

// limit parses the requested page size, falling back to def when the value
// is missing or not an integer. Zero and negative limits return nothing.
func (q Query) limit(def int) int {
	if q.Limit == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(q.Limit))
	if err != nil {
		return def
	}
	return max(n, 0)
}
