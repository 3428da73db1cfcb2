// Package search implements the location-aware event search used by the
// REST API and the command line.
//
// # Overview
//
// A search takes the raw request values (free text, zipcode, radius and
// limit) and produces an ordered page of event summaries. When both a
// zipcode and a radius are given the search is location based: the zipcode
// is resolved to a coordinate, every candidate event gets a distance in
// miles, events further than the radius are dropped and the rest are sorted
// nearest first.
//
// # Pipeline
//
//  1. Parse the limit. A missing or malformed limit silently selects
//     Config.DefaultLimit. A zero or negative limit returns no events.
//  2. When zip and radius are both present, validate them and resolve the
//     zipcode. A non-numeric zipcode or radius fails with ErrInvalidZipcode
//     before the event index is queried; an unknown zipcode fails with
//     ErrZipcodeNotFound.
//  3. Fetch candidates. Without text every event is enumerated. With text
//     the index runs a full-text query over name, description and
//     organization, and for location searches it also restricts results to a
//     box of Config.MaxSearchRange degrees around the resolved coordinate.
//  4. For location searches compute the equirectangular distance of every
//     candidate, keep those with distance <= radius and sort them.
//  5. Truncate to the limit.
//
// The coarse bounding box is only applied to text searches. Browsing with a
// location enumerates every event unless Config.BrowseBoundingBox is set.
//
// # Usage
//
//	p, err := search.New(store, geocode.NewResolver(store), search.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer p.Release()
//
//	results, err := p.Search(ctx, search.ParseQuery(r.URL.Query()))
//	switch {
//	case errors.Is(err, search.ErrInvalidZipcode):
//		// bad request
//	case errors.Is(err, search.ErrZipcodeNotFound):
//		// unknown location
//	}
//
// # Concurrency
//
// A Pipeline holds no per-request state and is safe for concurrent use.
// Distance computation for large candidate sets is spread over a shared
// worker pool; see Config.ParallelThreshold and Config.Workers.
package search
