package core

import (
	"fmt"
	"strings"
)

// FormatSummary formats a search result into a pretty-printed block of text.
func FormatSummary(s EventSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (#%d)", s.Name, s.ID)
	if s.DistanceMiles != nil {
		fmt.Fprintf(&b, " - %.1f mi", *s.DistanceMiles)
	}

	if s.Organization != "" {
		fmt.Fprintf(&b, "\n  Organization: %s", s.Organization)
	}
	if place := FormatPlace(s.City, s.State, s.Zipcode); place != "" {
		fmt.Fprintf(&b, "\n  Where: %s", place)
	}
	if s.StartDate != "" {
		fmt.Fprintf(&b, "\n  When: %s", s.StartDate)
	}

	desc := s.ShortDesc
	if desc == "" {
		desc = s.Description
	}
	if desc != "" {
		fmt.Fprintf(&b, "\n  %s", truncate(desc, 100))
	}

	return b.String()
}

// FormatPlace joins city, state and zipcode as "City, ST 12345", skipping
// empty parts.
func FormatPlace(city, state, zipcode string) string {
	place := city
	region := strings.TrimSpace(state + " " + zipcode)
	if place != "" && region != "" {
		place += ", "
	}
	return place + region
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
