// Package utils provides the query-parameter parsing helpers shared by the
// waiting-list endpoints.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer. Query parameters arrive as strings; the API treats
// anything unparseable the same as absent.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// AtoiInRange parses s like AtoiDefault and bounds the result: values below
// min fall back to def (a non-positive page size is nonsense, not a request
// for the minimum), values above max are capped at max.
func AtoiInRange(s string, def, min, max int) int {
	n := AtoiDefault(s, def)
	if n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}
