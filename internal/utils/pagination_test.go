package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s         string
		def, want int
	}{
		{"", 20, 20},
		{"3", 1, 3},
		{"-7", 1, -7},
		{"007", 1, 7},
		{"two", 20, 20},
		{" 3", 20, 20}, // no trimming: raw query values only
		{"99999999999999999999", 20, 20},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestAtoiInRange(t *testing.T) {
	cases := []struct {
		s    string
		want int
	}{
		{"", 20},      // absent -> default
		{"50", 50},    // in range
		{"1", 1},      // lower bound inclusive
		{"100", 100},  // upper bound inclusive
		{"0", 20},     // below min -> default, not min
		{"-5", 20},    // below min -> default
		{"9999", 100}, // above max -> capped
		{"lots", 20},  // unparseable -> default
	}
	for _, tc := range cases {
		if got := AtoiInRange(tc.s, 20, 1, 100); got != tc.want {
			t.Fatalf("AtoiInRange(%q, 20, 1, 100) = %d; want %d", tc.s, got, tc.want)
		}
	}
}
