package api

import "testing"

func TestListingURL(t *testing.T) {
	tests := []struct {
		name     string
		logical  string
		rawQuery string
		want     string
	}{
		{"bare directory", "public/docs", "", "/api/files/public/docs"},
		{"password carried over", "private/docs", "password=s3cret", "/api/files/private/docs?password=s3cret"},
		{"multiple params", "public", "download=1&password=x", "/api/files/public?download=1&password=x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := listingURL(tc.logical, tc.rawQuery); got != tc.want {
				t.Errorf("listingURL(%q, %q) = %q, want %q", tc.logical, tc.rawQuery, got, tc.want)
			}
		})
	}
}
