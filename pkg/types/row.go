// Package types provides core data types for framebench.
package types

// Categories is the fixed label set of the category column.
var Categories = []string{"A", "B", "C", "D", "E"}

// FilterCategories is the two-label subset kept by the filter operation.
var FilterCategories = []string{"A", "B"}

// Row represents a single row of a synthetic dataset.
type Row struct {
	// ID is the sequential row identifier, 0..N-1 within a file
	ID int64 `json:"id"`

	// Category is one of Categories and drives grouping
	Category string `json:"category"`

	// Numeric1 is a uniform value in [0,1)
	Numeric1 float64 `json:"numeric1"`

	// Numeric2 is a uniform integer in [1,1000)
	Numeric2 int64 `json:"numeric2"`

	// Text is a fixed-length random alphanumeric string
	Text string `json:"text"`
}

// IsFilterCategory reports whether category belongs to FilterCategories.
func IsFilterCategory(category string) bool {
	for _, c := range FilterCategories {
		if c == category {
			return true
		}
	}
	return false
}
