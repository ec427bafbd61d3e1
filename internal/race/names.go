package race

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims and NFC-normalizes a competitor, club or class name.
// Startlists arrive from several export tools with mixed composition forms;
// normalizing at the import boundary keeps lookups and uniqueness stable.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NewCollator returns a collator for Swedish ordering (å, ä, ö sort after z).
// Collators are not safe for concurrent use; create one per sort.
func NewCollator() *collate.Collator {
	return collate.New(language.Swedish)
}

// SortSwedish sorts strings in place using Swedish collation.
func SortSwedish(ss []string) {
	NewCollator().SortStrings(ss)
}

// CompareSwedish compares two strings under Swedish collation.
func CompareSwedish(a, b string) int {
	return NewCollator().CompareString(a, b)
}
