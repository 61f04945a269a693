package catalog

import "slices"

// RankByCompleteness returns the datasets ordered by column count, most
// columns first. Datasets with equal counts keep their relative order, so
// ranking an already ranked list is a no-op. The input is not modified.
func RankByCompleteness(datasets []Dataset) []Dataset {
	out := slices.Clone(datasets)
	slices.SortStableFunc(out, func(a, b Dataset) int {
		return len(b.Columns) - len(a.Columns)
	})
	return out
}

// TopN returns at most the first n datasets. n <= 0 returns an empty slice.
func TopN(datasets []Dataset, n int) []Dataset {
	if n <= 0 {
		return []Dataset{}
	}
	if n > len(datasets) {
		n = len(datasets)
	}
	return slices.Clone(datasets[:n])
}
