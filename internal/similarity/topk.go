package similarity

import (
	"math/rand"
	"sort"
)

// selectSortThreshold is the input size below which a plain stable sort is
// cheaper than quickselect. Both paths return identical output.
const selectSortThreshold = 1000

// SelectSmallest returns the k items with the smallest dist values, sorted
// ascending. Items with equal distance keep their original relative order on
// both the sort and quickselect paths. When k >= len(items) the whole input
// is returned sorted. The input slice is not modified.
func SelectSmallest[T any](items []T, k int, dist func(T) float64) []T {
	if k <= 0 {
		return nil
	}

	work := make([]T, len(items))
	copy(work, items)

	if k >= len(work) || len(work) < selectSortThreshold {
		sort.SliceStable(work, func(i, j int) bool {
			return dist(work[i]) < dist(work[j])
		})
		if k < len(work) {
			work = work[:k]
		}
		return work
	}

	selected := quickselect(work, k, dist)
	sort.SliceStable(selected, func(i, j int) bool {
		return dist(selected[i]) < dist(selected[j])
	})
	return selected
}

// quickselect returns the k smallest items in no particular order, preserving
// the original relative order within equal-distance groups. It partitions
// around a random pivot distance into less / equal / greater groups and only
// recurses into the group that can still contain the k-th element.
func quickselect[T any](items []T, k int, dist func(T) float64) []T {
	if k >= len(items) {
		return items
	}

	pivot := dist(items[rand.Intn(len(items))])

	var less, equal, greater []T
	for _, it := range items {
		switch d := dist(it); {
		case d < pivot:
			less = append(less, it)
		case d > pivot:
			greater = append(greater, it)
		default:
			equal = append(equal, it)
		}
	}

	switch {
	case k <= len(less):
		return quickselect(less, k, dist)
	case k <= len(less)+len(equal):
		// The boundary falls inside the equal group; taking its prefix keeps
		// the original order among ties.
		return append(less, equal[:k-len(less)]...)
	default:
		rest := quickselect(greater, k-len(less)-len(equal), dist)
		out := append(less, equal...)
		return append(out, rest...)
	}
}
