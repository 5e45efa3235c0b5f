// Package metrics evaluates anonymization results: equivalence-class
// extraction, k-anonymity verification and class-size statistics.
package metrics

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shardsafe/kanon-engine/pkg/models"
)

// EquivalenceClasses groups rows by their values at the relevant attribute
// indices. The key concatenates "<attr>:<value>|" in the given attribute
// order, which makes class keys directly comparable across runs.
func EquivalenceClasses(rows []models.Row, attrs []int) map[string][]models.Row {
	result := make(map[string][]models.Row)
	for _, row := range rows {
		var b strings.Builder
		for _, attr := range attrs {
			b.WriteString(strconv.Itoa(attr))
			b.WriteByte(':')
			if attr < len(row) {
				b.WriteString(models.CellString(row[attr]))
			}
			b.WriteByte('|')
		}
		key := b.String()
		result[key] = append(result[key], row)
	}
	return result
}

// FulfillsKAnonymity reports whether every combination of values at the
// relevant attributes occurs at least k times. Pure and repeatable.
func FulfillsKAnonymity(rows []models.Row, attrs []int, k int) bool {
	for _, class := range EquivalenceClasses(rows, attrs) {
		if len(class) < k {
			return false
		}
	}
	return true
}

// ClassSizes returns the equivalence-class sizes in ascending order.
func ClassSizes(rows []models.Row, attrs []int) []int {
	classes := EquivalenceClasses(rows, attrs)
	sizes := make([]int, 0, len(classes))
	for _, class := range classes {
		sizes = append(sizes, len(class))
	}
	sort.Ints(sizes)
	return sizes
}

// SizeDistribution counts equivalence classes per size.
func SizeDistribution(rows []models.Row, attrs []int) map[int]int {
	dist := make(map[int]int)
	for _, s := range ClassSizes(rows, attrs) {
		dist[s]++
	}
	return dist
}

// MeanSize returns the mean equivalence-class size, 0 for empty input.
func MeanSize(sizes []int) float64 {
	if len(sizes) == 0 {
		return 0
	}
	sum := 0
	for _, s := range sizes {
		sum += s
	}
	return float64(sum) / float64(len(sizes))
}

// MedianSize returns the median of ascending-sorted sizes, 0 for empty input.
func MedianSize(sizes []int) float64 {
	n := len(sizes)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sizes[n/2])
	}
	return float64(sizes[n/2-1]+sizes[n/2]) / 2
}
