package summary

import (
	"sort"

	"github.com/vincentbai/sitetrace-agent/internal/models"
)

type RankedSection struct {
	ID string
	models.SectionStat
}

type RankedTarget struct {
	Label string
	Count int
}

// TopSections returns up to n sections by accumulated time, most first.
func (s Summary) TopSections(n int) []RankedSection {
	keys := orderedKeys(s.sectionOrder, s.Sections)
	ranked := make([]RankedSection, 0, len(keys))
	for _, id := range keys {
		ranked = append(ranked, RankedSection{ID: id, SectionStat: s.Sections[id]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Time > ranked[j].Time
	})
	return head(ranked, n)
}

// TopClickTargets returns up to n click labels by count, most first.
func (s Summary) TopClickTargets(n int) []RankedTarget {
	keys := orderedKeys(s.targetOrder, s.ClickTargets)
	ranked := make([]RankedTarget, 0, len(keys))
	for _, label := range keys {
		ranked = append(ranked, RankedTarget{Label: label, Count: s.ClickTargets[label]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	return head(ranked, n)
}

// orderedKeys returns the keys of m in first-seen order. A summary decoded
// from JSON has no recorded order; its keys come back sorted.
func orderedKeys[V any](order []string, m map[string]V) []string {
	if len(order) == len(m) {
		return order
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func head[T any](in []T, n int) []T {
	if n >= 0 && len(in) > n {
		return in[:n]
	}
	return in
}
