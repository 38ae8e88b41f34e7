// Package summary reduces stored sessions to aggregate statistics.
package summary

import (
	"math"
	"sort"
	"strings"

	"github.com/vincentbai/sitetrace-agent/internal/models"
)

const (
	UnknownScreen = "unknown"
	hourLayout    = "2006-01-02T15"
)

// Summary is recomputed from the store on demand and never persisted.
type Summary struct {
	Sessions        int                           `json:"sessions"`
	AvgTimeOnScreen int64                         `json:"avgTimeOnScreen"`
	AvgScrollDepth  int64                         `json:"avgScrollDepth"`
	TotalClicks     int                           `json:"totalClicks"`
	ScreenSizes     map[string]int                `json:"screenSizes"`
	ClickTargets    map[string]int                `json:"clickTargets"`
	Sections        map[string]models.SectionStat `json:"sections"`
	Timeline        map[string]int                `json:"timeline"`

	// first-seen order of keys, used to break ranking ties
	sectionOrder []string
	targetOrder  []string
}

// Summarize aggregates sessions. Empty input yields zero counters and empty,
// non-nil maps.
func Summarize(sessions []models.Session) Summary {
	out := Summary{
		ScreenSizes:  map[string]int{},
		ClickTargets: map[string]int{},
		Sections:     map[string]models.SectionStat{},
		Timeline:     map[string]int{},
	}
	if len(sessions) == 0 {
		return out
	}

	var totalTime, totalScroll int64
	for _, session := range sessions {
		totalTime += session.TimeOnScreen
		totalScroll += int64(session.ScrollDepth)
		out.TotalClicks += len(session.Clicks)

		size := session.DeviceInfo.ScreenSize
		if size == "" {
			size = UnknownScreen
		}
		out.ScreenSizes[size]++

		for _, click := range session.Clicks {
			label := ClickLabel(click)
			if _, seen := out.ClickTargets[label]; !seen {
				out.targetOrder = append(out.targetOrder, label)
			}
			out.ClickTargets[label]++
		}

		// Map iteration order is random; sort so first-seen order within
		// one session is stable.
		ids := make([]string, 0, len(session.Sections))
		for id := range session.Sections {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			stat := session.Sections[id]
			acc, seen := out.Sections[id]
			if !seen {
				out.sectionOrder = append(out.sectionOrder, id)
			}
			acc.Time += stat.Time
			acc.Enters += stat.Enters
			out.Sections[id] = acc
		}

		out.Timeline[session.LastSeen().Format(hourLayout)]++
	}

	out.Sessions = len(sessions)
	out.AvgTimeOnScreen = roundedAverage(totalTime, len(sessions))
	out.AvgScrollDepth = roundedAverage(totalScroll, len(sessions))
	return out
}

// ClickLabel is the histogram key for a click: the tag, followed by the
// trimmed text in parentheses when there is any.
func ClickLabel(click models.Click) string {
	text := strings.TrimSpace(click.Text)
	if text == "" {
		return click.Target
	}
	return click.Target + " (" + text + ")"
}

// roundedAverage rounds halves up, so 2.5 becomes 3 and -2.5 becomes -2.
func roundedAverage(total int64, n int) int64 {
	return int64(math.Floor(float64(total)/float64(n) + 0.5))
}
