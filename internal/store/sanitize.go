package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vincentbai/sitetrace-agent/internal/models"
)

// Sanitize coerces a partially filled session into a storable one. Missing
// identifiers and timestamps are generated; collections are never nil and
// are truncated to their most recent entries.
func Sanitize(raw models.Session, now time.Time, newID func() string) models.Session {
	out := raw

	if out.SessionID == "" {
		out.SessionID = newID()
	}
	nowMillis := models.Millis(now)
	if out.StartTime <= 0 {
		out.StartTime = nowMillis
	}
	if out.EndTime == nil || *out.EndTime <= 0 {
		end := nowMillis
		out.EndTime = &end
	}
	if out.Page == "" {
		out.Page = "/"
	}

	out.ScrollDepth = clamp(out.ScrollDepth, 0, models.MaxScrollDepth)
	if out.TimeOnScreen < 0 {
		out.TimeOnScreen = 0
	}

	out.Clicks = tail(out.Clicks, models.MaxClicks)
	for i := range out.Clicks {
		out.Clicks[i].Text = truncateRunes(out.Clicks[i].Text, models.MaxClickText)
	}
	out.Events = tail(out.Events, models.MaxEvents)

	sections := make(map[string]models.SectionStat, len(out.Sections))
	for id, stat := range out.Sections {
		sections[id] = models.SectionStat{
			Time:   max(stat.Time, 0),
			Enters: max(stat.Enters, 0),
		}
	}
	out.Sections = sections

	return out
}

// tail copies the last n entries of in; the result is never nil.
func tail[T any](in []T, n int) []T {
	if len(in) > n {
		in = in[len(in)-n:]
	}
	return append(make([]T, 0, len(in)), in...)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// ParseSession decodes an ingestion body. The body must be a JSON object;
// absent fields are left zero for Sanitize to fill in.
func ParseSession(body []byte) (models.Session, error) {
	var session models.Session
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return session, fmt.Errorf("%w: body is not a JSON object", ErrValidation)
	}
	if err := json.Unmarshal(trimmed, &session); err != nil {
		return session, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return session, nil
}
