package models

import "time"

const (
	MaxClicks      = 100
	MaxEvents      = 200
	MaxClickText   = 60
	MaxScrollDepth = 100
)

// Session is one page visit. Timestamps are epoch milliseconds, matching what
// browsers send; TimeOnScreen and section times are whole seconds.
type Session struct {
	SessionID    string                 `json:"sessionId"`
	StartTime    int64                  `json:"startTime"`
	EndTime      *int64                 `json:"endTime"` // nil until the session ends
	Page         string                 `json:"page"`
	Clicks       []Click                `json:"clicks"`
	ScrollDepth  int                    `json:"scrollDepth"`
	TimeOnScreen int64                  `json:"timeOnScreen"`
	Sections     map[string]SectionStat `json:"sections"`
	Events       []Event                `json:"events"`
	DeviceInfo   DeviceInfo             `json:"deviceInfo"`
}

type Click struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Target    string  `json:"target"` // tag name, e.g. BUTTON
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

type Event struct {
	Type      string `json:"type"` // click|visibility|section
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
}

type SectionStat struct {
	Time   int64 `json:"time"`
	Enters int64 `json:"enters"`
}

type DeviceInfo struct {
	UserAgent  string `json:"userAgent,omitempty"`
	ScreenSize string `json:"screenSize,omitempty"`
	Language   string `json:"language,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// LastSeen is the session end time, or its start time while it is still open.
func (s Session) LastSeen() time.Time {
	if s.EndTime != nil && *s.EndTime > 0 {
		return time.UnixMilli(*s.EndTime).UTC()
	}
	return time.UnixMilli(s.StartTime).UTC()
}

// Millis returns t as epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
