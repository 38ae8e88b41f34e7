package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordedEvent is one line of a captured browser event log:
//
//	{"kind":"click","at":1700000000000,"x":10,"y":20,"target":"A","text":"Blog"}
//	{"kind":"scroll","at":...,"scrollY":400,"viewport":800,"document":2400}
//	{"kind":"visibility","at":...,"visible":false}
//	{"kind":"section","at":...,"section":"about","ratio":0.6}
//	{"kind":"tick","at":...}
//	{"kind":"unload","at":...}
type RecordedEvent struct {
	Kind string `json:"kind"`
	At   int64  `json:"at"`

	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Target string  `json:"target,omitempty"`
	Text   string  `json:"text,omitempty"`

	ScrollY  float64 `json:"scrollY,omitempty"`
	Viewport float64 `json:"viewport,omitempty"`
	Document float64 `json:"document,omitempty"`

	Visible *bool `json:"visible,omitempty"`

	Section string  `json:"section,omitempty"`
	Ratio   float64 `json:"ratio,omitempty"`
}

// ParseRecordedEvent decodes one log line.
func ParseRecordedEvent(line []byte) (RecordedEvent, error) {
	var rec RecordedEvent
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("tracker: decode recorded event: %w", err)
	}
	return rec, nil
}

// Time is when the event was observed.
func (r RecordedEvent) Time() time.Time {
	return time.UnixMilli(r.At)
}

// Event converts the record into a state machine input.
func (r RecordedEvent) Event() (Event, error) {
	switch r.Kind {
	case "click":
		return ClickEvent{Click{X: r.X, Y: r.Y, Target: r.Target, Text: r.Text}}, nil
	case "scroll":
		return ScrollEvent{ScrollPosition{ScrollY: r.ScrollY, ViewportHeight: r.Viewport, DocumentHeight: r.Document}}, nil
	case "visibility":
		if r.Visible == nil {
			return nil, fmt.Errorf("tracker: visibility event without visible flag")
		}
		return VisibilityEvent{Visible: *r.Visible}, nil
	case "section":
		if r.Section == "" {
			return nil, fmt.Errorf("tracker: section event without section id")
		}
		return SectionEvent{ID: r.Section, Ratio: r.Ratio}, nil
	case "tick":
		return TickEvent{}, nil
	case "unload":
		return UnloadEvent{}, nil
	default:
		return nil, fmt.Errorf("tracker: unknown event kind %q", r.Kind)
	}
}
