package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Event is an input to the tracker's state machine. Any UI layer that can
// observe clicks, scrolling, visibility and section intersections can drive
// a Tracker by translating its callbacks into Events.
type Event interface {
	apply(t *Tracker) error
}

type ClickEvent struct{ Click }

type ScrollEvent struct{ ScrollPosition }

type VisibilityEvent struct {
	Visible bool
}

type SectionEvent struct {
	ID    string
	Ratio float64
}

// TickEvent is the periodic sync timer firing.
type TickEvent struct{}

// UnloadEvent is page teardown.
type UnloadEvent struct{}

func (e ClickEvent) apply(t *Tracker) error      { return t.RecordClick(e.Click) }
func (e ScrollEvent) apply(t *Tracker) error     { return t.RecordScroll(e.ScrollPosition) }
func (e VisibilityEvent) apply(t *Tracker) error { return t.OnVisibilityChange(e.Visible) }
func (e SectionEvent) apply(t *Tracker) error    { return t.OnSectionIntersection(e.ID, e.Ratio) }
func (TickEvent) apply(t *Tracker) error         { return t.Flush(false) }
func (UnloadEvent) apply(t *Tracker) error       { return t.EndSession() }

// Handle applies one event.
func (t *Tracker) Handle(ev Event) error {
	if ev == nil {
		return fmt.Errorf("tracker: nil event")
	}
	return ev.apply(t)
}

// Run starts the session if needed and applies events from a single
// goroutine, flushing on every sync interval. It returns after an
// UnloadEvent, when events is closed, or when ctx is cancelled; in every
// case the session is ended and its final flush issued.
func (t *Tracker) Run(ctx context.Context, events <-chan Event) error {
	if t.State() == StateInactive {
		if err := t.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(t.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.endQuietly()
		case <-ticker.C:
			if err := t.Flush(false); err != nil {
				t.opts.Logger.Debug("periodic flush skipped", zap.Error(err))
			}
		case ev, ok := <-events:
			if !ok {
				return t.endQuietly()
			}
			err := t.Handle(ev)
			if _, unload := ev.(UnloadEvent); unload {
				return err
			}
			if err != nil {
				t.opts.Logger.Debug("event ignored", zap.Error(err))
			}
		}
	}
}

func (t *Tracker) endQuietly() error {
	if err := t.EndSession(); err != nil && !errors.Is(err, ErrEnded) {
		return err
	}
	return nil
}
