// Package tracker turns page activity into one bounded session record.
//
// A Tracker owns a single session from Start to EndSession. Foreground dwell
// time accrues only while the page is visible; section dwell time accrues
// only while a section is active and the page is visible. Snapshots are
// merged into a local cache on every flush and sent to a collector at most
// once per sync interval, or immediately on final flushes.
package tracker

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/models"
)

const (
	DefaultSyncInterval = 15 * time.Second
	SectionThreshold    = 0.5
)

var (
	ErrNotStarted     = errors.New("tracker: session not started")
	ErrAlreadyStarted = errors.New("tracker: session already started")
	ErrEnded          = errors.New("tracker: session ended")
)

type State int

const (
	StateInactive State = iota
	StateForeground
	StateBackground
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateForeground:
		return "foreground"
	case StateBackground:
		return "background"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SnapshotCache receives every flushed snapshot.
type SnapshotCache interface {
	Merge(ctx context.Context, session models.Session) error
}

// Transport delivers snapshots to the remote collector.
type Transport interface {
	Send(ctx context.Context, session models.Session) error
}

type Options struct {
	Page    string
	Device  models.DeviceInfo
	Visible bool // page visibility when Start is called

	SyncInterval time.Duration
	Now          func() time.Time
	NewID        func() string

	Cache     SnapshotCache // optional
	Transport Transport     // optional
	Logger    *zap.Logger
}

type sectionStat struct {
	dwell  time.Duration
	enters int64
}

type Tracker struct {
	opts Options

	mu    sync.Mutex
	ctx   context.Context
	state State

	id           string
	start        time.Time
	end          time.Time
	clicks       []models.Click
	events       []models.Event
	scrollDepth  int
	timeOnScreen time.Duration
	sections     map[string]*sectionStat

	foregroundSince time.Time // zero while backgrounded
	activeSection   string    // "" when no section is active
	sectionSince    time.Time // zero while the active section is paused
	lastSync        time.Time

	inflight sync.WaitGroup
}

func New(opts Options) *Tracker {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Page == "" {
		opts.Page = "/"
	}
	return &Tracker{opts: opts, state: StateInactive}
}

// Start opens the session. ctx bounds regular transmissions and cache
// writes; the final ones outlive it.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateInactive {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := t.opts.Now()
	t.ctx = ctx
	t.id = t.opts.NewID()
	t.start = now
	t.clicks = []models.Click{}
	t.events = []models.Event{}
	t.sections = map[string]*sectionStat{}

	if t.opts.Visible {
		t.state = StateForeground
		t.foregroundSince = now
	} else {
		t.state = StateBackground
	}
	t.opts.Logger.Debug("session started", zap.String("session_id", t.id), zap.Stringer("state", t.state))
	return nil
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// ActiveSection returns the id of the active section, if any.
func (t *Tracker) ActiveSection() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeSection, t.activeSection != ""
}

type Click struct {
	X, Y   float64
	Target string
	Text   string
}

// RecordClick stores the click and a matching event, then flushes.
func (t *Tracker) RecordClick(c Click) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	now := models.Millis(t.opts.Now())
	text := truncate(c.Text, models.MaxClickText)
	t.clicks = appendBounded(t.clicks, models.Click{
		X: c.X, Y: c.Y, Target: c.Target, Text: text, Timestamp: now,
	}, models.MaxClicks)
	t.recordEvent("click", now, text)

	t.flushLocked(false)
	return nil
}

type ScrollPosition struct {
	ScrollY        float64
	ViewportHeight float64
	DocumentHeight float64
}

// Percent is the share of the document seen so far, capped at 100.
func (p ScrollPosition) Percent() int {
	if p.DocumentHeight <= 0 {
		return 0
	}
	pct := int(math.Floor((p.ScrollY+p.ViewportHeight)/p.DocumentHeight*100 + 0.5))
	return min(max(pct, 0), models.MaxScrollDepth)
}

// RecordScroll raises the scroll depth when pos reaches further than before.
func (t *Tracker) RecordScroll(pos ScrollPosition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if pct := pos.Percent(); pct > t.scrollDepth {
		t.scrollDepth = pct
	}
	return nil
}

// OnVisibilityChange moves between foreground and background. Hiding folds
// open dwell time, pauses the active section and forces a final-style flush
// since the page may not come back.
func (t *Tracker) OnVisibilityChange(visible bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	now := t.opts.Now()
	switch {
	case visible && t.state == StateBackground:
		t.state = StateForeground
		t.foregroundSince = now
		if t.activeSection != "" {
			t.sectionSince = now
		}
		t.recordEvent("visibility", models.Millis(now), "visible")
	case !visible && t.state == StateForeground:
		t.foldForeground(now)
		t.foldSection(now)
		t.foregroundSince = time.Time{}
		t.sectionSince = time.Time{}
		t.state = StateBackground
		t.recordEvent("visibility", models.Millis(now), "hidden")
		t.flushLocked(true)
	}
	return nil
}

// OnSectionIntersection reacts to a section's visible ratio. Crossing the
// threshold upward activates the section and counts one entry; crossing it
// downward deactivates it. Activating another section closes the current one.
func (t *Tracker) OnSectionIntersection(id string, ratio float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	now := t.opts.Now()
	if ratio >= SectionThreshold {
		if t.activeSection == id {
			return nil
		}
		t.foldSection(now)
		t.activeSection = id
		t.sectionSince = time.Time{}
		if t.state == StateForeground {
			t.sectionSince = now
		}
		t.section(id).enters++
		t.recordEvent("section", models.Millis(now), id)
		return nil
	}

	if t.activeSection == id {
		t.foldSection(now)
		t.activeSection = ""
		t.sectionSince = time.Time{}
	}
	return nil
}

// Flush folds open dwell intervals into the session, caches the snapshot and
// transmits it when the sync interval has passed or isFinal is set.
func (t *Tracker) Flush(isFinal bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateInactive {
		return ErrNotStarted
	}
	t.flushLocked(isFinal)
	return nil
}

// EndSession stamps the end time and performs the final flush.
func (t *Tracker) EndSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	now := t.opts.Now()
	t.foldForeground(now)
	t.foldSection(now)
	t.foregroundSince = time.Time{}
	t.sectionSince = time.Time{}
	t.end = now
	t.state = StateEnded
	t.flushLocked(true)
	t.opts.Logger.Debug("session ended", zap.String("session_id", t.id))
	return nil
}

// Snapshot returns the sanitized session as it would be sent now, without
// folding open intervals.
func (t *Tracker) Snapshot() models.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Wait blocks until every started transmission has returned.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

func (t *Tracker) checkOpen() error {
	switch t.state {
	case StateInactive:
		return ErrNotStarted
	case StateEnded:
		return ErrEnded
	}
	return nil
}

func (t *Tracker) flushLocked(isFinal bool) {
	now := t.opts.Now()
	t.foldForeground(now)
	t.foldSection(now)

	snapshot := t.snapshotLocked()
	if t.opts.Cache != nil {
		ctx := t.ctx
		if isFinal {
			ctx = context.WithoutCancel(ctx)
		}
		if err := t.opts.Cache.Merge(ctx, snapshot); err != nil {
			t.opts.Logger.Warn("unable to cache session snapshot", zap.Error(err))
		}
	}

	if !isFinal && !t.lastSync.IsZero() && now.Sub(t.lastSync) < t.opts.SyncInterval {
		return
	}
	t.lastSync = now
	t.transmit(snapshot, isFinal)
}

// transmit sends without blocking the caller. Failures are dropped: a lost
// update is acceptable, a stalled page is not. Final sends use a context
// that survives the tracker's own cancellation.
func (t *Tracker) transmit(snapshot models.Session, isFinal bool) {
	if t.opts.Transport == nil {
		return
	}
	ctx := t.ctx
	if isFinal {
		ctx = context.WithoutCancel(ctx)
	}
	logger := t.opts.Logger
	transport := t.opts.Transport

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		if err := transport.Send(ctx, snapshot); err != nil {
			logger.Debug("session transmission dropped",
				zap.String("session_id", snapshot.SessionID),
				zap.Bool("final", isFinal),
				zap.Error(err),
			)
		}
	}()
}

func (t *Tracker) foldForeground(now time.Time) {
	if t.foregroundSince.IsZero() {
		return
	}
	if d := now.Sub(t.foregroundSince); d > 0 {
		t.timeOnScreen += d
	}
	t.foregroundSince = now
}

func (t *Tracker) foldSection(now time.Time) {
	if t.activeSection == "" || t.sectionSince.IsZero() {
		return
	}
	if d := now.Sub(t.sectionSince); d > 0 {
		t.section(t.activeSection).dwell += d
	}
	t.sectionSince = now
}

func (t *Tracker) section(id string) *sectionStat {
	stat, ok := t.sections[id]
	if !ok {
		stat = &sectionStat{}
		t.sections[id] = stat
	}
	return stat
}

func (t *Tracker) recordEvent(kind string, at int64, label string) {
	t.events = appendBounded(t.events, models.Event{Type: kind, Timestamp: at, Label: label}, models.MaxEvents)
}

func (t *Tracker) snapshotLocked() models.Session {
	session := models.Session{
		SessionID:    t.id,
		StartTime:    models.Millis(t.start),
		Page:         t.opts.Page,
		Clicks:       append([]models.Click{}, t.clicks...),
		ScrollDepth:  t.scrollDepth,
		TimeOnScreen: wholeSeconds(t.timeOnScreen),
		Sections:     make(map[string]models.SectionStat, len(t.sections)),
		Events:       append([]models.Event{}, t.events...),
		DeviceInfo:   t.opts.Device,
	}
	if !t.end.IsZero() {
		end := models.Millis(t.end)
		session.EndTime = &end
	}
	for id, stat := range t.sections {
		session.Sections[id] = models.SectionStat{Time: wholeSeconds(stat.dwell), Enters: stat.enters}
	}
	return session
}

func wholeSeconds(d time.Duration) int64 {
	return int64(math.Floor(d.Seconds() + 0.5))
}

func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if len(list) > limit {
		list = append(list[:0], list[len(list)-limit:]...)
	}
	return list
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
