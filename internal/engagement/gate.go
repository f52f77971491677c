// Package engagement decides when a page view has been read enough to record.
//
// A Gate is owned by a single event loop (see Observer) and is not safe for
// concurrent use. It moves from Observing to Emitted exactly once.
package engagement

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/nexusdiet/internal/domain"
)

const (
	// TickMs is the read time credited per foreground tick
	TickMs = 1000
	// MinActiveReadMs is the read time the emission predicate requires
	MinActiveReadMs = 5000
	// MinScrollPercent is the scroll depth required on pages that can scroll
	MinScrollPercent = 10
	// ShortPageRatio marks pages barely taller than the viewport as short
	ShortPageRatio = 1.2
)

// State of a page view
type State int

const (
	Observing State = iota
	Emitted
)

func (s State) String() string {
	if s == Emitted {
		return "emitted"
	}
	return "observing"
}

// Viewport holds the last known document and window heights in pixels
type Viewport struct {
	DocumentHeight float64
	ViewportHeight float64
}

// Short reports whether the page is too short to meaningfully scroll
func (v Viewport) Short() bool {
	return v.DocumentHeight <= v.ViewportHeight*ShortPageRatio
}

// Gate accumulates engagement for one page view and emits its record once
type Gate struct {
	page     domain.PageRecord
	viewID   string
	throttle Throttle
	now      func() time.Time

	state            State
	visible          bool
	activeReadTimeMs int64
	maxScrollPercent int
	viewport         Viewport
}

// Option configures a Gate
type Option func(*Gate)

// WithThrottle sets the scroll check throttle
func WithThrottle(t Throttle) Option {
	return func(g *Gate) { g.throttle = t }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// StartHidden creates the gate for a page loaded in a background tab
func StartHidden() Option {
	return func(g *Gate) { g.visible = false }
}

// NewGate starts observing page, the extraction state captured on load
func NewGate(page domain.PageRecord, vp Viewport, opts ...Option) *Gate {
	g := &Gate{
		page:     page,
		viewID:   uuid.NewString(),
		throttle: NewRateThrottle(500 * time.Millisecond),
		now:      time.Now,
		visible:  true,
		viewport: vp,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Tick credits one second of foreground reading and evaluates the predicate.
// Ticks while hidden are ignored.
func (g *Gate) Tick() (domain.PageRecord, bool) {
	if g.state == Emitted || !g.visible {
		return domain.PageRecord{}, false
	}
	g.activeReadTimeMs += TickMs
	return g.check()
}

// Scroll raises the scroll high-water mark; the predicate is checked only when the throttle allows
func (g *Gate) Scroll(scrollTop, documentHeight, viewportHeight float64) (domain.PageRecord, bool) {
	g.viewport = Viewport{DocumentHeight: documentHeight, ViewportHeight: viewportHeight}

	scrollable := documentHeight - viewportHeight
	if scrollable > 0 && !math.IsNaN(scrollTop) && !math.IsInf(scrollTop, 0) {
		pct := domain.ClampPercent(int(math.Round(scrollTop / scrollable * 100)))
		if pct > g.maxScrollPercent {
			g.maxScrollPercent = pct
		}
	}

	if g.state == Emitted || !g.throttle.Allow(g.now()) {
		return domain.PageRecord{}, false
	}
	return g.check()
}

// SetVisible records a visibility change; becoming hidden forces emission
func (g *Gate) SetVisible(visible bool) (domain.PageRecord, bool) {
	g.visible = visible
	if visible {
		return domain.PageRecord{}, false
	}
	return g.emit()
}

// Unload forces emission before the page is torn down
func (g *Gate) Unload() (domain.PageRecord, bool) {
	return g.emit()
}

// ShouldEmit is the emission predicate
func (g *Gate) ShouldEmit() bool {
	return g.activeReadTimeMs >= MinActiveReadMs &&
		(g.viewport.Short() || g.maxScrollPercent >= MinScrollPercent)
}

// Snapshot returns the current record without changing state
func (g *Gate) Snapshot() domain.PageRecord {
	rec := g.page.Normalize()
	rec.ViewID = g.viewID
	rec.ActiveReadTimeMs = g.activeReadTimeMs
	rec.MaxScrollPercent = g.maxScrollPercent
	rec.Timestamp = domain.FormatTimestamp(g.now())
	return rec
}

func (g *Gate) State() State            { return g.state }
func (g *Gate) ViewID() string          { return g.viewID }
func (g *Gate) ActiveReadTimeMs() int64 { return g.activeReadTimeMs }
func (g *Gate) MaxScrollPercent() int   { return g.maxScrollPercent }

func (g *Gate) check() (domain.PageRecord, bool) {
	if !g.ShouldEmit() {
		return domain.PageRecord{}, false
	}
	return g.emit()
}

func (g *Gate) emit() (domain.PageRecord, bool) {
	if g.state == Emitted {
		return domain.PageRecord{}, false
	}
	g.state = Emitted
	return g.Snapshot(), true
}
