package engagement

import (
	"context"
	"errors"
	"time"

	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/logger"
)

// ErrClosed is returned when posting to an observer whose loop has exited
var ErrClosed = errors.New("observer closed")

// Emitter receives the final record of a page view
type Emitter interface {
	Publish(ctx context.Context, rec domain.PageRecord) error
}

type eventKind int

const (
	eventScroll eventKind = iota
	eventVisibility
	eventUnload
	eventSnapshot
)

type event struct {
	kind           eventKind
	scrollTop      float64
	documentHeight float64
	viewportHeight float64
	visible        bool
	reply          chan domain.PageRecord
}

// Observer runs a Gate on a single goroutine, the page's event loop.
// Timer ticks, scroll, visibility and unload events are handled one at a time.
type Observer struct {
	gate     *Gate
	emitter  Emitter
	logger   logger.Logger
	interval time.Duration
	ticks    <-chan time.Time

	events chan event
	done   chan struct{}
}

// ObserverOption configures an Observer
type ObserverOption func(*Observer)

// WithTicks replaces the wall-clock ticker; each value received is one tick
func WithTicks(ticks <-chan time.Time) ObserverOption {
	return func(o *Observer) { o.ticks = ticks }
}

// NewObserver wires gate to emitter; interval is the tick period (one second in a browser)
func NewObserver(gate *Gate, emitter Emitter, log logger.Logger, interval time.Duration, opts ...ObserverOption) *Observer {
	if log == nil {
		log = logger.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	o := &Observer{
		gate:     gate,
		emitter:  emitter,
		logger:   log.With(logger.String("view_id", gate.ViewID())),
		interval: interval,
		events:   make(chan event),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes events until Unload or ctx cancellation; both flush the record if not yet emitted
func (o *Observer) Run(ctx context.Context) error {
	defer close(o.done)

	ticks := o.ticks
	if ticks == nil {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			o.publish(context.WithoutCancel(ctx), o.gate.Unload)
			return nil

		case <-ticks:
			o.publish(ctx, o.gate.Tick)

		case ev := <-o.events:
			switch ev.kind {
			case eventScroll:
				o.publish(ctx, func() (domain.PageRecord, bool) {
					return o.gate.Scroll(ev.scrollTop, ev.documentHeight, ev.viewportHeight)
				})
			case eventVisibility:
				o.publish(ctx, func() (domain.PageRecord, bool) {
					return o.gate.SetVisible(ev.visible)
				})
			case eventSnapshot:
				ev.reply <- o.gate.Snapshot()
			case eventUnload:
				o.publish(ctx, o.gate.Unload)
				return nil
			}
		}
	}
}

// Scroll posts a scroll event
func (o *Observer) Scroll(ctx context.Context, scrollTop, documentHeight, viewportHeight float64) error {
	return o.post(ctx, event{
		kind:           eventScroll,
		scrollTop:      scrollTop,
		documentHeight: documentHeight,
		viewportHeight: viewportHeight,
	})
}

// SetVisible posts a visibility change
func (o *Observer) SetVisible(ctx context.Context, visible bool) error {
	return o.post(ctx, event{kind: eventVisibility, visible: visible})
}

// Unload posts page teardown; Run returns after handling it
func (o *Observer) Unload(ctx context.Context) error {
	return o.post(ctx, event{kind: eventUnload})
}

// CurrentPageData answers "get current page data" from held state, without waiting for the gate
func (o *Observer) CurrentPageData(ctx context.Context) (domain.PageRecord, error) {
	reply := make(chan domain.PageRecord, 1)
	if err := o.post(ctx, event{kind: eventSnapshot, reply: reply}); err != nil {
		return domain.PageRecord{}, err
	}
	select {
	case rec := <-reply:
		return rec, nil
	case <-ctx.Done():
		return domain.PageRecord{}, ctx.Err()
	}
}

// Done is closed when Run exits
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

func (o *Observer) post(ctx context.Context, ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Observer) publish(ctx context.Context, step func() (domain.PageRecord, bool)) {
	rec, ok := step()
	if !ok {
		return
	}

	o.logger.Debug("page view emitted",
		logger.String("url", rec.URL),
		logger.Int64("active_read_time_ms", rec.ActiveReadTimeMs),
		logger.Int("max_scroll_percent", rec.MaxScrollPercent),
	)

	if err := o.emitter.Publish(ctx, rec); err != nil {
		o.logger.Error("publish page view", logger.Err(err))
	}
}
