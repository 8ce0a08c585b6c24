package series

import (
	"fmt"
	"sort"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/timeframe"

	"go.uber.org/zap"
)

const (
	// DefaultWhitespaceBuffer is the number of projected opens kept ahead of real data.
	DefaultWhitespaceBuffer = 500
	// DefaultWhitespaceOverlap is the number of trailing real bars used to seed a projection.
	DefaultWhitespaceOverlap = 5
)

// Projector keeps a fixed-length window of valid future bar opens so a
// consumer can draw placeholders before real data exists.
type Projector struct {
	cal     Calendar
	tok     calendar.Token
	tf      timeframe.TF
	ext     bool
	buffer  int
	overlap int
	logger  *zap.Logger

	anchor time.Time // last real open the window was projected from
	times  []time.Time
}

// NewProjector returns an empty projector. Call Regenerate to fill it.
func NewProjector(cal Calendar, tok calendar.Token, tf timeframe.TF, ext bool, buffer, overlap int, logger *zap.Logger) *Projector {
	if buffer <= 0 {
		buffer = DefaultWhitespaceBuffer
	}
	if overlap <= 0 {
		overlap = DefaultWhitespaceOverlap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		cal:     cal,
		tok:     tok,
		tf:      tf,
		ext:     ext,
		buffer:  buffer,
		overlap: overlap,
		logger:  logger,
	}
}

// Regenerate replaces the window with the buffer-many opens that follow the
// last seed time. Up to overlap trailing seed times anchor the calendar walk
// so strides across session boundaries come out right.
func (p *Projector) Regenerate(seed []time.Time) error {
	if len(seed) == 0 {
		p.anchor, p.times = time.Time{}, nil
		return nil
	}
	if len(seed) > p.overlap {
		seed = seed[len(seed)-p.overlap:]
	}
	last := seed[len(seed)-1]

	stamps, err := p.cal.DateRange(p.tok, p.tf, calendar.Range{Start: seed[0], Periods: p.buffer + p.overlap}, p.ext)
	if err != nil {
		return fmt.Errorf("project whitespace: %w", err)
	}
	i := sort.Search(len(stamps), func(i int) bool { return stamps[i].After(last) })
	window := make([]time.Time, 0, p.buffer)
	window = append(window, stamps[i:]...)
	if len(window) > p.buffer {
		window = window[:p.buffer]
	}

	if len(window) < p.buffer {
		p.logger.Error("calendar returned a short whitespace projection, topping up",
			zap.String("token", string(p.tok)),
			zap.String("timeframe", p.tf.String()),
			zap.Int("got", len(window)),
			zap.Int("want", p.buffer))
		t := last
		if len(window) > 0 {
			t = window[len(window)-1]
		}
		for len(window) < p.buffer {
			next, err := p.cal.NextTimestamp(p.tok, t, p.tf, p.ext)
			if err != nil {
				return fmt.Errorf("project whitespace: %w", err)
			}
			if !next.After(t) {
				return fmt.Errorf("project whitespace: calendar did not advance past %s", t)
			}
			window = append(window, next)
			t = next
		}
	}

	p.anchor, p.times = last, window
	return nil
}

// Extend hands the head of the window over to the real bar that just filled
// it and appends one more open, keeping the window length constant.
func (p *Projector) Extend() error {
	if len(p.times) == 0 {
		return nil
	}
	next, err := p.cal.NextTimestamp(p.tok, p.times[len(p.times)-1], p.tf, p.ext)
	if err != nil {
		return fmt.Errorf("extend whitespace: %w", err)
	}
	p.anchor = p.times[0]
	p.times = append(p.times[1:], next)
	return nil
}

// NextAfter returns the first projected open strictly after t, asking the
// calendar when t lies beyond the window.
func (p *Projector) NextAfter(t time.Time) (time.Time, error) {
	if !p.anchor.IsZero() && t.Before(p.anchor) {
		return time.Time{}, fmt.Errorf("%w: %s is before %s", ErrRewind, t, p.anchor)
	}
	i := sort.Search(len(p.times), func(i int) bool { return p.times[i].After(t) })
	if i < len(p.times) {
		return p.times[i], nil
	}
	return p.cal.NextTimestamp(p.tok, t, p.tf, p.ext)
}

// Head is the first projected open.
func (p *Projector) Head() (time.Time, bool) {
	if len(p.times) == 0 {
		return time.Time{}, false
	}
	return p.times[0], true
}

// At returns the i-th projected open.
func (p *Projector) At(i int) (time.Time, bool) {
	if i < 0 || i >= len(p.times) {
		return time.Time{}, false
	}
	return p.times[i], true
}

func (p *Projector) Len() int {
	return len(p.times)
}

// Window returns a copy of the projected opens.
func (p *Projector) Window() []time.Time {
	out := make([]time.Time, len(p.times))
	copy(out, p.times)
	return out
}
