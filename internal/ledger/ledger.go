// Package ledger holds the ordered start/stop intervals of a time session.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is returned when a mutation would break the ledger's shape:
// opening a second interval or closing one that is not open.
var ErrInvalidState = errors.New("invalid ledger state")

// Interval is one stretch of work. Stop is nil while the interval is open.
type Interval struct {
	Start time.Time  `json:"start"`
	Stop  *time.Time `json:"stop,omitempty"`
}

// Open reports whether the interval has no stop time yet.
func (iv Interval) Open() bool {
	return iv.Stop == nil
}

// Seconds returns the whole seconds covered by a closed interval, 0 if open.
func (iv Interval) Seconds() int64 {
	if iv.Stop == nil {
		return 0
	}
	d := iv.Stop.Sub(iv.Start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Ledger is a chronological list of intervals. Only the last one may be open.
type Ledger []Interval

// New returns a ledger holding a single open interval at start.
func New(start time.Time) Ledger {
	return Ledger{{Start: start}}
}

// HasOpen reports whether the trailing interval is open.
func (l Ledger) HasOpen() bool {
	return len(l) > 0 && l[len(l)-1].Open()
}

// AppendOpen returns a copy of the ledger with a new open interval at start.
// A start earlier than the previous stop is moved up to that stop.
func (l Ledger) AppendOpen(start time.Time) (Ledger, error) {
	if l.HasOpen() {
		return nil, fmt.Errorf("%w: trailing interval already open", ErrInvalidState)
	}
	if n := len(l); n > 0 && start.Before(*l[n-1].Stop) {
		start = *l[n-1].Stop
	}
	out := make(Ledger, len(l), len(l)+1)
	copy(out, l)
	return append(out, Interval{Start: start}), nil
}

// CloseTrailing returns a copy of the ledger with the open trailing interval
// stopped at stop. A stop earlier than the start yields a zero-length interval.
func (l Ledger) CloseTrailing(stop time.Time) (Ledger, error) {
	if len(l) == 0 {
		return nil, fmt.Errorf("%w: no intervals", ErrInvalidState)
	}
	if !l.HasOpen() {
		return nil, fmt.Errorf("%w: trailing interval already closed", ErrInvalidState)
	}
	out := make(Ledger, len(l))
	copy(out, l)
	last := &out[len(out)-1]
	if stop.Before(last.Start) {
		stop = last.Start
	}
	last.Stop = &stop
	return out, nil
}

// TotalClosed sums the whole seconds of every closed interval.
func (l Ledger) TotalClosed() int64 {
	var total int64
	for _, iv := range l {
		total += iv.Seconds()
	}
	return total
}

// Validate checks that no interval except the last is open and that the
// intervals do not run backwards.
func (l Ledger) Validate() error {
	for i, iv := range l {
		if iv.Open() && i != len(l)-1 {
			return fmt.Errorf("%w: interval %d open before the end", ErrInvalidState, i)
		}
		if iv.Stop != nil && iv.Stop.Before(iv.Start) {
			return fmt.Errorf("%w: interval %d stops before it starts", ErrInvalidState, i)
		}
		if i > 0 && l[i-1].Stop != nil && iv.Start.Before(*l[i-1].Stop) {
			return fmt.Errorf("%w: interval %d overlaps its predecessor", ErrInvalidState, i)
		}
	}
	return nil
}
