// Package listener keeps condition trees up to date by subscribing to the
// triggers they depend on: media query lists and time window boundaries.
package listener

import (
	"math"
	"time"

	"github.com/dokzlo13/dashd/internal/condition"
)

// MaxTimeoutDelay is the longest delay a single timer is armed for. Longer
// delays are reached through intermediate firings that only re-arm.
const MaxTimeoutDelay = time.Duration(math.MaxInt32) * time.Millisecond

// Timer is an armed one-shot timer.
type Timer interface {
	Stop() bool
}

// Timers arms one-shot timers.
type Timers interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemTimers arms timers with time.AfterFunc.
type SystemTimers struct{}

func (SystemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MediaQueryList is the live result of one media query.
type MediaQueryList interface {
	Matches() bool
	// Subscribe registers cb for result changes and returns its removal.
	Subscribe(cb func(matches bool)) (unsubscribe func())
}

// MediaSource resolves media queries to live lists.
type MediaSource interface {
	MatchMedia(query string) MediaQueryList
}

// MediaSourceFunc adapts a function to MediaSource.
type MediaSourceFunc func(query string) MediaQueryList

func (f MediaSourceFunc) MatchMedia(query string) MediaQueryList { return f(query) }

// StateFunc returns the latest snapshot. It is called from timer and media
// callbacks, so it must be safe for concurrent use.
type StateFunc func() *condition.Snapshot

// UpdateFunc receives the re-evaluated result of a tree.
type UpdateFunc func(visible bool)

// AddListenerFunc collects an unsubscribe callback.
type AddListenerFunc func(unsubscribe func())

type nextUpdateFunc func(c *condition.TimeCondition, now time.Time, loc *time.Location) (time.Duration, bool)
