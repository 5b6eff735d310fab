package listener

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/condition"
)

// Manager wires condition trees to their triggers.
type Manager struct {
	media      MediaSource
	timers     Timers
	now        func() time.Time
	nextUpdate nextUpdateFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimers replaces the timer source.
func WithTimers(t Timers) Option {
	return func(m *Manager) { m.timers = t }
}

// WithClock replaces the clock used to compute time boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNextUpdate replaces the boundary calculator.
func WithNextUpdate(f func(c *condition.TimeCondition, now time.Time, loc *time.Location) (time.Duration, bool)) Option {
	return func(m *Manager) { m.nextUpdate = f }
}

// NewManager creates a manager. media may be nil when no media queries are
// ever evaluated.
func NewManager(media MediaSource, opts ...Option) *Manager {
	m := &Manager{
		media:      media,
		timers:     SystemTimers{},
		now:        time.Now,
		nextUpdate: condition.NextTimeUpdate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetupMediaQueryListeners subscribes to every distinct media query of conds.
// A tree that is a single screen condition forwards the list's own result;
// any other tree is re-evaluated in full on every change.
func (m *Manager) SetupMediaQueryListeners(conds condition.List, state StateFunc, addListener AddListenerFunc, onUpdate UpdateFunc) {
	queries := condition.ExtractMediaQueries(conds)
	if len(queries) == 0 {
		return
	}
	if m.media == nil {
		log.Warn().Strs("queries", queries).Msg("No media source, screen conditions stay static")
		return
	}

	if len(conds) == 1 {
		if sc, ok := conds[0].(*condition.ScreenCondition); ok && sc.MediaQuery != nil {
			list := m.media.MatchMedia(*sc.MediaQuery)
			addListener(list.Subscribe(func(matches bool) {
				onUpdate(matches)
			}))
			return
		}
	}

	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}

		list := m.media.MatchMedia(q)
		addListener(list.Subscribe(func(bool) {
			onUpdate(condition.CheckConditionsMet(conds, state()))
		}))
	}
}

// SetupTimeListeners arms one self-rescheduling timer per distinct time
// condition of conds.
func (m *Manager) SetupTimeListeners(conds condition.List, state StateFunc, addListener AddListenerFunc, onUpdate UpdateFunc) {
	seen := make(map[string]struct{})
	for _, tc := range condition.ExtractTimeConditions(conds) {
		key := timeKey(tc)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		slot := &timeSlot{
			m:        m,
			cond:     tc,
			conds:    conds,
			state:    state,
			onUpdate: onUpdate,
		}
		slot.mu.Lock()
		slot.arm()
		slot.mu.Unlock()
		addListener(slot.cancel)
	}
}

// Subscribe wires both media and time listeners of conds into a new
// subscription. onUpdate is never called once Close has returned, and must not
// call Close on its own subscription.
func (m *Manager) Subscribe(conds condition.List, state StateFunc, onUpdate UpdateFunc) *Subscription {
	sub := &Subscription{}
	guarded := func(visible bool) {
		sub.gate.RLock()
		defer sub.gate.RUnlock()
		if sub.closed {
			return
		}
		onUpdate(visible)
	}
	m.SetupMediaQueryListeners(conds, state, sub.Add, guarded)
	m.SetupTimeListeners(conds, state, sub.Add, guarded)
	return sub
}

func timeKey(tc *condition.TimeCondition) string {
	var b strings.Builder
	if tc.After != nil {
		b.WriteString(*tc.After)
	}
	b.WriteByte('|')
	if tc.Before != nil {
		b.WriteString(*tc.Before)
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(tc.Weekdays, ","))
	return b.String()
}

// timeSlot owns the single timer currently armed for one time condition.
type timeSlot struct {
	m        *Manager
	cond     *condition.TimeCondition
	conds    condition.List
	state    StateFunc
	onUpdate UpdateFunc

	mu     sync.Mutex
	timer  Timer
	closed bool
}

// arm schedules the next firing. Caller holds s.mu.
func (s *timeSlot) arm() {
	s.timer = nil

	var loc *time.Location
	if snap := s.state(); snap != nil {
		loc = snap.Location
	}
	delay, ok := s.m.nextUpdate(s.cond, s.m.now(), loc)
	if !ok {
		return
	}

	clamped := delay > MaxTimeoutDelay
	if clamped {
		delay = MaxTimeoutDelay
	}
	if delay < 0 {
		delay = 0
	}
	s.timer = s.m.timers.AfterFunc(delay, func() { s.fire(clamped) })

	log.Debug().
		Dur("delay", delay).
		Bool("clamped", clamped).
		Msg("Time listener armed")
}

func (s *timeSlot) fire(clamped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !clamped {
		s.onUpdate(condition.CheckConditionsMet(s.conds, s.state()))
	}
	s.arm()
}

func (s *timeSlot) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
