package listener

import (
	"sync"
	"time"

	"github.com/dokzlo13/dashd/internal/condition"
)

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeTimers struct {
	mu    sync.Mutex
	armed []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	ft.armed = append(ft.armed, t)
	return t
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.armed)
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.armed[i]
}

func (ft *fakeTimers) last() *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.armed[len(ft.armed)-1]
}

// fire runs the timer callback the way the runtime would when it expires.
func (t *fakeTimer) fire() { t.f() }

type fakeList struct {
	mu      sync.Mutex
	matches bool
	subs    map[int]func(bool)
	nextID  int
}

func (l *fakeList) Matches() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matches
}

func (l *fakeList) Subscribe(cb func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs[id] = cb
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

func (l *fakeList) subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

type fakeMedia struct {
	mu    sync.Mutex
	lists map[string]*fakeList
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{lists: make(map[string]*fakeList)}
}

func (m *fakeMedia) list(query string) *fakeList {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[query]
	if !ok {
		l = &fakeList{subs: make(map[int]func(bool))}
		m.lists[query] = l
	}
	return l
}

func (m *fakeMedia) MatchMedia(query string) MediaQueryList { return m.list(query) }

func (m *fakeMedia) Matches(query string) bool { return m.list(query).Matches() }

// set changes a query result and notifies its subscribers.
func (m *fakeMedia) set(query string, matches bool) {
	l := m.list(query)
	l.mu.Lock()
	l.matches = matches
	cbs := make([]func(bool), 0, len(l.subs))
	for _, cb := range l.subs {
		cbs = append(cbs, cb)
	}
	l.mu.Unlock()
	for _, cb := range cbs {
		cb(matches)
	}
}

// delays returns a boundary calculator that hands out the given delays in order
// and then reports no further boundary.
func delays(ds ...time.Duration) func(*condition.TimeCondition, time.Time, *time.Location) (time.Duration, bool) {
	var mu sync.Mutex
	return func(*condition.TimeCondition, time.Time, *time.Location) (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(ds) == 0 {
			return 0, false
		}
		d := ds[0]
		ds = ds[1:]
		return d, true
	}
}

type recorder struct {
	mu      sync.Mutex
	updates []bool
}

func (r *recorder) update(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, v)
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.updates...)
}

func strp(s string) *string { return &s }
