package mediaquery

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Environment holds the current viewport and a cache of query lists evaluated
// against it. It is safe for concurrent use.
type Environment struct {
	mu       sync.Mutex
	viewport Viewport
	lists    map[string]*QueryList
}

// QueryList is the live result of one media query. Lists are shared: every
// MatchMedia call for the same query returns the same list.
type QueryList struct {
	env      *Environment
	media    string
	compiled *Query // nil when the query does not parse
	matches  bool
	subs     []subscriber
	nextID   uint64
}

type subscriber struct {
	id uint64
	fn func(bool)
}

// NewEnvironment creates an environment for the given initial viewport.
func NewEnvironment(v Viewport) *Environment {
	return &Environment{
		viewport: v,
		lists:    make(map[string]*QueryList),
	}
}

// Viewport returns the current viewport.
func (e *Environment) Viewport() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

// MatchMedia returns the shared list for query, compiling it on first use.
func (e *Environment) MatchMedia(query string) *QueryList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listLocked(query)
}

func (e *Environment) listLocked(query string) *QueryList {
	if l, ok := e.lists[query]; ok {
		return l
	}
	l := &QueryList{env: e, media: query}
	compiled, err := Parse(query)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Media query never matches")
	} else {
		l.compiled = compiled
		l.matches = compiled.Match(e.viewport)
	}
	e.lists[query] = l
	return l
}

// Matches reports whether query currently matches.
func (e *Environment) Matches(query string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listLocked(query).matches
}

// SetViewport replaces the viewport and notifies subscribers of every list whose
// result changed. It returns the number of lists that changed. Callbacks run on
// the caller's goroutine after the environment is unlocked.
func (e *Environment) SetViewport(v Viewport) int {
	type notification struct {
		fns     []func(bool)
		matches bool
	}

	e.mu.Lock()
	e.viewport = v
	var pending []notification
	changed := 0
	for _, l := range e.lists {
		if l.compiled == nil {
			continue
		}
		m := l.compiled.Match(v)
		if m == l.matches {
			continue
		}
		l.matches = m
		changed++
		if len(l.subs) == 0 {
			continue
		}
		fns := make([]func(bool), 0, len(l.subs))
		for _, s := range l.subs {
			fns = append(fns, s.fn)
		}
		pending = append(pending, notification{fns: fns, matches: m})
	}
	e.mu.Unlock()

	if changed > 0 {
		log.Debug().
			Int("width", v.Width).
			Int("height", v.Height).
			Int("changed", changed).
			Msg("Viewport changed media query results")
	}

	for _, n := range pending {
		for _, fn := range n.fns {
			fn(n.matches)
		}
	}
	return changed
}

// Media returns the query text of the list.
func (l *QueryList) Media() string { return l.media }

// Valid reports whether the query parsed.
func (l *QueryList) Valid() bool { return l.compiled != nil }

// Matches reports whether the query currently matches.
func (l *QueryList) Matches() bool {
	l.env.mu.Lock()
	defer l.env.mu.Unlock()
	return l.matches
}

// Subscribe registers fn to be called with the new result every time the result
// flips. The returned function removes the subscription; calling it more than
// once is harmless.
func (l *QueryList) Subscribe(fn func(bool)) func() {
	l.env.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	l.env.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.env.mu.Lock()
			defer l.env.mu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (l *QueryList) Subscribers() int {
	l.env.mu.Lock()
	defer l.env.mu.Unlock()
	return len(l.subs)
}
