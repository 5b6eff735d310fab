package dashboard

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/eventbus"
	"github.com/dokzlo13/dashd/internal/ledger"
	"github.com/dokzlo13/dashd/internal/listener"
	"github.com/dokzlo13/dashd/internal/mediaquery"
)

// Reasons recorded with visibility changes.
const (
	ReasonMount   = "mount"
	ReasonReload  = "reload"
	ReasonState   = "state"
	ReasonUser    = "user"
	ReasonTrigger = "trigger"
	ReasonRefresh = "refresh"
)

// Options configures a Board. Entities and Env are required.
type Options struct {
	Entities *entities.Registry
	Env      *mediaquery.Environment
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Location *time.Location
	User     string

	// Timers and Clock replace the system timers and clock, for tests.
	Timers listener.Timers
	Clock  func() time.Time
}

// ElementStatus is the published state of one mounted element.
type ElementStatus struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"type"`
	Title          string    `json:"title,omitempty"`
	Parent         string    `json:"parent,omitempty"`
	Visible        bool      `json:"visible"`
	ConditionsMet  bool      `json:"conditions_met"`
	Entities       []string  `json:"entities,omitempty"`
	MediaQueries   []string  `json:"media_queries,omitempty"`
	TimeConditions int       `json:"time_conditions,omitempty"`
	Listening      bool      `json:"listening"`
	ChangedAt      time.Time `json:"changed_at"`
}

// node is the mounted state of one element. Owned by the board goroutine.
type node struct {
	el       *Element
	parent   *node
	conds    condition.List
	entities map[string]struct{}
	usesUser bool

	met       bool
	visible   bool
	changedAt time.Time
	sub       *listener.Subscription
}

// Board mounts a dashboard and keeps the effective visibility of its elements
// current: an element is visible when its own conditions are met and its
// parent is visible.
type Board struct {
	entities *entities.Registry
	env      *mediaquery.Environment
	ledger   *ledger.Ledger
	bus      *eventbus.Bus
	manager  *listener.Manager
	loc      *time.Location
	clock    func() time.Time

	inbox     mailbox
	closing   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	started   atomic.Bool

	// Owned by the board goroutine
	dashboard *Dashboard
	nodes     map[string]*node
	order     []*node

	mu        sync.RWMutex
	user      string
	current   *Dashboard
	published []ElementStatus
	index     map[string]int
}

// NewBoard creates a board. Nothing is mounted until Load is called, and no
// work is processed until Run is started.
func NewBoard(opts Options) *Board {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	b := &Board{
		entities: opts.Entities,
		env:      opts.Env,
		ledger:   opts.Ledger,
		bus:      opts.Bus,
		loc:      loc,
		clock:    opts.Clock,
		inbox:    newMailbox(),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
		user:     opts.User,
		nodes:    make(map[string]*node),
		index:    make(map[string]int),
	}

	var mopts []listener.Option
	if opts.Timers != nil {
		mopts = append(mopts, listener.WithTimers(opts.Timers))
	}
	if opts.Clock != nil {
		mopts = append(mopts, listener.WithClock(opts.Clock))
	}
	media := listener.MediaSourceFunc(func(q string) listener.MediaQueryList {
		return b.env.MatchMedia(q)
	})
	b.manager = listener.NewManager(media, mopts...)

	if b.bus != nil {
		b.bus.Subscribe(eventbus.EventTypeStateChanged, func(e eventbus.Event) {
			if id, ok := e.Data["entity_id"].(string); ok {
				b.EntitiesChanged(id)
			}
		})
	}
	return b
}

// Close stops the board and removes every listener. It waits for Run to
// return when it was started.
func (b *Board) Close() {
	b.closeOnce.Do(func() { close(b.closing) })
	if b.started.CompareAndSwap(false, true) {
		b.unmount()
		close(b.stopped)
		return
	}
	<-b.stopped
}

func (b *Board) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}

// snapshot captures the live state conditions are evaluated against. It is
// called from listener callbacks as well as the board goroutine.
func (b *Board) snapshot() *condition.Snapshot {
	b.mu.RLock()
	user := b.user
	b.mu.RUnlock()

	s := &condition.Snapshot{
		States:   b.entities.Snapshot(),
		UserID:   user,
		Location: b.loc,
		Media:    b.env,
	}
	if b.clock != nil {
		s.Now = b.clock()
	}
	return s
}

// Evaluate checks conditions against the current live state.
func (b *Board) Evaluate(conds condition.List) bool {
	return condition.CheckConditionsMet(conds, b.snapshot())
}

// Viewport returns the last reported viewport.
func (b *Board) Viewport() mediaquery.Viewport { return b.env.Viewport() }

// Location returns the time zone time conditions are evaluated in.
func (b *Board) Location() *time.Location { return b.loc }

// User returns the current user id.
func (b *Board) User() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.user
}

// Load validates d and mounts it, replacing the current dashboard. Elements
// keep their change time across reloads when their visibility is unchanged.
func (b *Board) Load(ctx context.Context, d *Dashboard) error {
	if problems := Lint(d); len(problems) > 0 {
		return &InvalidError{Problems: problems}
	}
	return b.doSync(ctx, func() error {
		b.mount(d)
		return nil
	})
}

// SetUser changes the current user and re-evaluates elements with user
// conditions.
func (b *Board) SetUser(ctx context.Context, user string) error {
	b.mu.Lock()
	old := b.user
	b.user = user
	b.mu.Unlock()
	if old == user {
		return nil
	}

	if b.bus != nil {
		b.bus.Publish(eventbus.NewEvent(eventbus.EventTypeUserChanged, map[string]interface{}{
			"user":     user,
			"previous": old,
		}))
	}
	return b.doSync(ctx, func() error {
		b.recompute(func(n *node) bool { return n.usesUser }, ReasonUser)
		return nil
	})
}

// SetViewport reports a new viewport. Media listeners fire for every query
// whose result changed; SetViewport returns once their updates are applied.
func (b *Board) SetViewport(ctx context.Context, v mediaquery.Viewport) (int, error) {
	changed := b.env.SetViewport(v)
	if b.bus != nil {
		b.bus.Publish(eventbus.NewEvent(eventbus.EventTypeViewportChanged, map[string]interface{}{
			"width":        v.Width,
			"height":       v.Height,
			"color_scheme": v.ColorScheme,
			"changed":      changed,
		}))
	}
	return changed, b.Barrier(ctx)
}

// EntitiesChanged queues re-evaluation of elements depending on the given
// entities. It does not wait.
func (b *Board) EntitiesChanged(ids ...string) {
	if len(ids) == 0 {
		return
	}
	err := b.do(func() {
		b.recompute(func(n *node) bool {
			for _, id := range ids {
				if _, ok := n.entities[id]; ok {
					return true
				}
			}
			return false
		}, ReasonState)
	})
	if err != nil {
		log.Debug().Strs("entities", ids).Msg("Board closed, ignoring entity change")
	}
}

// Refresh re-evaluates every element.
func (b *Board) Refresh(ctx context.Context) error {
	return b.doSync(ctx, func() error {
		b.recompute(func(*node) bool { return true }, ReasonRefresh)
		return nil
	})
}

// Dashboard returns the mounted dashboard, or nil.
func (b *Board) Dashboard() *Dashboard {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Status returns every mounted element, parents before children.
func (b *Board) Status() []ElementStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ElementStatus, len(b.published))
	copy(out, b.published)
	return out
}

// Element returns the status of one element.
func (b *Board) Element(id string) (ElementStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[id]
	if !ok {
		return ElementStatus{}, false
	}
	return b.published[i], true
}

// Visible reports whether an element is currently shown. Unknown elements are
// not.
func (b *Board) Visible(id string) bool {
	st, ok := b.Element(id)
	return ok && st.Visible
}

func (b *Board) mount(d *Dashboard) {
	previous := b.nodes
	b.unmount()

	snap := b.snapshot()
	nodes := make(map[string]*node, len(previous))
	var order []*node
	d.Walk(func(e, parent *Element) {
		n := &node{
			el:       e,
			conds:    e.Conditions(),
			entities: make(map[string]struct{}),
		}
		if parent != nil {
			n.parent = nodes[parent.ID]
		}
		for _, id := range condition.ExtractEntityIDs(n.conds) {
			n.entities[id] = struct{}{}
		}
		n.usesUser = condition.HasKind(n.conds, condition.KindUser)
		n.met = condition.CheckConditionsMet(n.conds, snap)
		nodes[e.ID] = n
		order = append(order, n)
	})

	b.dashboard = d
	b.nodes = nodes
	b.order = order

	now := b.now()
	for _, n := range order {
		n.visible = n.met && (n.parent == nil || n.parent.visible)
		n.changedAt = now

		reason := ReasonMount
		if prev, ok := previous[n.el.ID]; ok {
			if prev.visible == n.visible {
				n.changedAt = prev.changedAt
				continue
			}
			reason = ReasonReload
		}
		b.record(n, reason)
	}

	for _, n := range order {
		n.sub = b.subscribe(n)
	}
	b.publish()
	b.recordReload(d, len(previous) > 0)

	log.Info().
		Str("title", d.Title).
		Int("elements", len(order)).
		Msg("Dashboard mounted")
}

func (b *Board) subscribe(n *node) *listener.Subscription {
	return b.manager.Subscribe(n.conds, b.snapshot, func(bool) {
		// The delivered result may be older than a queued state change, so
		// the tree is evaluated again on the board goroutine.
		_ = b.do(func() {
			if b.nodes[n.el.ID] != n {
				return
			}
			b.recompute(func(m *node) bool { return m == n }, ReasonTrigger)
		})
	})
}

func (b *Board) unmount() {
	for _, n := range b.order {
		if n.sub != nil {
			n.sub.Close()
		}
	}
	b.order = nil
	b.nodes = make(map[string]*node)
}

// recompute evaluates the selected elements, then propagates effective
// visibility down the tree.
func (b *Board) recompute(selected func(*node) bool, reason string) {
	var snap *condition.Snapshot
	for _, n := range b.order {
		if !selected(n) {
			continue
		}
		if snap == nil {
			snap = b.snapshot()
		}
		n.met = condition.CheckConditionsMet(n.conds, snap)
	}
	if snap == nil {
		return
	}

	changed := 0
	now := b.now()
	for _, n := range b.order {
		visible := n.met && (n.parent == nil || n.parent.visible)
		if visible == n.visible {
			continue
		}
		n.visible = visible
		n.changedAt = now
		b.record(n, reason)
		changed++
	}
	b.publish()

	if changed > 0 {
		log.Debug().Str("reason", reason).Int("changed", changed).Msg("Visibility updated")
	}
}

func (b *Board) record(n *node, reason string) {
	ev := eventbus.NewEvent(eventbus.EventTypeVisibilityChanged, map[string]interface{}{
		"element_id": n.el.ID,
		"type":       string(n.el.Kind),
		"visible":    n.visible,
		"reason":     reason,
	})

	if b.ledger != nil {
		if err := b.ledger.RecordVisibility(ev.ID, n.el.ID, n.visible, reason); err != nil {
			log.Error().Err(err).Str("element_id", n.el.ID).Msg("Failed to record visibility change")
		}
	}
	if b.bus != nil {
		b.bus.Publish(ev)
	}

	log.Debug().
		Str("element_id", n.el.ID).
		Bool("visible", n.visible).
		Str("reason", reason).
		Msg("Element visibility changed")
}

func (b *Board) recordReload(d *Dashboard, reload bool) {
	data := map[string]interface{}{
		"title":    d.Title,
		"elements": len(b.order),
		"reload":   reload,
	}
	ev := eventbus.NewEvent(eventbus.EventTypeDashboardReloaded, data)
	if b.ledger != nil {
		err := b.ledger.Append(&ledger.Entry{
			EventType:      ledger.EventDashboardReloaded,
			Payload:        data,
			IdempotencyKey: ev.ID,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to record dashboard reload")
		}
	}
	if b.bus != nil {
		b.bus.Publish(ev)
	}
}

// publish copies element state for readers on other goroutines.
func (b *Board) publish() {
	out := make([]ElementStatus, 0, len(b.order))
	index := make(map[string]int, len(b.order))
	for i, n := range b.order {
		st := ElementStatus{
			ID:             n.el.ID,
			Kind:           n.el.Kind,
			Title:          n.el.Title,
			Visible:        n.visible,
			ConditionsMet:  n.met,
			MediaQueries:   condition.ExtractMediaQueries(n.conds),
			TimeConditions: len(condition.ExtractTimeConditions(n.conds)),
			Listening:      n.sub != nil && n.sub.Active(),
			ChangedAt:      n.changedAt,
		}
		if n.parent != nil {
			st.Parent = n.parent.el.ID
		}
		for id := range n.entities {
			st.Entities = append(st.Entities, id)
		}
		sort.Strings(st.Entities)
		if len(st.MediaQueries) == 0 {
			st.MediaQueries = nil
		}
		out = append(out, st)
		index[n.el.ID] = i
	}

	b.mu.Lock()
	b.published = out
	b.index = index
	b.current = b.dashboard
	b.mu.Unlock()
}
