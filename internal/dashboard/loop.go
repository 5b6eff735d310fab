package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBoardClosed is returned when work is sent to a closed board.
var ErrBoardClosed = errors.New("board closed")

// work runs on the board goroutine. All element state is touched only from
// there.
type work func()

// mailbox is an unbounded queue. Listener callbacks post into it while holding
// their own locks, so posting must never block or drop.
type mailbox struct {
	mu     sync.Mutex
	queue  []work
	notify chan struct{}
}

func newMailbox() mailbox {
	return mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(w work) {
	m.mu.Lock()
	m.queue = append(m.queue, w)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []work {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// do queues work without waiting for it.
func (b *Board) do(w work) error {
	select {
	case <-b.closing:
		return ErrBoardClosed
	default:
	}
	b.inbox.push(w)
	return nil
}

// doSync queues fn and waits for its result.
func (b *Board) doSync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := b.do(func() { done <- protect(fn) }); err != nil {
		return err
	}

	select {
	case <-b.closing:
		// The loop drains before exiting, so the result may still be there.
		select {
		case err := <-done:
			return err
		default:
			return ErrBoardClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Barrier waits until everything queued before it has been processed.
func (b *Board) Barrier(ctx context.Context) error {
	return b.doSync(ctx, func() error { return nil })
}

// Pending returns the number of queued work items.
func (b *Board) Pending() int {
	return b.inbox.len()
}

// Run processes queued work until ctx is cancelled or the board is closed.
// It is the only goroutine that touches element state.
func (b *Board) Run(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		// Already closed, or running elsewhere
		return
	}
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			b.closeOnce.Do(func() { close(b.closing) })
			b.shutdown()
			return
		case <-b.closing:
			b.shutdown()
			return
		case <-b.inbox.notify:
			for _, w := range b.inbox.take() {
				b.execute(w)
			}
		}
	}
}

func (b *Board) shutdown() {
	for _, w := range b.inbox.take() {
		b.execute(w)
	}
	b.unmount()
	log.Debug().Msg("Board stopped")
}

// execute runs a single work item with panic recovery.
func (b *Board) execute(w work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Board work panicked - loop continuing")
		}
	}()
	w()
}

func protect(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
