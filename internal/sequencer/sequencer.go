// Package sequencer executes persistence tasks in strict per-fixture order.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coachpo/oddstream/errs"
	"github.com/coachpo/oddstream/internal/observability"
)

// Task is a unit of work executed on a fixture's ordered chain.
type Task func(context.Context) error

// Sequencer fans work out across fixtures while keeping each fixture's tasks
// strictly ordered. Chains are created lazily and retired after sitting idle
// past the configured timeout.
type Sequencer struct {
	ctx    context.Context
	cancel context.CancelFunc

	idleTimeout time.Duration
	queueDepth  int

	mu     sync.Mutex
	chains map[int64]*chain
	closed bool

	// gate orders channel closes after in-flight sends. Enqueue holds the
	// read side across its send; Shutdown and reap take the write side
	// before closing a chain.
	gate sync.RWMutex

	wg sync.WaitGroup
}

type chain struct {
	tasks    chan Task
	lastUsed time.Time
	busy     bool
}

// New builds a sequencer whose idle chains retire after idleTimeout.
func New(idleTimeout time.Duration, queueDepth int) *Sequencer {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		ctx:         ctx,
		cancel:      cancel,
		idleTimeout: idleTimeout,
		queueDepth:  queueDepth,
		chains:      make(map[int64]*chain),
	}
	go s.reap()
	return s
}

// Enqueue schedules fn on the fixture's ordered chain, blocking when the
// chain is saturated. Tasks for distinct fixtures run concurrently; tasks for
// the same fixture run one at a time in submission order.
func (s *Sequencer) Enqueue(fixtureID int64, fn Task) error {
	if fn == nil {
		return errs.New("sequencer", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("sequencer", errs.CodeUnavailable, errs.WithMessage("sequencer closed"))
	}
	c, ok := s.chains[fixtureID]
	if !ok {
		c = &chain{tasks: make(chan Task, s.queueDepth)}
		s.chains[fixtureID] = c
		s.wg.Add(1)
		go s.runChain(fixtureID, c)
	}
	c.lastUsed = time.Now()
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return errs.New("sequencer", errs.CodeUnavailable, errs.WithMessage("sequencer closed"))
	case c.tasks <- fn:
		return nil
	}
}

// Len reports the number of live chains.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

// Shutdown stops intake, drains every chain, and waits for completion or the
// context deadline.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.gate.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.gate.Unlock()
		return nil
	}
	s.closed = true
	for _, c := range s.chains {
		close(c.tasks)
	}
	s.mu.Unlock()
	s.gate.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("sequencer shutdown: %w", ctx.Err())
	case <-done:
		s.cancel()
		return nil
	}
}

func (s *Sequencer) runChain(fixtureID int64, c *chain) {
	defer s.wg.Done()
	for fn := range c.tasks {
		s.mu.Lock()
		c.busy = true
		s.mu.Unlock()

		s.execute(fixtureID, fn)

		s.mu.Lock()
		c.busy = false
		c.lastUsed = time.Now()
		s.mu.Unlock()
	}
}

func (s *Sequencer) execute(fixtureID int64, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("sequencer task panic",
				observability.Field{Key: "fixture_id", Value: fixtureID},
				observability.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	if err := fn(s.ctx); err != nil {
		observability.Log().Error("sequencer task failed",
			observability.Field{Key: "fixture_id", Value: fixtureID},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// reap retires chains that have been idle past the timeout. A retired chain
// is recreated on the fixture's next task.
func (s *Sequencer) reap() {
	interval := s.idleTimeout / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.gate.Lock()
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				s.gate.Unlock()
				return
			}
			for fixtureID, c := range s.chains {
				// A drained channel alone does not mean idle: the
				// worker may still be executing a popped task.
				if !c.busy && len(c.tasks) == 0 && now.Sub(c.lastUsed) > s.idleTimeout {
					close(c.tasks)
					delete(s.chains, fixtureID)
				}
			}
			s.mu.Unlock()
			s.gate.Unlock()
		}
	}
}
