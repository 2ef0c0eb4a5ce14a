// Package batch coalesces stream updates into debounced flush batches.
package batch

import (
	"sync"
	"time"

	"github.com/coachpo/oddstream/internal/schema"
)

// Batch is one debounced flush of buffered updates, partitioned by kind.
// Within a batch, price updates precede status updates.
type Batch struct {
	Prices   []schema.MarketPriceUpdate
	Statuses []schema.MarketStatusUpdate
}

// Len returns the total number of updates in the batch.
func (b Batch) Len() int { return len(b.Prices) + len(b.Statuses) }

// FlushFunc consumes one flushed batch.
type FlushFunc func(Batch)

// Queue buffers market updates and flushes them after a short debounce
// window, capping each flush and rescheduling while entries remain. Updates
// are never dropped; a slow consumer only grows the buffer.
type Queue struct {
	debounce time.Duration
	maxSize  int
	flush    FlushFunc

	mu       sync.Mutex
	prices   []schema.MarketPriceUpdate
	statuses []schema.MarketStatusUpdate
	timer    *time.Timer
	closed   bool

	flushing sync.WaitGroup
}

// NewQueue builds a queue flushing through fn after each debounce window.
func NewQueue(debounce time.Duration, maxSize int, fn FlushFunc) *Queue {
	if debounce <= 0 {
		debounce = 10 * time.Millisecond
	}
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Queue{
		debounce: debounce,
		maxSize:  maxSize,
		flush:    fn,
	}
}

// PushPrice buffers a price update and arms the debounce timer.
func (q *Queue) PushPrice(update schema.MarketPriceUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.prices = append(q.prices, update)
	q.armLocked()
}

// PushStatus buffers a status update and arms the debounce timer.
func (q *Queue) PushStatus(update schema.MarketStatusUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.statuses = append(q.statuses, update)
	q.armLocked()
}

// Depth reports the number of buffered updates awaiting a flush.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.prices) + len(q.statuses)
}

// Close stops the timer and synchronously flushes everything still buffered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	q.flushing.Wait()
	for {
		batch := q.cut()
		if batch.Len() == 0 {
			return
		}
		q.flush(batch)
	}
}

func (q *Queue) armLocked() {
	if q.timer != nil {
		return
	}
	q.timer = time.AfterFunc(q.debounce, q.fire)
}

func (q *Queue) fire() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	q.flushing.Add(1)
	q.mu.Unlock()
	defer q.flushing.Done()

	batch := q.cut()
	if batch.Len() > 0 {
		q.flush(batch)
	}

	// Reschedule while entries remain so a saturated window drains in
	// successive capped flushes.
	q.mu.Lock()
	if !q.closed && len(q.prices)+len(q.statuses) > 0 {
		q.armLocked()
	}
	q.mu.Unlock()
}

// cut removes up to maxSize buffered updates, taking prices first.
func (q *Queue) cut() Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch Batch
	budget := q.maxSize

	take := len(q.prices)
	if take > budget {
		take = budget
	}
	if take > 0 {
		batch.Prices = append(batch.Prices, q.prices[:take]...)
		q.prices = append(q.prices[:0], q.prices[take:]...)
		budget -= take
	}

	take = len(q.statuses)
	if take > budget {
		take = budget
	}
	if take > 0 {
		batch.Statuses = append(batch.Statuses, q.statuses[:take]...)
		q.statuses = append(q.statuses[:0], q.statuses[take:]...)
	}
	return batch
}
