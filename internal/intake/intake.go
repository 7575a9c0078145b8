// Package intake decouples broker callbacks from the fader Updater.
//
// Broker clients deliver payloads on their own goroutines and must not be
// held up by the Updater, which may have to wait for the audio period to
// finish draining. The intake is a single-slot mailbox:
//
//	broker goroutine → Publish (non-blocking) → slot → Run loop → Handler
//
// A batch published while the previous one is still in the slot is merged
// into it: entries present in the newer batch win, absent entries keep the
// older value. Nothing a fader reported is lost, intermediate positions are.
package intake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxux/hombedded-faders/internal/types"
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("intake already running")

// Handler consumes one batch. A non-nil error stops Run.
type Handler func(batch *types.Batch) error

// Mailbox is the single-slot batch buffer.
type Mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	slot    *types.Batch
	running bool
	done    bool

	seq      atomic.Uint64
	merged   atomic.Uint64
	consumed atomic.Uint64
	lastAt   atomic.Int64
}

// New returns an empty mailbox.
func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish hands a batch to the consumer. It never blocks on the consumer.
// The mailbox takes ownership of batch.
func (m *Mailbox) Publish(batch *types.Batch) {
	batch.Seq = m.seq.Add(1)
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now()
	}

	m.mu.Lock()
	if m.slot != nil {
		m.slot.Merge(batch)
		m.merged.Add(1)
	} else {
		m.slot = batch
	}
	m.cond.Signal()
	m.mu.Unlock()
}

// Run feeds published batches to h until ctx is cancelled or h fails.
// It returns nil on cancellation and h's error otherwise.
func (m *Mailbox) Run(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.done = false
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.done = true
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		for m.slot == nil && !m.done {
			m.cond.Wait()
		}
		if m.done {
			m.mu.Unlock()
			return nil
		}
		batch := m.slot
		m.slot = nil
		m.mu.Unlock()

		m.consumed.Add(1)
		m.lastAt.Store(time.Now().UnixNano())

		if err := h(batch); err != nil {
			return err
		}
	}
}

// Stats is a snapshot of the mailbox counters.
type Stats struct {
	// Received counts published batches
	Received uint64
	// Merged counts batches folded into one that was not consumed yet.
	// Should stay close to 0; a growing value means the Updater is slow.
	Merged uint64
	// Consumed counts batches handed to the handler
	Consumed uint64
	// LastConsumedAt is zero until the first batch is consumed
	LastConsumedAt time.Time
}

// Stats returns the current counters.
func (m *Mailbox) Stats() Stats {
	st := Stats{
		Received: m.seq.Load(),
		Merged:   m.merged.Load(),
		Consumed: m.consumed.Load(),
	}
	if ns := m.lastAt.Load(); ns != 0 {
		st.LastConsumedAt = time.Unix(0, ns)
	}
	return st
}
