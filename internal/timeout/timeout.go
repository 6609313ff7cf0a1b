/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package timeout drives the transaction timeout wheel (spec.md §4.6): one
// cooperative goroutine holds a min-heap of pending deadlines and fires
// expiry callbacks in order, without spawning a goroutine per transaction.
package timeout

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultSeconds = 30
	MaxSeconds     = 3600
	MinTickPeriod  = 100 * time.Millisecond
)

// SecondsForTimeoutByte maps the IRM timeout byte to a deadline in seconds
// per the fixed policy: 0 uses defaultSeconds; 1..180 is taken literally;
// 181..255 doubles the value, capped at maxSeconds.
func SecondsForTimeoutByte(b byte, defaultSeconds, maxSeconds int) int {
	switch {
	case b == 0:
		return defaultSeconds
	case b <= 180:
		return int(b)
	default:
		doubled := int(b) * 2
		if doubled > maxSeconds {
			return maxSeconds
		}
		return doubled
	}
}

// FireFunc is invoked when a transaction's timer expires. It receives the
// txn id and the client id it was started for.
type FireFunc func(txnID, client string)

type entry struct {
	txnID    string
	client   string
	deadline time.Time
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Manager runs the single-goroutine timeout wheel. Callers schedule
// transactions with Start and the manager invokes onFire exactly once per
// transaction that is not canceled or extended past its deadline.
type Manager struct {
	mu        sync.Mutex
	heap      entryHeap
	byTxn     map[string]*entry
	onFire    FireFunc
	seq       int64
	wake      chan struct{}
	stop      chan struct{}
	stopped   int32
	defaultSc int
	maxSc     int
}

// NewManager constructs a Manager. defaultSeconds/maxSeconds fall back to
// DefaultSeconds/MaxSeconds when non-positive. The manager's goroutine is
// started by Run and must be stopped with Stop.
func NewManager(onFire FireFunc, defaultSeconds, maxSeconds int) *Manager {
	if defaultSeconds <= 0 {
		defaultSeconds = DefaultSeconds
	}
	if maxSeconds <= 0 {
		maxSeconds = MaxSeconds
	}

	return &Manager{
		byTxn:     make(map[string]*entry),
		onFire:    onFire,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		defaultSc: defaultSeconds,
		maxSc:     maxSeconds,
	}
}

// Run drives the wheel until Stop is called. Intended to be launched with
// `go mgr.Run()` once at startup.
func (m *Manager) Run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		var wait time.Duration
		if len(m.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(m.heap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		m.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-m.stop:
			return
		case <-m.wake:
			continue
		case <-timer.C:
			m.fireDue()
		}
	}
}

func (m *Manager) fireDue() {
	now := time.Now()

	var fired []*entry
	m.mu.Lock()
	for len(m.heap) > 0 && !m.heap[0].deadline.After(now) {
		e := heap.Pop(&m.heap).(*entry)
		delete(m.byTxn, e.txnID)
		if !e.canceled {
			fired = append(fired, e)
		}
	}
	m.mu.Unlock()

	for _, e := range fired {
		if m.onFire != nil {
			m.onFire(e.txnID, e.client)
		}
	}
}

// Start schedules a new timeout for client, timeoutByte seconds out from
// now (mapped per SecondsForTimeoutByte), and returns the generated txn id.
func (m *Manager) Start(client string, timeoutByte byte) string {
	seconds := SecondsForTimeoutByte(timeoutByte, m.defaultSc, m.maxSc)

	id := atomic.AddInt64(&m.seq, 1)
	txnID := fmt.Sprintf("TXN%d_%d", time.Now().Unix(), id)

	e := &entry{
		txnID:    txnID,
		client:   client,
		deadline: time.Now().Add(time.Duration(seconds) * time.Second),
	}

	m.mu.Lock()
	m.byTxn[txnID] = e
	heap.Push(&m.heap, e)
	m.mu.Unlock()

	m.nudge()
	return txnID
}

// Cancel marks txnID's timer inert; it will not fire even though it stays
// in the heap until its deadline passes (cheaper than a heap removal).
func (m *Manager) Cancel(txnID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byTxn[txnID]
	if !ok {
		return false
	}
	e.canceled = true
	delete(m.byTxn, txnID)
	return true
}

// CancelClient cancels every outstanding timer owned by client. Mirrors the
// source's cancel_client_timeouts, whose count is always reported as zero
// because of a loop bug in the original; this implementation preserves
// that documented, informational-only return contract (spec.md §9).
func (m *Manager) CancelClient(client string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for txnID, e := range m.byTxn {
		if e.client == client {
			e.canceled = true
			delete(m.byTxn, txnID)
		}
	}
	return 0
}

// Extend pushes txnID's deadline out by add and re-heapifies its position.
func (m *Manager) Extend(txnID string, add time.Duration) bool {
	m.mu.Lock()
	e, ok := m.byTxn[txnID]
	if ok {
		e.deadline = e.deadline.Add(add)
		heap.Fix(&m.heap, e.index)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.nudge()
	return true
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Stop halts Run's loop. Safe to call once.
func (m *Manager) Stop() {
	if atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		close(m.stop)
	}
}

// Pending returns the number of outstanding (non-canceled) timers, used by
// the A5 metrics sampler and by tests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTxn)
}
