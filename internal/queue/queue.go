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

// Package queue implements the per-client async message queue used by
// send-only / receive-only / ACK / NAK flows (spec.md §4.5). Each client
// gets a bounded FIFO deque; a global pending-ack map borrows entries that
// require acknowledgement without taking over their lifetime.
package queue

import (
	"container/list"
	"sync"
	"time"

	hashuuid "github.com/hashicorp/go-uuid"

	liberr "github.com/imsconnect/gateway/errors"
)

const (
	CodeFull liberr.CodeError = liberr.MinPkgQueue + iota
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgQueue, func(code liberr.CodeError) string {
		switch code {
		case CodeFull:
			return "client message queue is full"
		default:
			return liberr.UnknownMessage
		}
	})
}

const (
	DefaultCapacity       = 1000
	DefaultMessageTimeout = time.Hour
)

// Message is a queued response payload awaiting delivery to its client.
type Message struct {
	ID          string
	Payload     []byte
	RequiresAck bool
	EnqueuedAt  time.Time
}

type clientQueue struct {
	mu   sync.Mutex
	list *list.List // of *Message
}

// Manager owns one bounded FIFO per client plus the global pending-ack map
// (spec.md §4.5). Capacity and message timeout are fixed at construction;
// Full is returned once a client's queue reaches Capacity.
type Manager struct {
	mu       sync.RWMutex
	queues   map[string]*clientQueue
	pending  map[string]pendingEntry
	capacity int
	timeout  time.Duration
}

type pendingEntry struct {
	client string
	msg    *Message
}

// NewManager returns a Manager with the given per-client capacity and
// message expiry (both fall back to their spec-mandated defaults when <= 0).
func NewManager(capacity int, messageTimeout time.Duration) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if messageTimeout <= 0 {
		messageTimeout = DefaultMessageTimeout
	}

	return &Manager{
		queues:   make(map[string]*clientQueue),
		pending:  make(map[string]pendingEntry),
		capacity: capacity,
		timeout:  messageTimeout,
	}
}

func (m *Manager) queueFor(client string, create bool) *clientQueue {
	m.mu.RLock()
	q, ok := m.queues[client]
	m.mu.RUnlock()

	if ok || !create {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok = m.queues[client]; ok {
		return q
	}

	q = &clientQueue{list: list.New()}
	m.queues[client] = q
	return q
}

func genMsgID() string {
	if id, err := hashuuid.GenerateUUID(); err == nil {
		return id
	}
	return time.Now().Format("20060102150405.000000000")
}

// Enqueue appends resp to client's queue. If requiresAck is set, the message
// is additionally indexed in the pending-ack map (the queue keeps the
// canonical lifetime; the map holds a borrow tag, spec.md §3 QueuedMessage).
func (m *Manager) Enqueue(client string, payload []byte, requiresAck bool) (string, liberr.Error) {
	q := m.queueFor(client, true)

	q.mu.Lock()
	if q.list.Len() >= m.capacity {
		q.mu.Unlock()
		return "", CodeFull.Error(nil)
	}

	msg := &Message{
		ID:          genMsgID(),
		Payload:     payload,
		RequiresAck: requiresAck,
		EnqueuedAt:  time.Now(),
	}
	q.list.PushBack(msg)
	q.mu.Unlock()

	if requiresAck {
		m.mu.Lock()
		m.pending[msg.ID] = pendingEntry{client: client, msg: msg}
		m.mu.Unlock()
	}

	return msg.ID, nil
}

// Poll removes and returns the front message for client, waiting up to wait
// for one to arrive if the queue is currently empty. A non-positive wait
// polls once without blocking (spec.md §4.11 RECV_ONLY uses a zero wait).
func (m *Manager) Poll(client string, wait time.Duration) *Message {
	deadline := time.Now().Add(wait)

	for {
		q := m.queueFor(client, false)
		if q != nil {
			q.mu.Lock()
			if front := q.list.Front(); front != nil {
				q.list.Remove(front)
				q.mu.Unlock()
				return front.Value.(*Message)
			}
			q.mu.Unlock()
		}

		if wait <= 0 || time.Now().After(deadline) {
			return nil
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// Ack removes msgID from the pending-ack map. It does not touch the queue:
// by the time a message is acked it has already been polled off the queue.
func (m *Manager) Ack(msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[msgID]; !ok {
		return false
	}
	delete(m.pending, msgID)
	return true
}

// Nak resolves a negative acknowledgement for msgID. When retain is true the
// message is reinserted at the front of its client's queue (so the next
// Poll for that client returns it again) and the pending-map entry is kept;
// otherwise the message is dropped entirely.
//
// The source's offerFirst re-materializes the queue to insert at the head,
// which is not atomic with a concurrent poll; this implementation uses a
// deque (container/list) that supports head insertion natively, but the
// same race remains possible at the Manager level between reading the
// pending entry and the PushFront below — acceptable because a racing Poll
// will simply see the retained message on its next call (spec.md §9).
func (m *Manager) Nak(msgID, client string, retain bool) bool {
	m.mu.Lock()
	entry, ok := m.pending[msgID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if !retain {
		delete(m.pending, msgID)
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	q := m.queueFor(client, true)
	q.mu.Lock()
	q.list.PushFront(entry.msg)
	q.mu.Unlock()

	return true
}

// CleanupExpired removes queue entries and pending-ack entries older than
// the configured message timeout, relative to now.
func (m *Manager) CleanupExpired(now time.Time) {
	m.mu.RLock()
	queues := make([]*clientQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	for _, q := range queues {
		q.mu.Lock()
		for e := q.list.Front(); e != nil; {
			next := e.Next()
			msg := e.Value.(*Message)
			if now.Sub(msg.EnqueuedAt) > m.timeout {
				q.list.Remove(e)
			}
			e = next
		}
		q.mu.Unlock()
	}

	m.mu.Lock()
	for id, entry := range m.pending {
		if now.Sub(entry.msg.EnqueuedAt) > m.timeout {
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()
}

// Depth returns the current number of queued (not yet polled) messages for
// client, used by the A5 metrics sampler.
func (m *Manager) Depth(client string) int {
	q := m.queueFor(client, false)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}

// RemoveClient drops the client's queue entirely (connection/session teardown).
func (m *Manager) RemoveClient(client string) {
	m.mu.Lock()
	delete(m.queues, client)
	for id, entry := range m.pending {
		if entry.client == client {
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()
}
