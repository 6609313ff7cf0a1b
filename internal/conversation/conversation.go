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

// Package conversation tracks multi-message OTMA conversational dialogues
// keyed by a generated conversation id (spec.md §4.8).
package conversation

import (
	"sync"
	"time"

	liberr "github.com/imsconnect/gateway/errors"
)

const (
	CodeCapacityExceeded liberr.CodeError = liberr.MinPkgConversation + iota
	CodeNotFound
	CodeSequenceMismatch
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgConversation, func(code liberr.CodeError) string {
		switch code {
		case CodeCapacityExceeded:
			return "maximum simultaneous conversations exceeded"
		case CodeNotFound:
			return "conversation id not found"
		case CodeSequenceMismatch:
			return "conversation sequence validation failed"
		default:
			return liberr.UnknownMessage
		}
	})
}

// State is the conversation lifecycle state machine (spec.md §3).
type State int

const (
	StateActive State = iota
	StateCompleted
	StateAborted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateAborted:
		return "ABORTED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultMaxConversations    = 1000
	DefaultConversationTimeout = 30 * time.Minute
	DefaultPurgeDelay          = 5 * time.Minute
	DefaultCleanupInterval     = 5 * time.Minute
	historyLimit               = 100
)

// Conversation is one tracked conversational dialogue.
type Conversation struct {
	ConvID       uint64
	Client       string
	LTerm        string
	Txn          string
	State        State
	MessageCount int
	History      []string
	CreatedAt    time.Time
	LastActivity time.Time
	purgeAt      time.Time

	mu sync.RWMutex
}

// Manager allocates and tracks conversations.
type Manager struct {
	mu               sync.RWMutex
	byID             map[uint64]*Conversation
	nextID           uint64
	activeCount      int
	maxConversations int
	idleTimeout      time.Duration
	purgeDelay       time.Duration
	keepHistory      bool
}

// NewManager constructs a conversation Manager. Non-positive values fall
// back to the spec defaults.
func NewManager(maxConversations int, idleTimeout, purgeDelay time.Duration, keepHistory bool) *Manager {
	if maxConversations <= 0 {
		maxConversations = DefaultMaxConversations
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultConversationTimeout
	}
	if purgeDelay <= 0 {
		purgeDelay = DefaultPurgeDelay
	}

	return &Manager{
		byID:             make(map[uint64]*Conversation),
		nextID:           1001,
		maxConversations: maxConversations,
		idleTimeout:      idleTimeout,
		purgeDelay:       purgeDelay,
		keepHistory:      keepHistory,
	}
}

// Start allocates a new ACTIVE conversation, failing with
// CodeCapacityExceeded once activeCount reaches maxConversations.
func (m *Manager) Start(client, lterm, txn string) (*Conversation, liberr.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCount >= m.maxConversations {
		return nil, CodeCapacityExceeded.Error(nil)
	}

	id := m.nextID
	m.nextID++

	now := time.Now()
	c := &Conversation{
		ConvID:       id,
		Client:       client,
		LTerm:        lterm,
		Txn:          txn,
		State:        StateActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.byID[id] = c
	m.activeCount++

	return c, nil
}

// Get returns the conversation for id, refreshing its last-activity stamp.
func (m *Manager) Get(id uint64) (*Conversation, liberr.Error) {
	m.mu.RLock()
	c, ok := m.byID[id]
	m.mu.RUnlock()

	if !ok {
		return nil, CodeNotFound.Error(nil)
	}

	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()

	return c, nil
}

// Update records an inbound message against the conversation: increments
// the message count, appends to a bounded history (when enabled), and
// transitions to COMPLETED if last indicates the closing message of the
// dialogue.
func (m *Manager) Update(id uint64, msg string, last bool) (*Conversation, liberr.Error) {
	m.mu.RLock()
	c, ok := m.byID[id]
	m.mu.RUnlock()

	if !ok {
		return nil, CodeNotFound.Error(nil)
	}

	c.mu.Lock()
	c.MessageCount++
	c.LastActivity = time.Now()
	if m.keepHistory {
		c.History = append(c.History, msg)
		if len(c.History) > historyLimit {
			c.History = c.History[len(c.History)-historyLimit:]
		}
	}
	shouldComplete := last && c.State == StateActive
	if shouldComplete {
		c.State = StateCompleted
	}
	c.mu.Unlock()

	if shouldComplete {
		m.scheduleEnd(id)
	}

	return c, nil
}

// End marks a conversation COMPLETED and schedules it for purge after the
// configured purge delay.
func (m *Manager) End(id uint64) liberr.Error {
	m.mu.RLock()
	c, ok := m.byID[id]
	m.mu.RUnlock()

	if !ok {
		return CodeNotFound.Error(nil)
	}

	c.mu.Lock()
	c.State = StateCompleted
	c.mu.Unlock()

	m.scheduleEnd(id)
	return nil
}

func (m *Manager) scheduleEnd(id uint64) {
	m.mu.Lock()
	if c, ok := m.byID[id]; ok {
		c.purgeAt = time.Now().Add(m.purgeDelay)
		m.activeCount--
		if m.activeCount < 0 {
			m.activeCount = 0
		}
	}
	m.mu.Unlock()
}

// Abort marks a conversation ABORTED and purges it immediately.
func (m *Manager) Abort(id uint64, reason string) liberr.Error {
	m.mu.Lock()
	c, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return CodeNotFound.Error(nil)
	}

	c.mu.Lock()
	wasActive := c.State == StateActive
	c.State = StateAborted
	c.mu.Unlock()

	delete(m.byID, id)
	if wasActive {
		m.activeCount--
		if m.activeCount < 0 {
			m.activeCount = 0
		}
	}
	m.mu.Unlock()

	return nil
}

// Validate checks that msg's conv/client/lterm triple matches the tracked
// conversation (spec.md §4.8 sequence validation).
func (m *Manager) Validate(id uint64, client, lterm string) liberr.Error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Client != client || c.LTerm != lterm {
		return CodeSequenceMismatch.Error(nil)
	}
	return nil
}

// CleanupExpired marks ACTIVE conversations idle past idleTimeout as
// EXPIRED, and purges COMPLETED/ABORTED/EXPIRED conversations whose
// scheduled purge time has passed.
func (m *Manager) CleanupExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.byID {
		c.mu.Lock()
		switch {
		case c.State == StateActive && now.Sub(c.LastActivity) > m.idleTimeout:
			c.State = StateExpired
			c.purgeAt = now.Add(m.purgeDelay)
			m.activeCount--
			if m.activeCount < 0 {
				m.activeCount = 0
			}
		case c.State != StateActive && !c.purgeAt.IsZero() && now.After(c.purgeAt):
			delete(m.byID, id)
		}
		c.mu.Unlock()
	}
}

// ActiveCount returns the number of currently ACTIVE conversations.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCount
}
