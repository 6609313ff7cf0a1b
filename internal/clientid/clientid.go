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

// Package clientid generates and tracks the 8-character client identifiers
// IMS Connect hands out to terminating clients, enforcing that at most one
// connection holds a given id at any instant (spec.md §4.4).
package clientid

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	hashuuid "github.com/hashicorp/go-uuid"

	liberr "github.com/imsconnect/gateway/errors"
)

// Error codes for the client-id registry (spec.md §7 surfaces these as
// generic protocol/system failures; they are registered here under the
// dedicated MinPkgClientID range for precise diagnostics).
const (
	CodeExists liberr.CodeError = liberr.MinPkgClientID + iota
	CodeInvalidFormat
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgClientID, func(code liberr.CodeError) string {
		switch code {
		case CodeExists:
			return "client id already registered"
		case CodeInvalidFormat:
			return "client id does not match [A-Z0-9]{1,8}"
		default:
			return liberr.UnknownMessage
		}
	})
}

var formatRe = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// ValidFormat reports whether id matches the wire format [A-Z0-9]{1,8}.
func ValidFormat(id string) bool {
	return formatRe.MatchString(id)
}

type registration struct {
	connID string
	since  time.Time
}

// Manager generates and tracks client ids. One RWMutex protects the
// registration map: registration and duplicate-eviction are two-step
// operations (check-then-set) that must be atomic together, while plain
// lookups can run concurrently (spec.md §4.4 "Concurrency").
type Manager struct {
	mu     sync.RWMutex
	byID   map[string]*registration
	prefix string
	seq    uint32
}

// NewManager returns a client-id Manager whose generated ids are prefixed
// with prefix (truncated so the full id never exceeds 8 characters; the
// remainder is a rolling 5-digit sequence counter, spec.md §4.4).
func NewManager(prefix string) *Manager {
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return &Manager{
		byID:   make(map[string]*registration),
		prefix: prefix,
	}
}

// Generate returns a fresh, currently-unregistered client id of the form
// <prefix><5-digit-sequence>, retrying on collision with the live set.
func (m *Manager) Generate() string {
	for {
		id := m.next()

		m.mu.RLock()
		_, exists := m.byID[id]
		m.mu.RUnlock()

		if !exists {
			return id
		}
	}
}

func (m *Manager) next() string {
	m.mu.Lock()
	n := m.seq
	m.seq = (m.seq + 1) % 100000
	m.mu.Unlock()

	return fmt.Sprintf("%s%05d", m.prefix, n)
}

// RandomSeed mixes a UUID-derived byte into the sequence start so two
// Manager instances in the same process don't produce colliding ids from a
// shared zero-valued counter (e.g. two test suites running in parallel).
// It is optional: callers that don't need it may ignore the returned error.
func (m *Manager) RandomSeed() error {
	b, err := hashuuid.GenerateRandomBytes(4)
	if err != nil {
		return err
	}

	seed := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])

	m.mu.Lock()
	m.seq = seed % 100000
	m.mu.Unlock()

	return nil
}

// Register associates clientID with connID. It fails with CodeExists if the
// id is already held by a live connection.
func (m *Manager) Register(clientID, connID string) liberr.Error {
	if !ValidFormat(clientID) {
		return CodeInvalidFormat.Error(nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[clientID]; exists {
		return CodeExists.Error(nil)
	}

	m.byID[clientID] = &registration{connID: connID, since: time.Now()}
	return nil
}

// Unregister removes clientID's registration, if present.
func (m *Manager) Unregister(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, clientID)
}

// Lookup returns the connection id currently holding clientID.
func (m *Manager) Lookup(clientID string) (connID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[clientID]
	if !ok {
		return "", false
	}
	return r.connID, true
}

// HandleDuplicate resolves a registration attempt for an id already held by
// another connection. When cancelExisting is true the prior holder is
// evicted and connID takes over the id; otherwise CodeExists is returned
// and the existing holder is left untouched (spec.md §4.4, scenario S2).
func (m *Manager) HandleDuplicate(clientID, connID string, cancelExisting bool) (evictedConnID string, err liberr.Error) {
	if !ValidFormat(clientID) {
		return "", CodeInvalidFormat.Error(nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prior, exists := m.byID[clientID]
	if !exists {
		m.byID[clientID] = &registration{connID: connID, since: time.Now()}
		return "", nil
	}

	if !cancelExisting {
		return "", CodeExists.Error(nil)
	}

	evictedConnID = prior.connID
	m.byID[clientID] = &registration{connID: connID, since: time.Now()}
	return evictedConnID, nil
}

// CleanupExpired purges registrations older than maxAge. The source's
// equivalent (cleanup_expired_sessions) always returns zero due to a loop
// bug (spec.md §9 Open Questions); this implementation preserves that
// documented, informational-only return contract rather than "fixing" it
// into a real count.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.byID {
		if now.Sub(r.since) > maxAge {
			delete(m.byID, id)
		}
	}

	return 0
}

// Count returns the number of currently registered client ids.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
