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

// Package session owns the per-connection ClientSession table and the
// background janitor that reaps idle connections, expired client-id
// registrations, and stale queued messages (spec.md §4.7). It composes the
// client-id manager, the message queue, and the transaction timeout wheel
// without any of those three knowing about each other.
package session

import (
	"sync"
	"time"

	"github.com/imsconnect/gateway/internal/clientid"
	"github.com/imsconnect/gateway/internal/queue"
	"github.com/imsconnect/gateway/internal/timeout"
)

// ClientSession is the per-TCP-connection state record (spec.md §3).
type ClientSession struct {
	ConnID       string
	ClientID     string
	RemoteAddr   string
	Architecture byte
	CreatedAt    time.Time
	LastActivity time.Time

	mu sync.RWMutex
}

// Touch records activity on the session; called on every decoded request.
func (s *ClientSession) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without activity.
func (s *ClientSession) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastActivity)
}

// Config tunes the background janitor cadence and thresholds; all fields
// fall back to the spec's defaults when zero.
type Config struct {
	CleanupInterval     time.Duration // default 60s
	ClientIDMaxAge      time.Duration // default 1h
	SessionIdleTimeout  time.Duration // default 2h
	ShutdownGracePeriod time.Duration // default 30s
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = 60 * time.Second
	}
	if out.ClientIDMaxAge <= 0 {
		out.ClientIDMaxAge = time.Hour
	}
	if out.SessionIdleTimeout <= 0 {
		out.SessionIdleTimeout = 2 * time.Hour
	}
	if out.ShutdownGracePeriod <= 0 {
		out.ShutdownGracePeriod = 30 * time.Second
	}
	return out
}

// Manager owns C4 (client ids), C5 (queues), C6 (timeouts), and the
// conn_id -> ClientSession map, plus the background cleanup loop.
type Manager struct {
	cfg       Config
	ClientIDs *clientid.Manager
	Queues    *queue.Manager
	Timeouts  *timeout.Manager

	mu       sync.RWMutex
	sessions map[string]*ClientSession

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewManager wires a fresh Manager. timeoutFire is forwarded to the
// embedded timeout.Manager and is responsible for writing the 408/1 error
// frame on the owning connection; the session manager does not touch the
// transport itself.
func NewManager(cfg Config, clientIDPrefix string, queueCapacity int, queueMsgTimeout time.Duration, defaultTimeoutSec, maxTimeoutSec int, timeoutFire timeout.FireFunc) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		ClientIDs: clientid.NewManager(clientIDPrefix),
		Queues:    queue.NewManager(queueCapacity, queueMsgTimeout),
		sessions:  make(map[string]*ClientSession),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	m.Timeouts = timeout.NewManager(timeoutFire, defaultTimeoutSec, maxTimeoutSec)
	return m
}

// Open registers a new session for a freshly-accepted connection.
func (m *Manager) Open(connID, remoteAddr string, architecture byte) *ClientSession {
	s := &ClientSession{
		ConnID:       connID,
		RemoteAddr:   remoteAddr,
		Architecture: architecture,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	m.mu.Lock()
	m.sessions[connID] = s
	m.mu.Unlock()

	return s
}

// Get returns the session for connID, if any.
func (m *Manager) Get(connID string) (*ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// BindClientID associates clientID with the session, registering it with
// the client-id manager.
func (m *Manager) BindClientID(connID, clientID string) {
	m.mu.Lock()
	if s, ok := m.sessions[connID]; ok {
		s.mu.Lock()
		s.ClientID = clientID
		s.mu.Unlock()
	}
	m.mu.Unlock()
}

// UnbindClientID clears the client id recorded against connID without
// touching the client-id manager's own registration table; used when a
// duplicate client-id request evicts connID's hold (spec.md scenario S2) so
// the evicted session doesn't later try to free an id it no longer owns.
func (m *Manager) UnbindClientID(connID string) {
	m.mu.RLock()
	s, ok := m.sessions[connID]
	m.mu.RUnlock()

	if !ok {
		return
	}
	s.mu.Lock()
	s.ClientID = ""
	s.mu.Unlock()
}

// Close tears down a session: frees its client id, drops its queue, cancels
// its outstanding timers, and removes it from the map.
func (m *Manager) Close(connID string) {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	delete(m.sessions, connID)
	m.mu.Unlock()

	if !ok {
		return
	}

	s.mu.RLock()
	clientID := s.ClientID
	s.mu.RUnlock()

	if clientID != "" {
		m.ClientIDs.Unregister(clientID)
		m.Queues.RemoveClient(clientID)
	}
	m.Timeouts.CancelClient(connID)
	if clientID != "" {
		m.Timeouts.CancelClient(clientID)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run starts the background janitor (60s cadence by default) and the
// timeout wheel goroutine. Blocks until Stop is called.
func (m *Manager) Run() {
	go m.Timeouts.Run()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	defer close(m.stopped)

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	now := time.Now()

	m.ClientIDs.CleanupExpired(m.cfg.ClientIDMaxAge)
	m.Queues.CleanupExpired(now)

	m.mu.RLock()
	idle := make([]string, 0)
	for connID, s := range m.sessions {
		if s.IdleFor(now) > m.cfg.SessionIdleTimeout {
			idle = append(idle, connID)
		}
	}
	m.mu.RUnlock()

	for _, connID := range idle {
		m.Close(connID)
	}
}

// Shutdown closes every live session, then stops the timeout wheel and the
// cleanup loop, waiting up to the configured grace period for Run to exit.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	connIDs := make([]string, 0, len(m.sessions))
	for connID := range m.sessions {
		connIDs = append(connIDs, connID)
	}
	m.mu.RUnlock()

	for _, connID := range connIDs {
		m.Close(connID)
	}

	m.Timeouts.Stop()

	m.once.Do(func() { close(m.stop) })

	select {
	case <-m.stopped:
	case <-time.After(m.cfg.ShutdownGracePeriod):
	}
}
