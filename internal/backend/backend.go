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

// Package backend maintains the pool of outbound connections to backend
// IMS systems, selected by a load-balancing policy (spec.md §4.12).
package backend

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/imsconnect/gateway/errors"
)

const (
	CodeNoBackends liberr.CodeError = liberr.MinPkgPool + iota
	CodeAcquireTimeout
	CodeConnectFailed
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgPool, func(code liberr.CodeError) string {
		switch code {
		case CodeNoBackends:
			return "no backends configured"
		case CodeAcquireTimeout:
			return "timed out acquiring a backend connection"
		case CodeConnectFailed:
			return "failed to connect to backend"
		default:
			return liberr.UnknownMessage
		}
	})
}

// Config describes one backend target (spec.md §3 BackendConfig).
type Config struct {
	Name               string
	Host               string
	Port               int
	Weight             int
	SSL                bool
	HealthCheckTimeout time.Duration
	DatastoreName      string
	MinSize            int
	MaxSize            int
	MaxRetries         int
	RetryDelay         time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

const maxConnAge = time.Hour

// Conn wraps a pooled backend connection with the bookkeeping the pool
// needs to judge validity (spec.md §4.12 "Per-connection health check").
type Conn struct {
	net.Conn
	CreatedAt time.Time
	backend   string
}

// Valid reports whether the connection is still usable: not closed (as far
// as a non-blocking read can tell) and younger than maxConnAge.
func (c *Conn) Valid() bool {
	if time.Since(c.CreatedAt) > maxConnAge {
		return false
	}

	_ = c.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	one := make([]byte, 1)
	n, err := c.Conn.Read(one)
	_ = c.Conn.SetReadDeadline(time.Time{})

	if n > 0 {
		return true
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		return false
	}
	return true
}

// Dialer abstracts connection creation so tests can avoid real sockets.
type Dialer func(cfg Config) (net.Conn, error)

// DefaultDialer dials a plain TCP connection. cfg.SSL is not consulted: the
// connection is never wrapped in TLS.
func DefaultDialer(cfg Config) (net.Conn, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	return d.Dial("tcp", cfg.addr())
}

// subPool is the acquire/release state for one backend.
type subPool struct {
	cfg       Config
	dial      Dialer
	mu        sync.Mutex
	available []*Conn
	total     int
	shutdown  bool
}

func newSubPool(cfg Config, dial Dialer) *subPool {
	return &subPool{cfg: cfg, dial: dial}
}

// acquire implements spec.md §4.12's three-step sub-pool protocol: (a)
// poll of the available queue, re-checked every few milliseconds until the
// timeout elapses, (b) synchronous dial if under max, (c) validate before
// returning — recursing once if the returned connection turns out to be
// invalid.
func (p *subPool) acquire(timeout time.Duration) (*Conn, liberr.Error) {
	return p.acquireAttempt(timeout, true)
}

func (p *subPool) acquireAttempt(timeout time.Duration, allowRecurse bool) (*Conn, liberr.Error) {
	deadline := time.Now().Add(timeout)

	for {
		p.mu.Lock()
		if n := len(p.available); n > 0 {
			c := p.available[n-1]
			p.available = p.available[:n-1]
			p.mu.Unlock()

			if !c.Valid() {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				_ = c.Close()
				if allowRecurse {
					return p.acquireAttempt(timeout, false)
				}
				continue
			}
			return c, nil
		}

		if p.total < p.cfg.effectiveMax() {
			p.total++
			p.mu.Unlock()

			raw, err := p.dial(p.cfg)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, CodeConnectFailed.Error(err)
			}

			c := &Conn{Conn: raw, CreatedAt: time.Now(), backend: p.cfg.Name}
			if !c.Valid() {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				_ = c.Close()
				if allowRecurse {
					return p.acquireAttempt(timeout, false)
				}
				return nil, CodeConnectFailed.Error(nil)
			}
			return c, nil
		}
		p.mu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return nil, CodeAcquireTimeout.Error(nil)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// release returns c to the available queue unless the pool is shutdown or
// c is no longer valid, in which case it is closed and total decremented.
// If the available queue offer is refused (capped at max), c is closed.
func (p *subPool) release(c *Conn) {
	p.mu.Lock()
	if p.shutdown || !c.Valid() {
		p.total--
		p.mu.Unlock()
		_ = c.Close()
		return
	}

	if len(p.available) >= p.cfg.effectiveMax() {
		p.total--
		p.mu.Unlock()
		_ = c.Close()
		return
	}

	p.available = append(p.available, c)
	p.mu.Unlock()
}

func (p *subPool) closeAll() {
	p.mu.Lock()
	p.shutdown = true
	conns := p.available
	p.available = nil
	p.total = 0
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (c Config) effectiveMax() int {
	if c.MaxSize <= 0 {
		return 20
	}
	return c.MaxSize
}

// LoadBalancer selects a backend name from the given candidates.
type LoadBalancer interface {
	Next(names []string) string
}

// RoundRobin cycles through the backend list via an atomic index.
type RoundRobin struct {
	idx uint64
}

func (r *RoundRobin) Next(names []string) string {
	if len(names) == 0 {
		return ""
	}
	n := atomic.AddUint64(&r.idx, 1)
	return names[(n-1)%uint64(len(names))]
}

// WeightedRoundRobin selects index i mod total_weight, advancing by
// cumulative weight until i falls within a backend's band (spec.md §4.12).
type WeightedRoundRobin struct {
	idx     uint64
	Weights map[string]int
}

func (w *WeightedRoundRobin) Next(names []string) string {
	if len(names) == 0 {
		return ""
	}

	total := 0
	for _, n := range names {
		wt := w.Weights[n]
		if wt <= 0 {
			wt = 1
		}
		total += wt
	}
	if total == 0 {
		return names[0]
	}

	i := int(atomic.AddUint64(&w.idx, 1)-1) % total
	cumulative := 0
	for _, n := range names {
		wt := w.Weights[n]
		if wt <= 0 {
			wt = 1
		}
		cumulative += wt
		if i < cumulative {
			return n
		}
	}
	return names[len(names)-1]
}

// Pool maintains name -> sub-pool plus the load balancer used to pick a
// backend on Acquire.
type Pool struct {
	mu       sync.RWMutex
	subs     map[string]*subPool
	order    []string
	balancer LoadBalancer
	dial     Dialer
}

// NewPool constructs an empty Pool. dial defaults to DefaultDialer when nil.
func NewPool(balancer LoadBalancer, dial Dialer) *Pool {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Pool{subs: make(map[string]*subPool), balancer: balancer, dial: dial}
}

// AddBackend registers or replaces a backend's configuration.
func (p *Pool) AddBackend(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[cfg.Name]; !exists {
		p.order = append(p.order, cfg.Name)
	}
	p.subs[cfg.Name] = newSubPool(cfg, p.dial)
}

// RemoveBackend closes and drops a backend's sub-pool.
func (p *Pool) RemoveBackend(name string) {
	p.mu.Lock()
	sp, ok := p.subs[name]
	delete(p.subs, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if ok {
		sp.closeAll()
	}
}

// Acquire selects a backend via the load balancer and acquires a
// connection from its sub-pool, per spec.md §4.12.
func (p *Pool) Acquire(timeout time.Duration) (*Conn, liberr.Error) {
	p.mu.RLock()
	names := append([]string(nil), p.order...)
	p.mu.RUnlock()

	if len(names) == 0 {
		return nil, CodeNoBackends.Error(nil)
	}

	name := p.balancer.Next(names)

	p.mu.RLock()
	sp, ok := p.subs[name]
	p.mu.RUnlock()
	if !ok {
		return nil, CodeNoBackends.Error(nil)
	}

	return sp.acquire(timeout)
}

// Release returns c to its owning backend's sub-pool.
func (p *Pool) Release(c *Conn) {
	p.mu.RLock()
	sp, ok := p.subs[c.backend]
	p.mu.RUnlock()

	if !ok {
		_ = c.Close()
		return
	}
	sp.release(c)
}

// Shutdown closes every sub-pool's connections.
func (p *Pool) Shutdown() {
	p.mu.RLock()
	subs := make([]*subPool, 0, len(p.subs))
	for _, sp := range p.subs {
		subs = append(subs, sp)
	}
	p.mu.RUnlock()

	for _, sp := range subs {
		sp.closeAll()
	}
}

// StartHealthChecks runs a background loop that proactively closes
// unhealthy idle connections every interval, outside the acquire/release
// path (spec.md §4.12). Stops when stop is closed.
func (p *Pool) StartHealthChecks(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.RLock()
			subs := make([]*subPool, 0, len(p.subs))
			for _, sp := range p.subs {
				subs = append(subs, sp)
			}
			p.mu.RUnlock()

			for _, sp := range subs {
				sp.mu.Lock()
				p.reapInvalid(sp)
				sp.mu.Unlock()
			}
		}
	}
}

// reapInvalid drops and closes any idle connection in sp's available queue
// that has failed validation. Callers must hold sp.mu.
func (p *Pool) reapInvalid(sp *subPool) {
	kept := sp.available[:0]
	for _, c := range sp.available {
		if c.Valid() {
			kept = append(kept, c)
		} else {
			sp.total--
			_ = c.Close()
		}
	}
	sp.available = kept
}
