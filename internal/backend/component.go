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

package backend

import (
	"fmt"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
)

// BackendEntry is one element of the "backends" config array (spec.md §6).
type BackendEntry struct {
	Name                string `mapstructure:"name"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	SSLEnabled          bool   `mapstructure:"ssl_enabled"`
	Weight              int    `mapstructure:"weight"`
	HealthCheckTimeoutMs int   `mapstructure:"health_check_timeout_ms"`
	DatastoreName       string `mapstructure:"datastore_name"`
}

// Model is the "pool" component's decoded viper section (spec.md §6
// pool.* keys plus the "backends" array).
type Model struct {
	MinPerBackend         int            `mapstructure:"min_per_backend"`
	MaxPerBackend         int            `mapstructure:"max_per_backend"`
	ConnectTimeoutMs      int            `mapstructure:"connect_timeout_ms"`
	MaxIdleMs             int            `mapstructure:"max_idle_ms"`
	HealthCheckIntervalMs int            `mapstructure:"health_check_interval_ms"`
	MaxRetries            int            `mapstructure:"max_retries"`
	RetryDelayMs          int            `mapstructure:"retry_delay_ms"`
	Weighted             bool            `mapstructure:"weighted"`
	Backends             []BackendEntry  `mapstructure:"backends"`
}

func (m *Model) withDefaults() Model {
	out := *m
	if out.MinPerBackend == 0 {
		out.MinPerBackend = 2
	}
	if out.MaxPerBackend == 0 {
		out.MaxPerBackend = 20
	}
	if out.ConnectTimeoutMs == 0 {
		out.ConnectTimeoutMs = 5000
	}
	if out.MaxIdleMs == 0 {
		out.MaxIdleMs = 300000
	}
	if out.HealthCheckIntervalMs == 0 {
		out.HealthCheckIntervalMs = 30000
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelayMs == 0 {
		out.RetryDelayMs = 1000
	}
	return out
}

// Component adapts a backend Pool into the A1 config framework (spec.md
// §4.13 "pool component"): it owns C12 and the §6 pool.* configuration
// surface, starting a background health-check loop alongside the pool.
type Component struct {
	key string
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	pool    *Pool
	stop    chan struct{}
	started bool
}

// NewComponent returns an uninitialized "pool" Component.
func NewComponent() *Component { return &Component{} }

func (c *Component) Type() string { return "pool" }

func (c *Component) Init(key string, _ libcfg.FuncContext, _ libcfg.FuncComponentGet, _ libcfg.FuncComponentViper, sts libcfg.FuncRouteStatus) {
	c.key, c.sts = key, sts
}

func (c *Component) RegisterFuncStart(before, after func(libcfg.Component) liberr.Error) {
	c.beforeStart, c.afterStart = before, after
}

func (c *Component) RegisterFuncReload(before, after func(libcfg.Component) liberr.Error) {
	c.beforeReload, c.afterReload = before, after
}

func (c *Component) RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error {
	key := c.key
	if key == "" {
		key = "pool"
	}
	cmd.Flags().Int(key+".min_per_backend", 2, "minimum pooled connections per backend")
	cmd.Flags().Int(key+".max_per_backend", 20, "maximum pooled connections per backend")
	return vpr.BindPFlag(key+".max_per_backend", cmd.Flags().Lookup(key+".max_per_backend"))
}

func (c *Component) IsStarted() bool { return c.started }

func (c *Component) IsRunning(atLeast bool) bool { return c.started }

// Start builds the Pool, registers every configured backend, and launches
// the C12 background health-check loop (spec.md §4.12).
func (c *Component) Start(getCfg libcfg.FuncComponentConfigGet) liberr.Error {
	if c.beforeStart != nil {
		if err := c.beforeStart(c); err != nil {
			return err
		}
	}

	var m Model
	if err := getCfg(&m); err != nil {
		return err
	}
	m = m.withDefaults()

	var lb LoadBalancer
	if m.Weighted {
		lb = &WeightedRoundRobin{}
	} else {
		lb = &RoundRobin{}
	}

	c.pool = NewPool(lb, DefaultDialer)
	for _, b := range m.Backends {
		c.pool.AddBackend(Config{
			Name:               b.Name,
			Host:               b.Host,
			Port:               b.Port,
			Weight:             b.Weight,
			SSL:                b.SSLEnabled,
			HealthCheckTimeout: time.Duration(b.HealthCheckTimeoutMs) * time.Millisecond,
			DatastoreName:      b.DatastoreName,
			MinSize:            m.MinPerBackend,
			MaxSize:            m.MaxPerBackend,
			MaxRetries:         m.MaxRetries,
			RetryDelay:         time.Duration(m.RetryDelayMs) * time.Millisecond,
		})
	}

	c.stop = make(chan struct{})
	go c.pool.StartHealthChecks(time.Duration(m.HealthCheckIntervalMs)*time.Millisecond, c.stop)

	if c.sts != nil {
		c.sts("/healthz/pool", func() (bool, string) {
			return true, fmt.Sprintf("%d backends configured", len(m.Backends))
		})
	}

	c.started = true
	if c.afterStart != nil {
		return c.afterStart(c)
	}
	return nil
}

func (c *Component) Reload(getCfg libcfg.FuncComponentConfigGet) liberr.Error {
	if c.beforeReload != nil {
		if err := c.beforeReload(c); err != nil {
			return err
		}
	}
	if c.afterReload != nil {
		return c.afterReload(c)
	}
	return nil
}

func (c *Component) Stop() {
	if c.stop != nil {
		close(c.stop)
	}
	if c.pool != nil {
		c.pool.Shutdown()
	}
	c.started = false
}

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"min_per_backend": 2,
%s"max_per_backend": 20,
%s"connect_timeout_ms": 5000,
%s"max_idle_ms": 300000,
%s"health_check_interval_ms": 30000,
%s"max_retries": 3,
%s"retry_delay_ms": 1000,
%s"backends": []
%s}`, indent, indent, indent, indent, indent, indent, indent, indent, indent))
}

func (c *Component) Dependencies() []string { return nil }

// Pool returns the constructed Pool once Start has run (nil before then).
func (c *Component) Pool() *Pool { return c.pool }
