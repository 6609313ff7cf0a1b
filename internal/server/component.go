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

package server

import (
	"crypto/tls"
	"fmt"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/dispatch"
	"github.com/imsconnect/gateway/internal/security"
	"github.com/imsconnect/gateway/internal/session"
	"github.com/imsconnect/gateway/internal/txn"
	liblog "github.com/imsconnect/gateway/logger"
)

// Model is the "server" component's decoded viper section (spec.md §6
// server.* keys), bound via mapstructure tags matching the dotted config
// names.
type Model struct {
	Port              int           `mapstructure:"port"`
	BossThreads       int           `mapstructure:"boss_threads"`
	WorkerThreads     int           `mapstructure:"worker_threads"`
	Backlog           int           `mapstructure:"backlog"`
	Keepalive         bool          `mapstructure:"keepalive"`
	TCPNoDelay        bool          `mapstructure:"tcp_no_delay"`
	ReadIdleSec       int           `mapstructure:"read_idle_sec"`
	WriteIdleSec      int           `mapstructure:"write_idle_sec"`
	AllIdleSec        int           `mapstructure:"all_idle_sec"`
	ShutdownTimeout   int           `mapstructure:"shutdown_timeout_sec"`
	MaxMessageSize    int           `mapstructure:"max_message_size"`
	DatastoreName     string        `mapstructure:"datastore_name"`
}

func (m *Model) withDefaults() Model {
	out := *m
	if out.Port == 0 {
		out.Port = 9999
	}
	if out.BossThreads == 0 {
		out.BossThreads = 1
	}
	if out.Backlog == 0 {
		out.Backlog = 128
	}
	if out.ReadIdleSec == 0 {
		out.ReadIdleSec = 300
	}
	if out.WriteIdleSec == 0 {
		out.WriteIdleSec = 300
	}
	if out.AllIdleSec == 0 {
		out.AllIdleSec = 600
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 30
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = 32768
	}
	if out.DatastoreName == "" {
		out.DatastoreName = "IMSA"
	}
	out.Keepalive = true
	out.TCPNoDelay = true
	return out
}

// Component adapts a Gateway into the A1 config framework (spec.md §4.13):
// the collaborators it depends on (security, and the dispatcher registry
// built by the "system"/pool components) are set on its exported fields by
// the caller before Start, Init only records the framework callbacks, Start binds the listener
// in its own goroutine, Stop drains it with the configured grace period.
type Component struct {
	key string
	ctx libcfg.FuncContext
	get libcfg.FuncComponentGet
	vpr libcfg.FuncComponentViper
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	Registry *dispatch.Registry
	Sessions *session.Manager
	Txns     *txn.Manager
	SecParse *security.Parser
	Log      liblog.Logger

	// TLSComponent is optional; when set and it has built a *tls.Config,
	// the listener is opened with tls.Listen instead of net.Listen.
	TLSComponent interface{ Config(serverName string) *tls.Config }

	// SecComponent is optional; when set, its SecurityValidator (nil unless
	// security.enabled) governs C10 authority gating instead of an always-on
	// Validator disconnected from the "security" component's own config.
	SecComponent interface{ SecurityValidator() *security.Validator }

	gw      *Gateway
	started bool
}

// NewComponent returns an uninitialized "server" Component; Registry,
// Sessions, Txns, SecParse and Log must be set (directly, or by a caller
// that has already constructed them) before Start is called.
func NewComponent() *Component {
	return &Component{Registry: dispatch.NewRegistry()}
}

func (c *Component) Type() string { return "server" }

func (c *Component) Init(key string, ctx libcfg.FuncContext, get libcfg.FuncComponentGet, vpr libcfg.FuncComponentViper, sts libcfg.FuncRouteStatus) {
	c.key, c.ctx, c.get, c.vpr, c.sts = key, ctx, get, vpr, sts
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
		key = "server"
	}

	cmd.Flags().Int(key+".port", 9999, "TCP port the gateway listens on")
	cmd.Flags().Int(key+".max_message_size", 32768, "maximum accepted frame size in bytes")
	cmd.Flags().Int(key+".shutdown_timeout_sec", 30, "grace period for in-flight connections on shutdown")

	return vpr.BindPFlag(key+".port", cmd.Flags().Lookup(key+".port"))
}

func (c *Component) IsStarted() bool { return c.started }

func (c *Component) IsRunning(atLeast bool) bool {
	if c.gw == nil {
		return false
	}
	return c.gw.IsRunning()
}

// Start decodes the server section, builds the Gateway from the
// collaborators registered on the Component, and launches the accept loop
// in its own goroutine (Listen blocks, so it must not run on the caller's
// goroutine).
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

	var validator *security.Validator
	if c.SecComponent != nil {
		validator = c.SecComponent.SecurityValidator()
	} else {
		validator = security.NewValidator()
	}
	d := dispatch.NewDispatcher(c.Registry, c.Sessions, validator)

	var tlsCfg *tls.Config
	if c.TLSComponent != nil {
		tlsCfg = c.TLSComponent.Config("")
	}

	c.gw = New(Config{
		Addr:           fmt.Sprintf(":%d", m.Port),
		Backlog:        m.Backlog,
		TCPNoDelay:     m.TCPNoDelay,
		Keepalive:      m.Keepalive,
		ReadIdle:       time.Duration(m.ReadIdleSec) * time.Second,
		WriteIdle:      time.Duration(m.WriteIdleSec) * time.Second,
		AllIdle:        time.Duration(m.AllIdleSec) * time.Second,
		ShutdownTimeout: time.Duration(m.ShutdownTimeout) * time.Second,
		MaxMessageSize: m.MaxMessageSize,
		TLS:            tlsCfg,
	}, c.Sessions, c.Txns, d, c.SecParse, c.Log)

	if c.sts != nil {
		c.sts("/healthz/server", func() (bool, string) {
			if c.gw.IsRunning() {
				return true, "listening"
			}
			return false, "not listening"
		})
	}

	go func() {
		if err := c.gw.Listen(); err != nil && c.Log != nil {
			c.Log.Error("gateway listener stopped", err.Error())
		}
	}()

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
	if c.gw != nil {
		c.gw.Shutdown()
	}
	c.started = false
}

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"port": 9999,
%s"boss_threads": 1,
%s"worker_threads": 0,
%s"backlog": 128,
%s"keepalive": true,
%s"tcp_no_delay": true,
%s"read_idle_sec": 300,
%s"write_idle_sec": 300,
%s"all_idle_sec": 600,
%s"shutdown_timeout_sec": 30,
%s"max_message_size": 32768,
%s"datastore_name": "IMSA"
%s}`, indent, indent, indent, indent, indent, indent, indent, indent, indent, indent, indent, indent, indent))
}

func (c *Component) Dependencies() []string { return []string{"security", "pool", "otma", "system", "tls"} }

// Gateway exposes the constructed Gateway once Start has run (nil before
// then), for callers (e.g. cmd/imsconnect's timeout callback, which calls
// FireTimeout) that need to reach the running gateway.
func (c *Component) Gateway() *Gateway { return c.gw }
