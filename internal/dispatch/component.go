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

package dispatch

import (
	"fmt"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/backend"
)

// Model is the "system" component's decoded viper section (spec.md §6
// system_messages.* keys).
type Model struct {
	Enabled             bool `mapstructure:"enabled"`
	Ping                bool `mapstructure:"ping"`
	Notify              bool `mapstructure:"notify"`
	Echo                bool `mapstructure:"echo"`
	Status              bool `mapstructure:"status"`
	RequireAuth         bool `mapstructure:"require_auth"`
	MaxMessageSize      int  `mapstructure:"max_message_size"`
	AcquireTimeoutMs    int  `mapstructure:"backend_acquire_timeout_ms"`
	ReplyTimeoutMs      int  `mapstructure:"backend_reply_timeout_ms"`
}

func (m *Model) withDefaults() Model {
	out := *m
	out.Enabled = true
	out.Ping = true
	out.Notify = true
	out.Echo = true
	out.Status = true
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = 32768
	}
	if out.AcquireTimeoutMs == 0 {
		out.AcquireTimeoutMs = 2000
	}
	if out.ReplyTimeoutMs == 0 {
		out.ReplyTimeoutMs = 10000
	}
	return out
}

// toggledSystemHandler wraps SystemHandler with the per-message-type
// enable/disable switches spec.md §6 exposes under system_messages.*,
// and a payload size ceiling independent of the server's own frame limit.
type toggledSystemHandler struct {
	model Model
}

func (toggledSystemHandler) Name() string         { return "IMS.CONNECT" }
func (toggledSystemHandler) Priority() int        { return SystemPriority }
func (toggledSystemHandler) Conversational() bool { return false }

func (h toggledSystemHandler) CanHandle(ctx *Context) bool {
	return SystemHandler{}.CanHandle(ctx)
}

func (h toggledSystemHandler) Handle(ctx *Context) ([]byte, error) {
	payload := ctx.Message.Payload()
	if h.model.MaxMessageSize > 0 && len(payload) > h.model.MaxMessageSize {
		return nil, fmt.Errorf("system message exceeds max_message_size")
	}
	switch string(payload) {
	case "PING":
		if !h.model.Ping {
			break
		}
		return []byte("PONG"), nil
	case "NOTIFY":
		if !h.model.Notify {
			break
		}
		return []byte("ACK"), nil
	case "ECHO":
		if !h.model.Echo {
			break
		}
		return payload, nil
	case "STATUS":
		if !h.model.Status {
			break
		}
		return []byte("OK"), nil
	}
	return []byte("OK"), nil
}

// Component adapts the built-in IMS.CONNECT system handler and the
// backend-forwarding catch-all into the A1 config framework (spec.md
// §4.13 "system component"). It depends on "pool" so the Pool it wraps
// into a BackendHandler is already started.
type Component struct {
	key string
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	// Registry and PoolComponent are set by the caller that builds the
	// component graph (cmd/imsconnect/main.go), before Start runs.
	Registry      *Registry
	PoolComponent interface{ Pool() *backend.Pool }

	model   Model
	started bool
}

// NewComponent returns an uninitialized "system" Component.
func NewComponent() *Component { return &Component{} }

func (c *Component) Type() string { return "system" }

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
		key = "system_messages"
	}
	cmd.Flags().Bool(key+".enabled", true, "register the built-in IMS.CONNECT system handler")
	cmd.Flags().Bool(key+".require_auth", false, "require C10 authority even for system messages")
	return vpr.BindPFlag(key+".enabled", cmd.Flags().Lookup(key+".enabled"))
}

func (c *Component) IsStarted() bool             { return c.started }
func (c *Component) IsRunning(atLeast bool) bool  { return c.started }

// Start registers the toggled system handler and, if a pool component was
// wired in, a BackendHandler behind it so unmatched transactions reach a
// backend IMS system (spec.md §4.12).
func (c *Component) Start(getCfg libcfg.FuncComponentConfigGet) liberr.Error {
	if c.beforeStart != nil {
		if err := c.beforeStart(c); err != nil {
			return err
		}
	}

	if err := getCfg(&c.model); err != nil {
		return err
	}
	c.model = c.model.withDefaults()

	if c.Registry == nil {
		c.Registry = NewRegistry()
	}

	if c.model.Enabled {
		c.Registry.Add(toggledSystemHandler{model: c.model})
	}

	if c.PoolComponent != nil {
		if pool := c.PoolComponent.Pool(); pool != nil {
			c.Registry.Add(&BackendHandler{
				Pool:           pool,
				AcquireTimeout: time.Duration(c.model.AcquireTimeoutMs) * time.Millisecond,
				ReplyTimeout:   time.Duration(c.model.ReplyTimeoutMs) * time.Millisecond,
			})
		}
	}

	if c.sts != nil {
		c.sts("/healthz/system", func() (bool, string) {
			return true, fmt.Sprintf("enabled=%v require_auth=%v", c.model.Enabled, c.model.RequireAuth)
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

func (c *Component) Stop() { c.started = false }

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"enabled": true,
%s"ping": true,
%s"notify": true,
%s"echo": true,
%s"status": true,
%s"require_auth": false,
%s"max_message_size": 32768,
%s"backend_acquire_timeout_ms": 2000,
%s"backend_reply_timeout_ms": 10000
%s}`, indent, indent, indent, indent, indent, indent, indent, indent, indent, indent))
}

func (c *Component) Dependencies() []string { return []string{"pool"} }
