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

package conversation

import (
	"fmt"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/txn"
)

// Model is the "otma" component's decoded viper section (spec.md §6
// otma.* keys): C8's capacity/timeout knobs.
type Model struct {
	MaxConversations  int  `mapstructure:"max_conversations"`
	IdleTimeoutSec    int  `mapstructure:"idle_timeout_sec"`
	PurgeDelaySec     int  `mapstructure:"purge_delay_sec"`
	CleanupIntervalMs int  `mapstructure:"cleanup_interval_ms"`
	KeepHistory       bool `mapstructure:"keep_history"`
}

func (m *Model) withDefaults() Model {
	out := *m
	if out.MaxConversations == 0 {
		out.MaxConversations = DefaultMaxConversations
	}
	if out.IdleTimeoutSec == 0 {
		out.IdleTimeoutSec = int(DefaultConversationTimeout / time.Second)
	}
	if out.PurgeDelaySec == 0 {
		out.PurgeDelaySec = int(DefaultPurgeDelay / time.Second)
	}
	if out.CleanupIntervalMs == 0 {
		out.CleanupIntervalMs = 30000
	}
	return out
}

// Component adapts the C8 conversation Manager and its C9 txn.Manager
// companion into the A1 config framework (spec.md §4.13 "otma component"):
// Start builds both and launches the background conversation janitor that
// CleanupExpired depends on, since conversation.Manager exposes no Run of
// its own.
type Component struct {
	key string
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	convs   *Manager
	txns    *txn.Manager
	stop    chan struct{}
	started bool
}

// NewComponent returns an uninitialized "otma" Component.
func NewComponent() *Component { return &Component{} }

func (c *Component) Type() string { return "otma" }

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
		key = "otma"
	}
	cmd.Flags().Int(key+".max_conversations", DefaultMaxConversations, "maximum simultaneous OTMA conversations")
	cmd.Flags().Int(key+".idle_timeout_sec", int(DefaultConversationTimeout/time.Second), "conversation idle timeout in seconds")
	return vpr.BindPFlag(key+".max_conversations", cmd.Flags().Lookup(key+".max_conversations"))
}

func (c *Component) IsStarted() bool            { return c.started }
func (c *Component) IsRunning(atLeast bool) bool { return c.started }

// Start builds the conversation Manager, the txn.Manager that wraps it, and
// launches the cleanup ticker.
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

	c.convs = NewManager(m.MaxConversations, time.Duration(m.IdleTimeoutSec)*time.Second, time.Duration(m.PurgeDelaySec)*time.Second, m.KeepHistory)
	c.txns = txn.NewManager(c.convs)

	c.stop = make(chan struct{})
	interval := time.Duration(m.CleanupIntervalMs) * time.Millisecond
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case now := <-t.C:
				c.convs.CleanupExpired(now)
			}
		}
	}()

	if c.sts != nil {
		c.sts("/healthz/otma", func() (bool, string) {
			return true, fmt.Sprintf("active=%d/%d", c.convs.ActiveCount(), m.MaxConversations)
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
	c.started = false
}

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"max_conversations": %d,
%s"idle_timeout_sec": %d,
%s"purge_delay_sec": %d,
%s"cleanup_interval_ms": 30000,
%s"keep_history": false
%s}`, indent, DefaultMaxConversations, indent, int(DefaultConversationTimeout/time.Second), indent, int(DefaultPurgeDelay/time.Second), indent, indent))
}

func (c *Component) Dependencies() []string { return nil }

// Conversations returns the constructed conversation Manager once Start has
// run (nil before then).
func (c *Component) Conversations() *Manager { return c.convs }

// Txns returns the constructed txn.Manager once Start has run (nil before
// then); the "server" component's Txns field is wired from this.
func (c *Component) Txns() *txn.Manager { return c.txns }
