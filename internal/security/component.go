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

package security

import (
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
)

// Model is the "security" component's decoded viper section (spec.md §6
// security.* keys).
type Model struct {
	Enabled bool    `mapstructure:"enabled"`
	SSL     SSLOpts `mapstructure:"ssl"`
}

// SSLOpts is the nested "security.ssl" config block.
type SSLOpts struct {
	Enabled             bool     `mapstructure:"enabled"`
	ClientAuthRequired  bool     `mapstructure:"client_auth_required"`
	Protocols           []string `mapstructure:"protocols"`
}

// Component adapts the C10 Parser/Validator pair into the A1 config
// framework (spec.md §4.13 "security component"). It depends on "tls" only
// when SSL is enabled, matching spec.md's "depends on tls when
// security.ssl.enabled" note.
type Component struct {
	key string
	get libcfg.FuncComponentGet
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	Parser    *Parser
	Validator *Validator
	model     Model
	started   bool
}

// NewComponent returns a Component with a fresh Parser/Validator pair.
func NewComponent() *Component {
	return &Component{Parser: NewParser(), Validator: NewValidator()}
}

func (c *Component) Type() string { return "security" }

func (c *Component) Init(key string, _ libcfg.FuncContext, get libcfg.FuncComponentGet, _ libcfg.FuncComponentViper, sts libcfg.FuncRouteStatus) {
	c.key, c.get, c.sts = key, get, sts
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
		key = "security"
	}
	cmd.Flags().Bool(key+".enabled", false, "enforce C10 authority checks on every SEND_RECEIVE")
	return vpr.BindPFlag(key+".enabled", cmd.Flags().Lookup(key+".enabled"))
}

func (c *Component) IsStarted() bool          { return c.started }
func (c *Component) IsRunning(atLeast bool) bool { return c.started }

func (c *Component) Start(getCfg libcfg.FuncComponentConfigGet) liberr.Error {
	if c.beforeStart != nil {
		if err := c.beforeStart(c); err != nil {
			return err
		}
	}

	if err := getCfg(&c.model); err != nil {
		return err
	}

	if c.model.SSL.Enabled {
		if tlsCpt := c.get("tls"); tlsCpt == nil && c.sts != nil {
			c.sts("/healthz/security", func() (bool, string) {
				return false, "security.ssl.enabled but no tls component registered"
			})
		}
	}

	if c.sts != nil {
		c.sts("/healthz/security", func() (bool, string) {
			return true, fmt.Sprintf("enabled=%v", c.model.Enabled)
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
	if err := getCfg(&c.model); err != nil {
		return err
	}
	if c.afterReload != nil {
		return c.afterReload(c)
	}
	return nil
}

func (c *Component) Stop() { c.started = false }

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"enabled": false,
%s"ssl": {"enabled": false, "client_auth_required": false, "protocols": ["TLSv1.2", "TLSv1.3"]}
%s}`, indent, indent, indent))
}

func (c *Component) Dependencies() []string {
	if c.model.SSL.Enabled {
		return []string{"tls"}
	}
	return nil
}

// Enabled reports whether C10 authority gating is active; HandleSendReceive
// checks this via the Validator field being non-nil only when true.
func (c *Component) Enabled() bool { return c.model.Enabled }

// SecurityValidator returns the configured Validator when security.enabled is
// true, nil otherwise; the "server" component wires its dispatcher against
// this instead of an always-on, disconnected Validator.
func (c *Component) SecurityValidator() *Validator {
	if !c.model.Enabled {
		return nil
	}
	return c.Validator
}
