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

// Package tlscomp adapts the teacher's certificates.Config/TLSConfig pair
// into the A1 config framework as the "tls" component (SPEC_FULL.md §4.15):
// it owns certificate loading and hands out a *tls.Config for both the
// client-facing listener and, once wired, outbound backend dials.
package tlscomp

import (
	"crypto/tls"
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	"github.com/imsconnect/gateway/certificates"
	liberr "github.com/imsconnect/gateway/errors"
)

// Component adapts a certificates.Config into a ready *tls.Config.
type Component struct {
	key string
	sts libcfg.FuncRouteStatus

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	cfg        certificates.Config
	tlsConfig  certificates.TLSConfig
	serverName string
	started    bool
}

// NewComponent returns an uninitialized "tls" Component.
func NewComponent() *Component { return &Component{} }

func (c *Component) Type() string { return "tls" }

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
		key = "tls"
	}
	cmd.Flags().Bool(key+".inheritDefault", true, "inherit certificates.Default when no certs are configured")
	return vpr.BindPFlag(key+".inheritDefault", cmd.Flags().Lookup(key+".inheritDefault"))
}

func (c *Component) IsStarted() bool             { return c.started }
func (c *Component) IsRunning(atLeast bool) bool  { return c.started }

// Start decodes the certificates.Config section, validates it, and builds
// the TLSConfig the server/pool components consume.
func (c *Component) Start(getCfg libcfg.FuncComponentConfigGet) liberr.Error {
	if c.beforeStart != nil {
		if err := c.beforeStart(c); err != nil {
			return err
		}
	}

	if err := getCfg(&c.cfg); err != nil {
		return err
	}

	if err := c.cfg.Validate(); err != nil {
		if c.sts != nil {
			c.sts("/healthz/tls", func() (bool, string) {
				return false, "invalid tls configuration"
			})
		}
		return err
	}

	c.tlsConfig = c.cfg.New()

	if c.sts != nil {
		c.sts("/healthz/tls", func() (bool, string) {
			return true, fmt.Sprintf("%d certificate(s) loaded", len(c.cfg.Certs))
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
	if err := getCfg(&c.cfg); err != nil {
		return err
	}
	c.tlsConfig = c.cfg.New()
	if c.afterReload != nil {
		return c.afterReload(c)
	}
	return nil
}

func (c *Component) Stop() { c.started = false }

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"inheritDefault": true,
%s"versionMin": "TLSv1.2",
%s"certs": []
%s}`, indent, indent, indent, indent))
}

func (c *Component) Dependencies() []string { return nil }

// Config returns the raw *tls.Config for serverName, nil until Start has
// run or when no TLSConfig was built.
func (c *Component) Config(serverName string) *tls.Config {
	if c.tlsConfig == nil {
		return nil
	}
	return c.tlsConfig.TlsConfig(serverName)
}
