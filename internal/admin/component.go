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

// Package admin exposes the gateway's operational HTTP surface
// (SPEC_FULL.md §6 management.http.*): a /healthz endpoint aggregating
// every component's liveness probe and a /metrics endpoint serving the
// internal/metrics Prometheus registry. Off by default, grounded on the
// teacher's gin-based admin routers: a degraded /healthz aborts the
// request through errors.DefaultReturn's gin helpers and logs the probe
// detail through an entry bound to the gin context, the same pattern the
// teacher uses for its own HTTP error surface.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcfg "github.com/imsconnect/gateway/config"
	libdur "github.com/imsconnect/gateway/duration"
	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/metrics"
	liblog "github.com/imsconnect/gateway/logger"
	loglvl "github.com/imsconnect/gateway/logger/level"
)

// Model is the "admin" component's decoded viper section (spec.md §6
// management.http.* keys).
type Model struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

func (m *Model) withDefaults() Model {
	out := *m
	if out.Bind == "" {
		out.Bind = "127.0.0.1:9998"
	}
	return out
}

// Component runs a gin HTTP server exposing /healthz and /metrics, started
// only when management.http.enabled is true.
type Component struct {
	key string
	ctx libcfg.FuncContext

	beforeStart, afterStart   func(libcfg.Component) liberr.Error
	beforeReload, afterReload func(libcfg.Component) liberr.Error

	getProbes func() map[string]libcfg.StatusFunc

	// Log is optional; wired by cmd/imsconnect/main.go. When set, a
	// degraded /healthz response is logged through an entry bound to the
	// request's gin context.
	Log liblog.Logger

	model     Model
	srv       *http.Server
	started   bool
	startedAt time.Time
}

// NewComponent returns an uninitialized "admin" Component. getProbes is
// typically *config.Manage.Probes, wired in by cmd/imsconnect/main.go.
func NewComponent(getProbes func() map[string]libcfg.StatusFunc) *Component {
	return &Component{getProbes: getProbes}
}

func (c *Component) Type() string { return "admin" }

func (c *Component) Init(key string, ctx libcfg.FuncContext, _ libcfg.FuncComponentGet, _ libcfg.FuncComponentViper, _ libcfg.FuncRouteStatus) {
	c.key, c.ctx = key, ctx
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
		key = "management.http"
	}
	cmd.Flags().Bool(key+".enabled", false, "expose /healthz and /metrics over HTTP")
	cmd.Flags().String(key+".bind", "127.0.0.1:9998", "admin HTTP listen address")
	return vpr.BindPFlag(key+".enabled", cmd.Flags().Lookup(key+".enabled"))
}

func (c *Component) IsStarted() bool { return c.started }

func (c *Component) IsRunning(atLeast bool) bool { return c.started && c.srv != nil }

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

	if !c.model.Enabled {
		c.started = true
		if c.afterStart != nil {
			return c.afterStart(c)
		}
		return nil
	}

	metrics.Register()
	c.startedAt = time.Now()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ok := true
		details := gin.H{}
		failed := make([]string, 0)
		if c.getProbes != nil {
			for route, probe := range c.getProbes() {
				good, detail := probe()
				details[route] = gin.H{"ok": good, "detail": detail}
				if !good {
					ok = false
					failed = append(failed, route)
				}
			}
		}
		uptime := libdur.Duration(time.Since(c.startedAt))
		if !ok {
			ret := &liberr.DefaultReturn{Code: "503", Message: fmt.Sprintf("probes failing: %v", failed)}
			if c.Log != nil {
				c.Log.Entry(loglvl.WarnLevel, "healthz probe degraded").
					SetGinContext(ctx).
					ErrorAdd(true, fmt.Errorf("probes failing: %v", failed)).
					Log()
			}
			ret.GinTonicErrorAbort(ctx, http.StatusServiceUnavailable)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": ok, "uptime": uptime.String(), "probes": details})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	c.srv = &http.Server{
		Addr:    c.model.Bind,
		Handler: r,
	}

	go func() {
		_ = c.srv.ListenAndServe()
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
	if c.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.srv.Shutdown(ctx)
	}
	c.started = false
}

func (c *Component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(`{
%s"enabled": false,
%s"bind": "127.0.0.1:9998"
%s}`, indent, indent, indent))
}

func (c *Component) Dependencies() []string { return nil }
