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

// Command imsconnect is the gateway's CLI entrypoint (SPEC_FULL.md §4.18):
// it wires every component into a config.Manage, starts them in dependency
// order, and blocks until an OS signal requests a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	libcbr "github.com/imsconnect/gateway/cobra"
	libcfg "github.com/imsconnect/gateway/config"
	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/admin"
	"github.com/imsconnect/gateway/internal/backend"
	"github.com/imsconnect/gateway/internal/conversation"
	"github.com/imsconnect/gateway/internal/dispatch"
	"github.com/imsconnect/gateway/internal/security"
	"github.com/imsconnect/gateway/internal/server"
	"github.com/imsconnect/gateway/internal/session"
	"github.com/imsconnect/gateway/internal/timeout"
	"github.com/imsconnect/gateway/internal/tlscomp"
	"github.com/imsconnect/gateway/internal/txn"
	liblog "github.com/imsconnect/gateway/logger"
	libver "github.com/imsconnect/gateway/version"
)

var appVersion = libver.NewVersion(
	libver.License_MIT,
	"imsconnect-gateway",
	"TCP gateway terminating the IMS Connect binary protocol",
	"2026-07-29T00:00:00Z",
	"dev",
	"0.1.0",
	"Nicolas JUHEL",
	"IMSGW",
	struct{}{},
	0,
)

// sessionModel is decoded straight off the "session" viper section; session
// ownership spans C4 (client ids), C5 (queue) and C6 (timeouts), so it is
// built directly here rather than behind its own named component (spec.md
// §4.13 lists server/pool/security/otma/system only).
type sessionModel struct {
	ClientIDPrefix     string `mapstructure:"client_id_prefix"`
	QueueCapacity      int    `mapstructure:"queue_capacity"`
	QueueMessageTTLSec int    `mapstructure:"queue_message_ttl_sec"`
	DefaultTimeoutSec  int    `mapstructure:"default_timeout_sec"`
	MaxTimeoutSec      int    `mapstructure:"max_timeout_sec"`
	CleanupIntervalSec int    `mapstructure:"cleanup_interval_sec"`
	ClientIDMaxAgeSec  int    `mapstructure:"client_id_max_age_sec"`
	SessionIdleSec     int    `mapstructure:"session_idle_sec"`
	ShutdownGraceSec   int    `mapstructure:"shutdown_grace_sec"`
}

// txnManagerBox lets the timeout FireFunc reach the txn.Manager the "otma"
// component only constructs once its own Start runs, since FireFunc must be
// wired into session.NewManager before any component has started.
type txnManagerBox struct {
	m *txn.Manager
}

func (b *txnManagerBox) set(m *txn.Manager) { b.m = m }
func (b *txnManagerBox) get() *txn.Manager  { return b.m }

// gatewayBox lets the same FireFunc reach the server.Gateway built inside
// the "server" component's own Start, so a fired C6 timer can hand its
// 408/1 error frame back to the connection it was armed on (spec.md §9).
type gatewayBox struct {
	g *server.Gateway
}

func (b *gatewayBox) set(g *server.Gateway) { b.g = g }
func (b *gatewayBox) get() *server.Gateway  { return b.g }

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := liblog.New(ctx)

	app := libcbr.New()
	app.SetVersion(appVersion)
	app.SetLogger(func() liblog.Logger { return log })
	app.SetFuncInit(func() {})
	app.Init()

	var cfgFile string
	if err := app.SetFlagConfig(true, &cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	vpr := spfvpr.New()
	app.SetViper(func() *spfvpr.Viper { return vpr })

	root := app.Cobra()
	root.RunE = func(cmd *spfcbr.Command, args []string) error { return nil }

	manage := libcfg.NewManage(ctx, vpr)

	txnHolder := &txnManagerBox{}
	gwHolder := &gatewayBox{}
	secParser := security.NewParser()
	registry := dispatch.NewRegistry()

	poolCpt := backend.NewComponent()
	manage.Add("pool", poolCpt)

	secCpt := security.NewComponent()
	manage.Add("security", secCpt)

	tlsCpt := tlscomp.NewComponent()
	manage.Add("tls", tlsCpt)

	otmaCpt := conversation.NewComponent()
	manage.Add("otma", otmaCpt)

	sysCpt := dispatch.NewComponent()
	sysCpt.Registry = registry
	sysCpt.PoolComponent = poolCpt
	manage.Add("system", sysCpt)

	srvCpt := server.NewComponent()
	srvCpt.Registry = registry
	srvCpt.SecParse = secParser
	srvCpt.Log = log
	srvCpt.TLSComponent = tlsCpt
	srvCpt.SecComponent = secCpt
	manage.Add("server", srvCpt)

	// session.Manager is constructed once cobra flag parsing has populated
	// vpr, just before Start, so its FireFunc can reach into txnHolder. The
	// Gateway itself only exists after Start returns, so gwHolder is filled
	// from the "after" hook instead of the "before" one.
	srvCpt.RegisterFuncStart(func(libcfg.Component) liberr.Error {
		srvCpt.Txns = otmaCpt.Txns()
		txnHolder.set(otmaCpt.Txns())
		return nil
	}, func(libcfg.Component) liberr.Error {
		gwHolder.set(srvCpt.Gateway())
		return nil
	})

	adminCpt := admin.NewComponent(manage.Probes)
	adminCpt.Log = log
	manage.Add("admin", adminCpt)

	if err := manage.RegisterFlags(root); err != nil {
		log.Error("failed to register component flags", err.Error())
		return 1
	}

	if err := root.Execute(); err != nil {
		log.Error("command line parsing failed", err.Error())
		return 1
	}

	if cfgFile != "" {
		vpr.SetConfigFile(cfgFile)
		if err := vpr.ReadInConfig(); err != nil {
			log.Error("failed to read config file", err.Error())
			return 1
		}
	}

	var sm sessionModel
	if sub := vpr.Sub("session"); sub != nil {
		_ = sub.Unmarshal(&sm)
	}
	sm = sessionModel{
		ClientIDPrefix:     firstNonEmpty(sm.ClientIDPrefix, "GW"),
		QueueCapacity:      firstNonZero(sm.QueueCapacity, 100),
		QueueMessageTTLSec: firstNonZero(sm.QueueMessageTTLSec, 3600),
		DefaultTimeoutSec:  firstNonZero(sm.DefaultTimeoutSec, timeout.DefaultSeconds),
		MaxTimeoutSec:      firstNonZero(sm.MaxTimeoutSec, timeout.MaxSeconds),
		CleanupIntervalSec: firstNonZero(sm.CleanupIntervalSec, 60),
		ClientIDMaxAgeSec:  firstNonZero(sm.ClientIDMaxAgeSec, 3600),
		SessionIdleSec:     firstNonZero(sm.SessionIdleSec, 7200),
		ShutdownGraceSec:   firstNonZero(sm.ShutdownGraceSec, 30),
	}

	srvCpt.Sessions = session.NewManager(
		session.Config{
			CleanupInterval:     time.Duration(sm.CleanupIntervalSec) * time.Second,
			ClientIDMaxAge:      time.Duration(sm.ClientIDMaxAgeSec) * time.Second,
			SessionIdleTimeout:  time.Duration(sm.SessionIdleSec) * time.Second,
			ShutdownGracePeriod: time.Duration(sm.ShutdownGraceSec) * time.Second,
		},
		sm.ClientIDPrefix,
		sm.QueueCapacity,
		time.Duration(sm.QueueMessageTTLSec)*time.Second,
		sm.DefaultTimeoutSec,
		sm.MaxTimeoutSec,
		func(timerID, txnID string) {
			// handleSendReceive passes the txn.Manager TxnID as the C6
			// timer's "client" slot (spec.md §9's token-and-lookup design),
			// so the second argument here is the transaction to abort, not
			// a literal client id.
			if m := txnHolder.get(); m != nil {
				_ = m.Abort(txnID, "timeout")
			}
			if gw := gwHolder.get(); gw != nil {
				gw.FireTimeout(timerID, txnID)
			}
			log.Warning("transaction timed out", nil, "txn", txnID)
		},
	)

	if err := manage.Start(); err != nil {
		log.Error("gateway startup failed", err.Error())
		return 1
	}
	log.Info("gateway started", nil)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received, draining connections", nil)
	manage.Stop()
	cancel()

	return 0
}

func firstNonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
