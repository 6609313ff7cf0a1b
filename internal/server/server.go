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

// Package server implements the client-facing TCP accept loop: one goroutine
// per connection, framed by internal/wire, routed by internal/dispatch, and
// synchronized through internal/session, internal/txn and internal/security
// (spec.md §4.11, §5). The lifecycle (atomic running flag, Listen/Shutdown,
// bounded-grace shutdown) is grounded on the teacher's httpserver/server.go
// Server idiom, adapted from an http.Server wrapper to a raw net.Listener
// accept loop since the domain here is a binary TCP protocol, not HTTP.
package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	hashuuid "github.com/hashicorp/go-uuid"

	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/dispatch"
	"github.com/imsconnect/gateway/internal/metrics"
	"github.com/imsconnect/gateway/internal/security"
	"github.com/imsconnect/gateway/internal/session"
	"github.com/imsconnect/gateway/internal/txn"
	"github.com/imsconnect/gateway/internal/wire"
	liblog "github.com/imsconnect/gateway/logger"
)

const (
	CodeListen liberr.CodeError = liberr.MinPkgGateway + iota
	CodeAccept
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgGateway, func(code liberr.CodeError) string {
		switch code {
		case CodeListen:
			return "gateway listener bind failed"
		case CodeAccept:
			return "gateway accept loop failed"
		default:
			return liberr.UnknownMessage
		}
	})
}

// Return/reason codes placed on the wire for each error taxonomy category
// (spec.md §7).
const (
	RCProtocolError   uint16 = 12
	RCSecurityError   uint16 = 9001
	RCConversationErr uint16 = 12
	RCTimeout         uint16 = 408
	RCInternalError   uint16 = 16
	RCUnsupported     uint16 = 12

	ReasonGeneric    uint16 = 1
	ReasonTimeout    uint16 = 1
	ReasonUnsupported uint16 = 1
)

// Config tunes the accept loop and per-connection behavior (spec.md §6
// server.* keys).
type Config struct {
	Addr              string
	Backlog           int
	TCPNoDelay        bool
	Keepalive         bool
	ReadIdle          time.Duration
	WriteIdle         time.Duration
	AllIdle           time.Duration
	ShutdownTimeout   time.Duration
	MaxMessageSize    int
	ClientIDPrefix    string
	SecurityEnabled   bool
	TLS               *tls.Config
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Backlog <= 0 {
		out.Backlog = 128
	}
	if out.ReadIdle <= 0 {
		out.ReadIdle = 300 * time.Second
	}
	if out.WriteIdle <= 0 {
		out.WriteIdle = 300 * time.Second
	}
	if out.AllIdle <= 0 {
		out.AllIdle = 600 * time.Second
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 30 * time.Second
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = wire.DefaultMaxSeg
	}
	if out.ClientIDPrefix == "" {
		out.ClientIDPrefix = "GW"
	}
	return out
}

// Gateway is the wired set of collaborators the accept loop drives: C7
// (session/C4/C5/C6), C8 (conversations), C9 (transaction lifecycle), C10
// (security), C11 (dispatcher/registry) and the C2/C3 wire codec.
type Gateway struct {
	Sessions      *session.Manager
	Txns          *txn.Manager
	Dispatcher    *dispatch.Dispatcher
	Builder       *wire.Builder
	SecurityParse *security.Parser
	Log           liblog.Logger

	cfg Config

	ln      net.Listener
	running int32
	wg      sync.WaitGroup

	// conns and pending implement the C6 "weak reference... channel-id
	// token + lookup" design note (spec.md §9): the timeout wheel's
	// FireFunc never holds a net.Conn itself, only a token it hands back
	// here to find the still-live connection, if any.
	conns   sync.Map // connID -> *connEntry
	pending sync.Map // timer id -> *pendingTimeout

	stop chan struct{}
	once sync.Once
}

// connEntry pairs a live connection with the mutex that serializes writes
// onto it: the per-connection goroutine and a timer firing from
// internal/timeout's own goroutine can both try to write a frame at once.
type connEntry struct {
	conn net.Conn
	mu   sync.Mutex
}

func (e *connEntry) write(writeIdle time.Duration, resp []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if writeIdle > 0 {
		_ = e.conn.SetWriteDeadline(time.Now().Add(writeIdle))
	}
	_, err := e.conn.Write(resp)
	return err == nil
}

// pendingTimeout carries what a fired C6 timer needs to frame and deliver a
// 408/1 error: the connection it must land on and the request header it is
// replying to.
type pendingTimeout struct {
	entry *connEntry
	irm   wire.IRM
	otma  *wire.OTMA
}

// New wires a Gateway from its collaborators and configuration.
func New(cfg Config, sessions *session.Manager, txns *txn.Manager, d *dispatch.Dispatcher, secParse *security.Parser, log liblog.Logger) *Gateway {
	return &Gateway{
		Sessions:      sessions,
		Txns:          txns,
		Dispatcher:    d,
		Builder:       wire.NewBuilder(cfg.MaxMessageSize, false),
		SecurityParse: secParse,
		Log:           log,
		cfg:           cfg.withDefaults(),
		stop:          make(chan struct{}),
	}
}

// IsRunning reports whether the accept loop is currently active.
func (g *Gateway) IsRunning() bool {
	return atomic.LoadInt32(&g.running) == 1
}

// Listen binds the configured address and blocks accepting connections
// until Shutdown is called or the listener errors.
func (g *Gateway) Listen() liberr.Error {
	var ln net.Listener
	var err error

	if g.cfg.TLS != nil {
		ln, err = tls.Listen("tcp", g.cfg.Addr, g.cfg.TLS)
	} else {
		ln, err = net.Listen("tcp", g.cfg.Addr)
	}
	if err != nil {
		return CodeListen.Error(err)
	}

	g.ln = ln
	atomic.StoreInt32(&g.running, 1)

	go g.Sessions.Run()

	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			select {
			case <-g.stop:
				return nil
			default:
			}
			if g.Log != nil {
				g.Log.Error("gateway accept failed", aerr.Error())
			}
			continue
		}

		g.wg.Add(1)
		metrics.ActiveConnections.Inc()
		go func() {
			defer g.wg.Done()
			defer metrics.ActiveConnections.Dec()
			g.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting new connections, closes the listener, tears down
// every live session, and waits up to the configured grace period for
// in-flight connection goroutines to exit.
func (g *Gateway) Shutdown() {
	g.once.Do(func() { close(g.stop) })
	atomic.StoreInt32(&g.running, 0)

	if g.ln != nil {
		_ = g.ln.Close()
	}

	g.Sessions.Shutdown()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(g.cfg.ShutdownTimeout):
	}
}

// FireTimeout is wired as the C6 timeout wheel's FireFunc (spec.md §4.6,
// §9): timerID is the token returned by the Start call in handleSendReceive,
// looked up here rather than carried by the timer itself so a dropped
// connection never keeps a live net.Conn pinned in the heap. If the
// transaction already completed (or the connection is gone) this is a
// no-op.
func (g *Gateway) FireTimeout(timerID, _ string) {
	v, ok := g.pending.LoadAndDelete(timerID)
	if !ok {
		return
	}
	pt := v.(*pendingTimeout)
	resp := g.Builder.Error(&pt.irm, pt.otma, RCTimeout, ReasonTimeout, "transaction timed out")
	pt.entry.write(g.cfg.WriteIdle, resp)
}

func newConnID() string {
	if id, err := hashuuid.GenerateUUID(); err == nil {
		return id
	}
	return fmt.Sprintf("conn-%d", time.Now().UnixNano())
}

// handleConn owns one client connection end to end: frame read, decode,
// dispatch, encode, frame write. Requests on a single connection are
// processed strictly in arrival order (spec.md §5 "Ordering guarantees").
func (g *Gateway) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := newConnID()
	remote := conn.RemoteAddr().String()
	sess := g.Sessions.Open(connID, remote, 0)
	defer g.Sessions.Close(connID)

	entry := &connEntry{conn: conn}
	g.conns.Store(connID, entry)
	defer g.conns.Delete(connID)

	reader := wire.NewReader(conn)
	var lastMsgID string

	for {
		if d := g.cfg.AllIdle; d > 0 {
			_ = conn.SetDeadline(time.Now().Add(d))
		}

		frame, rerr := reader.ReadFrame()
		if rerr != nil {
			g.writeOrDrop(entry, g.Builder.Error(&wire.IRM{Architecture: 0}, nil, RCProtocolError, ReasonGeneric, rerr.Error()))
			return
		}
		if frame == nil {
			return
		}

		msg, derr := wire.Decode(frame)
		if derr != nil {
			g.writeOrDrop(entry, g.Builder.Error(&wire.IRM{Architecture: 0}, nil, RCProtocolError, ReasonGeneric, derr.Error()))
			return
		}

		sess.Touch()
		sess.Architecture = msg.IRM.Architecture

		resp, closeAfter := g.handleMessage(connID, entry, sess, msg, &lastMsgID)
		if resp != nil {
			if !g.writeOrDrop(entry, resp) {
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

func (g *Gateway) writeOrDrop(entry *connEntry, resp []byte) bool {
	if len(resp) == 0 {
		return true
	}
	return entry.write(g.cfg.WriteIdle, resp)
}

// handleMessage routes a decoded message by its IRM message-type byte to the
// C11 transitions (spec.md §4.11 table), returning the framed reply (if any)
// and whether the caller must close the connection afterward (DEALLOCATE).
func (g *Gateway) handleMessage(connID string, entry *connEntry, sess *session.ClientSession, msg *wire.Message, lastMsgID *string) ([]byte, bool) {
	secCtx := g.authenticate(msg)

	ctx := &dispatch.Context{
		ConnID:   connID,
		Session:  sess,
		Security: secCtx,
		Message:  msg,
	}

	switch msg.IRM.MsgType {
	case wire.MsgTypeSendReceive:
		return g.handleSendReceive(ctx, entry), false

	case wire.MsgTypeSendOnly, wire.MsgTypeSendOnlyAck:
		clientID := g.Dispatcher.HandleSendOnly(ctx, func(client string, payload []byte) {
			id, _ := g.Sessions.Queues.Enqueue(client, payload, false)
			*lastMsgID = id
		})
		gen := ""
		if msg.IRM.WantsClientID() {
			gen = clientID
		}
		metrics.DispatchOutcomes.WithLabelValues("SEND_ONLY", "ack").Inc()
		return g.Builder.Ack(&msg.IRM, msg.OTMA, gen), false

	case wire.MsgTypeResumeTpipe:
		client := sess.ClientID
		payload := g.Dispatcher.HandleRecvOnly(client)
		metrics.DispatchOutcomes.WithLabelValues("RECV_ONLY", "ok").Inc()
		if payload == nil {
			return g.Builder.EmptyTrailer(&msg.IRM, msg.OTMA), false
		}
		return g.Builder.Success(&msg.IRM, msg.OTMA, "", "", payload), false

	case wire.MsgTypeAck:
		g.Dispatcher.HandleAck(*lastMsgID)
		return nil, false

	case wire.MsgTypeNak:
		g.Dispatcher.HandleNak(*lastMsgID, sess.ClientID, msg.IRM.CommFlags)
		return nil, false

	case wire.MsgTypeDeallocate:
		metrics.DispatchOutcomes.WithLabelValues("DEALLOCATE", "ok").Inc()
		return g.Builder.Success(&msg.IRM, msg.OTMA, "", "", nil), true

	case wire.MsgTypeCancelTimer:
		g.Dispatcher.HandleCancelTimer(sess.ClientID)
		metrics.DispatchOutcomes.WithLabelValues("CANCEL_TIMER", "ok").Inc()
		return g.Builder.Success(&msg.IRM, msg.OTMA, "", "", nil), false

	default:
		metrics.DispatchOutcomes.WithLabelValues("UNKNOWN", "error").Inc()
		return g.Builder.Error(&msg.IRM, msg.OTMA, RCUnsupported, ReasonUnsupported, "Unsupported transaction type"), false
	}
}

// authenticate derives a SecurityContext from the request's user/group/
// password fields. A non-empty password selects password auth; an empty
// password with a non-empty user selects passticket auth (the wire format
// carries no separate auth-method byte, so this distinguishes the two the
// way the source header fields allow).
func (g *Gateway) authenticate(msg *wire.Message) *security.SecurityContext {
	if g.SecurityParse == nil || msg.IRM.UserID == "" {
		return nil
	}

	method := security.AuthPassticket
	if msg.IRM.Password != "" {
		method = security.AuthPassword
	}

	ctx, err := g.SecurityParse.Authenticate(method, msg.IRM.UserID, msg.IRM.GroupID, msg.IRM.Password)
	if err != nil {
		return nil
	}
	return ctx
}

// handleSendReceive wraps dispatch.HandleSendReceive in the C9 start/
// complete-or-abort envelope and a C6 timeout timer (spec.md §4.9, §4.6):
// the timer is armed right before the handler runs and disarmed as soon as
// it returns, so a handler that never returns leaves its timer to fire and
// push a 408/1 error frame onto entry via FireTimeout (scenario S6).
func (g *Gateway) handleSendReceive(ctx *dispatch.Context, entry *connEntry) []byte {
	conversational := ctx.Message.OTMA != nil
	var convID uint64
	last := ctx.Message.IsLast()
	if conversational {
		convID = uint64(ctx.Message.OTMA.ConvID)
	}

	req := txn.Request{
		Client:         ctx.Session.ClientID,
		TxnCode:        ctx.Message.IRM.TxnCode,
		LTerm:          ctx.Message.IRM.LTerm,
		Conversational: conversational && convID != 0,
		ConvID:         convID,
		Last:           last,
		MessageType:    txn.MessageTransaction,
		Payload:        ctx.Message.Payload(),
	}
	if conversational {
		req.MessageType = txn.MessageConversational
	}

	result := g.Txns.Process(req, func(state *txn.State) ([]byte, error) {
		var timerID string
		if g.Sessions.Timeouts != nil {
			timerID = g.Sessions.Timeouts.Start(state.TxnID, ctx.Message.IRM.Timeout)
			g.pending.Store(timerID, &pendingTimeout{entry: entry, irm: ctx.Message.IRM, otma: ctx.Message.OTMA})
			defer func() {
				g.Sessions.Timeouts.Cancel(timerID)
				g.pending.Delete(timerID)
			}()
		}

		result := g.Dispatcher.HandleSendReceive(ctx)
		if result.EvictedConnID != "" && g.Log != nil {
			g.Log.Info("evicted duplicate client-id connection", result.EvictedConnID)
		}
		if result.Err != nil {
			return nil, result.Err
		}
		ctx.Session.ClientID = result.ClientID
		return result.Response, nil
	})

	if result.Err != nil {
		metrics.DispatchOutcomes.WithLabelValues("SEND_RECEIVE", "error").Inc()
		return g.Builder.Error(&ctx.Message.IRM, ctx.Message.OTMA, RCInternalError, ReasonGeneric, result.Err.Error())
	}

	metrics.DispatchOutcomes.WithLabelValues("SEND_RECEIVE", "ok").Inc()

	generated := ""
	if ctx.Message.IRM.WantsClientID() {
		generated = ctx.Session.ClientID
	}
	return g.Builder.Success(&ctx.Message.IRM, ctx.Message.OTMA, generated, "", result.Response)
}
