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

// Package dispatch drives the per-connection state machine keyed on the
// IRM message-type byte (spec.md §4.11): handler selection, security
// gating, and the SEND_RECEIVE / SEND_ONLY / RECV_ONLY / ACK / NAK /
// DEALLOCATE / CANCEL_TIMER transitions.
package dispatch

import (
	"sort"
	"sync"
	"time"

	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/security"
	"github.com/imsconnect/gateway/internal/session"
	"github.com/imsconnect/gateway/internal/wire"
)

const (
	CodeUnsupportedType liberr.CodeError = liberr.MinPkgDispatch + iota
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgDispatch, func(code liberr.CodeError) string {
		switch code {
		case CodeUnsupportedType:
			return "unsupported transaction type"
		default:
			return liberr.UnknownMessage
		}
	})
}

// Context is everything a Handler needs to process one decoded request.
type Context struct {
	ConnID   string
	Session  *session.ClientSession
	Security *security.SecurityContext
	Message  *wire.Message
}

// Handler runs business logic for requests it claims via CanHandle.
type Handler interface {
	Name() string
	Priority() int
	CanHandle(ctx *Context) bool
	Handle(ctx *Context) (response []byte, err error)
	Conversational() bool
}

// Registry holds handlers sorted by descending priority; the first whose
// CanHandle returns true wins (spec.md §4.11 "Handler selection").
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Add registers h and keeps the handler list sorted by descending priority.
func (r *Registry) Add(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, h)
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].Priority() > r.handlers[j].Priority()
	})
}

// Select returns the first handler (by descending priority) whose
// CanHandle(ctx) returns true.
func (r *Registry) Select(ctx *Context) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handlers {
		if h.CanHandle(ctx) {
			return h
		}
	}
	return nil
}

// SystemPriority is reserved for the built-in IMS.CONNECT handler, which
// must always be consulted first and bypasses security validation
// (spec.md §4.11).
const SystemPriority = 1 << 30

// SystemHandler answers PING/NOTIFY/ECHO/STATUS system messages addressed
// to the IMS.CONNECT pseudo-destination.
type SystemHandler struct{}

func (SystemHandler) Name() string         { return "IMS.CONNECT" }
func (SystemHandler) Priority() int        { return SystemPriority }
func (SystemHandler) Conversational() bool { return false }

func (SystemHandler) CanHandle(ctx *Context) bool {
	return ctx.Message.IRM.Destination == security.SystemAuthority || ctx.Message.IRM.Destination == "IMS.CONNECT"
}

func (SystemHandler) Handle(ctx *Context) ([]byte, error) {
	switch string(ctx.Message.Payload()) {
	case "PING":
		return []byte("PONG"), nil
	case "NOTIFY":
		return []byte("ACK"), nil
	case "ECHO":
		return ctx.Message.Payload(), nil
	case "STATUS":
		return []byte("OK"), nil
	default:
		return []byte("OK"), nil
	}
}

// SendReceiveResult carries the outcome of a SEND_RECEIVE dispatch, which
// the caller frames with wire.Builder.
type SendReceiveResult struct {
	ClientID      string
	EvictedConnID string
	Response      []byte
	Err           error
}

// Dispatcher wires the registry to the session/security collaborators and
// implements the per-message-type transitions of spec.md §4.11.
type Dispatcher struct {
	Registry *Registry
	Sessions *session.Manager
	Security *security.Validator
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(registry *Registry, sessions *session.Manager, validator *security.Validator) *Dispatcher {
	return &Dispatcher{Registry: registry, Sessions: sessions, Security: validator}
}

// HandleSendReceive authenticates, selects a handler, runs it synchronously,
// and attaches a freshly generated client id if the header requested one
// and the handler did not already set one.
func (d *Dispatcher) HandleSendReceive(ctx *Context) SendReceiveResult {
	h := d.Registry.Select(ctx)
	if h == nil {
		return SendReceiveResult{Err: CodeUnsupportedType.Error(nil)}
	}

	if !isSystemHandler(h) && d.Security != nil && ctx.Security != nil {
		if err := d.Security.ValidateMinimum(ctx.Security, time.Now()); err != nil {
			return SendReceiveResult{Err: err}
		}
	}

	var evicted string
	if claimed := ctx.Message.IRM.ClientID; claimed != "" {
		cancel := ctx.Message.IRM.UserFlags1&wire.UserFlagCancelExistingID != 0
		evictedConnID, err := d.Sessions.ClientIDs.HandleDuplicate(claimed, ctx.ConnID, cancel)
		if err != nil {
			return SendReceiveResult{Err: err}
		}
		if evictedConnID != "" {
			d.Sessions.UnbindClientID(evictedConnID)
			evicted = evictedConnID
		}
		d.Sessions.BindClientID(ctx.ConnID, claimed)
	}

	resp, err := h.Handle(ctx)
	if err != nil {
		return SendReceiveResult{Err: err, EvictedConnID: evicted}
	}

	clientID := ctx.Session.ClientID
	if clientID == "" && ctx.Message.IRM.WantsClientID() {
		clientID = d.Sessions.ClientIDs.Generate()
		_ = d.Sessions.ClientIDs.Register(clientID, ctx.ConnID)
		d.Sessions.BindClientID(ctx.ConnID, clientID)
	}

	return SendReceiveResult{ClientID: clientID, EvictedConnID: evicted, Response: resp}
}

// isSystemHandler reports whether h is the built-in IMS.CONNECT handler and
// so skips the security gate; the toggled variant keeps the gate when its
// require_auth switch is set.
func isSystemHandler(h Handler) bool {
	switch sh := h.(type) {
	case SystemHandler:
		return true
	case toggledSystemHandler:
		return !sh.model.RequireAuth
	}
	return false
}

// HandleSendOnly generates a client id if absent, runs the handler
// asynchronously in its own goroutine, and deposits its result on the
// client's queue; it returns the client id at once so the caller can reply
// with an ACK without waiting for the handler.
func (d *Dispatcher) HandleSendOnly(ctx *Context, deposit func(client string, payload []byte)) string {
	clientID := ctx.Session.ClientID
	if clientID == "" {
		clientID = d.Sessions.ClientIDs.Generate()
		_ = d.Sessions.ClientIDs.Register(clientID, ctx.ConnID)
		d.Sessions.BindClientID(ctx.ConnID, clientID)
	}

	h := d.Registry.Select(ctx)
	go func() {
		var resp []byte
		if h != nil {
			resp, _ = h.Handle(ctx)
		}
		deposit(clientID, resp)
	}()

	return clientID
}

// HandleRecvOnly polls the client's queue without blocking (spec.md §4.11
// RECV_ONLY/RESUME_TPIPE share this non-blocking poll).
func (d *Dispatcher) HandleRecvOnly(clientID string) []byte {
	msg := d.Sessions.Queues.Poll(clientID, 0)
	if msg == nil {
		return nil
	}
	return msg.Payload
}

// HandleAck acks the pending message identified by msgID.
func (d *Dispatcher) HandleAck(msgID string) bool {
	return d.Sessions.Queues.Ack(msgID)
}

// RetainFromCommFlags resolves the NAK retain bit. The wire format names
// no bit explicitly for this; CommFlagSyncNak is reused as the retain
// signal (documented Open Question resolution, spec.md §9).
func RetainFromCommFlags(commFlags byte) bool {
	return commFlags&wire.CommFlagSyncNak != 0
}

// HandleNak resolves a NAK for msgID/clientID using the retain bit read
// from the request's comm flags.
func (d *Dispatcher) HandleNak(msgID, clientID string, commFlags byte) bool {
	return d.Sessions.Queues.Nak(msgID, clientID, RetainFromCommFlags(commFlags))
}

// HandleDeallocate does nothing and returns nothing; building the success
// acknowledgement and closing the transport channel after sending it are
// left to the caller.
func (d *Dispatcher) HandleDeallocate() {}

// HandleCancelTimer cancels every C6 timer owned by clientID.
func (d *Dispatcher) HandleCancelTimer(clientID string) int {
	return d.Sessions.Timeouts.CancelClient(clientID)
}
