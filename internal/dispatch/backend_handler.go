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
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/imsconnect/gateway/internal/backend"
)

// BackendPriority is below every named transaction handler and the system
// handler, but above nothing else: it is the catch-all that forwards any
// transaction code no registered Handler claimed to a pooled backend
// connection (spec.md §4.12 "the frontend transaction fails with return
// code 503-equivalent" when no backend is reachable).
const BackendPriority = -(1 << 30)

// BackendHandler forwards a request's payload to a backend IMS system
// selected from Pool and relays its length-prefixed reply. It is registered
// last so every more specific Handler gets first refusal.
type BackendHandler struct {
	Pool           *backend.Pool
	AcquireTimeout time.Duration
	ReplyTimeout   time.Duration
}

func (h *BackendHandler) Name() string          { return "BACKEND" }
func (h *BackendHandler) Priority() int         { return BackendPriority }
func (h *BackendHandler) Conversational() bool  { return false }
func (h *BackendHandler) CanHandle(_ *Context) bool { return true }

// Handle writes a 4-byte big-endian length prefix followed by the request
// payload, then reads a like-framed reply. This is the gateway's own
// internal backend wire shape, independent of the IMS Connect framing used
// on the client-facing side.
func (h *BackendHandler) Handle(ctx *Context) ([]byte, error) {
	conn, lerr := h.Pool.Acquire(h.AcquireTimeout)
	if lerr != nil {
		return nil, lerr
	}
	defer h.Pool.Release(conn)

	if h.ReplyTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(h.ReplyTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	payload := ctx.Message.Payload()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}

	r := bufio.NewReader(conn)
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	resp := make([]byte, n)
	if _, err := io.ReadFull(r, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
