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

// Package txn tracks the lifecycle of a single in-flight transaction from
// STARTED to its terminal COMPLETED or ABORTED state, and links
// conversational transactions to the conversation manager (spec.md §4.9).
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/conversation"
)

const (
	CodeInvalidTransition liberr.CodeError = liberr.MinPkgTransaction + iota
	CodeHandlerNotFound
	CodeProcessingError
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgTransaction, func(code liberr.CodeError) string {
		switch code {
		case CodeInvalidTransition:
			return "invalid transaction state transition"
		case CodeHandlerNotFound:
			return "no handler registered for transaction code"
		case CodeProcessingError:
			return "transaction handler failed"
		default:
			return liberr.UnknownMessage
		}
	})
}

// MessageType classifies the inbound request (spec.md §3 TransactionState).
type MessageType int

const (
	MessageTransaction MessageType = iota
	MessageConversational
	MessageResponse
	MessageCommand
	MessageStatus
)

// Status is the transaction lifecycle status.
type Status int

const (
	StatusStarted Status = iota
	StatusCompleted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "STARTED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Request is the minimal information the transaction manager needs to
// start a TransactionState; the dispatcher builds one from a decoded wire
// message.
type Request struct {
	Client         string
	TxnCode        string
	LTerm          string
	Conversational bool
	ConvID         uint64 // 0 means "start a new conversation"
	Last           bool
	MessageType    MessageType
	Payload        []byte
}

// State is one in-flight transaction record.
type State struct {
	TxnID           string
	Client          string
	TxnCode         string
	LTerm           string
	MessageType     MessageType
	Conversational  bool
	ConvID          uint64
	Status          Status
	StartTime       time.Time
	EndTime         time.Time
	RequestPayload  []byte
	ResponsePayload []byte
	ErrorMsg        string

	mu sync.Mutex
}

// Result is the outcome of Process.
type Result struct {
	State    *State
	Response []byte
	Err      liberr.Error
}

// Processor runs the business logic for a started transaction and returns
// the response payload (or an error, which aborts the transaction).
type Processor func(*State) ([]byte, error)

// Manager owns the txn-id -> State table and links conversational
// transactions into the conversation manager.
type Manager struct {
	mu    sync.RWMutex
	byTxn map[string]*State
	convs *conversation.Manager
	seq   int64
}

// NewManager wires a transaction Manager against an existing conversation
// manager (nil is acceptable if the caller never starts conversational
// transactions).
func NewManager(convs *conversation.Manager) *Manager {
	return &Manager{
		byTxn: make(map[string]*State),
		convs: convs,
	}
}

func (m *Manager) nextTxnID() string {
	n := atomic.AddInt64(&m.seq, 1)
	return fmt.Sprintf("TXN%d_%d", time.Now().Unix(), n)
}

// Start synthesizes a new STARTED TransactionState for req. Conversational
// requests with ConvID == 0 open a new conversation via C8; otherwise the
// existing conversation is validated and updated.
func (m *Manager) Start(req Request) (*State, liberr.Error) {
	s := &State{
		TxnID:          m.nextTxnID(),
		Client:         req.Client,
		TxnCode:        req.TxnCode,
		LTerm:          req.LTerm,
		MessageType:    req.MessageType,
		Conversational: req.Conversational,
		ConvID:         req.ConvID,
		Status:         StatusStarted,
		StartTime:      time.Now(),
		RequestPayload: req.Payload,
	}

	if req.Conversational && m.convs != nil {
		if req.ConvID == 0 {
			c, err := m.convs.Start(req.Client, req.LTerm, req.TxnCode)
			if err != nil {
				return nil, err
			}
			s.ConvID = c.ConvID
		} else {
			if err := m.convs.Validate(req.ConvID, req.Client, req.LTerm); err != nil {
				return nil, err
			}
			if _, err := m.convs.Update(req.ConvID, string(req.Payload), req.Last); err != nil {
				return nil, err
			}
		}
	}

	m.mu.Lock()
	m.byTxn[s.TxnID] = s
	m.mu.Unlock()

	return s, nil
}

// Complete transitions a STARTED transaction to COMPLETED. If the
// transaction is conversational and req.Last is set, the linked
// conversation is ended via C8.
func (m *Manager) Complete(txnID string, response []byte, last bool) liberr.Error {
	m.mu.RLock()
	s, ok := m.byTxn[txnID]
	m.mu.RUnlock()
	if !ok {
		return CodeInvalidTransition.Error(nil)
	}

	s.mu.Lock()
	if s.Status != StatusStarted {
		s.mu.Unlock()
		return CodeInvalidTransition.Error(nil)
	}
	s.Status = StatusCompleted
	s.EndTime = time.Now()
	s.ResponsePayload = response
	convID := s.ConvID
	conversational := s.Conversational
	s.mu.Unlock()

	if conversational && last && m.convs != nil {
		_ = m.convs.End(convID)
	}

	return nil
}

// Abort transitions a STARTED transaction to ABORTED, recording reason and
// aborting the linked conversation (if any).
func (m *Manager) Abort(txnID, reason string) liberr.Error {
	m.mu.RLock()
	s, ok := m.byTxn[txnID]
	m.mu.RUnlock()
	if !ok {
		return CodeInvalidTransition.Error(nil)
	}

	s.mu.Lock()
	if s.Status != StatusStarted {
		s.mu.Unlock()
		return CodeInvalidTransition.Error(nil)
	}
	s.Status = StatusAborted
	s.EndTime = time.Now()
	s.ErrorMsg = reason
	convID := s.ConvID
	conversational := s.Conversational
	s.mu.Unlock()

	if conversational && m.convs != nil {
		_ = m.convs.Abort(convID, reason)
	}

	return nil
}

// Get returns the tracked state for txnID.
func (m *Manager) Get(txnID string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byTxn[txnID]
	return s, ok
}

// Process is the start/run/complete-or-abort envelope (spec.md §4.9). A
// processor error aborts the transaction with CodeProcessingError as
// parent; a processor success completes it with the returned payload.
func (m *Manager) Process(req Request, run Processor) Result {
	s, err := m.Start(req)
	if err != nil {
		return Result{Err: err}
	}

	resp, procErr := run(s)
	if procErr != nil {
		abortErr := CodeProcessingError.Error(procErr)
		_ = m.Abort(s.TxnID, abortErr.Error())
		return Result{State: s, Err: abortErr}
	}

	if completeErr := m.Complete(s.TxnID, resp, req.Last); completeErr != nil {
		return Result{State: s, Response: resp, Err: completeErr}
	}

	return Result{State: s, Response: resp}
}
