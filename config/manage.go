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

// Package config implements the component framework SPEC_FULL.md §4.13
// describes (A1), grounded on the teacher's config/component.go,
// config/model.go, config/manage.go idiom: every long-lived subsystem
// (server, pool, security, otma, system) is a Component with
// Init/Start/Reload/Stop/Dependencies, and Manage starts/stops the full set
// in dependency order.
package config

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	liberr "github.com/imsconnect/gateway/errors"
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

const (
	CodeCycle liberr.CodeError = liberr.MinPkgConfig + iota
	CodeDecode
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgConfig, func(code liberr.CodeError) string {
		switch code {
		case CodeCycle:
			return "component dependency cycle detected"
		case CodeDecode:
			return "component config section could not be decoded"
		default:
			return liberr.UnknownMessage
		}
	})
}

// Manage aggregates every registered Component, wires their Init
// collaborators, and drives Start/Reload/Stop in dependency order
// (dependencies start first, stop last).
type Manage struct {
	mu    sync.RWMutex
	ctx   context.Context
	vpr   *spfvpr.Viper
	cpts  map[string]Component
	order []string
	probe map[string]StatusFunc
}

// NewManage returns an empty aggregator bound to ctx and vpr.
func NewManage(ctx context.Context, vpr *spfvpr.Viper) *Manage {
	if vpr == nil {
		vpr = spfvpr.New()
	}
	return &Manage{
		ctx:   ctx,
		vpr:   vpr,
		cpts:  make(map[string]Component),
		probe: make(map[string]StatusFunc),
	}
}

// Add registers cpt under key and calls its Init with the aggregator's
// collaborator functions.
func (m *Manage) Add(key string, cpt Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cpts[key] = cpt
	cpt.Init(
		key,
		func() context.Context { return m.ctx },
		m.get,
		func() *spfvpr.Viper { return m.vpr },
		func(route string, probe StatusFunc) {
			m.mu.Lock()
			m.probe[route] = probe
			m.mu.Unlock()
		},
	)
}

func (m *Manage) get(key string) Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpts[key]
}

// Get returns the registered component for key, or nil.
func (m *Manage) Get(key string) Component { return m.get(key) }

// Viper returns the aggregator's bound viper instance.
func (m *Manage) Viper() *spfvpr.Viper { return m.vpr }

// Probes returns a snapshot of every registered health probe, keyed by
// route, for the admin component's /healthz surface.
func (m *Manage) Probes() map[string]StatusFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]StatusFunc, len(m.probe))
	for k, v := range m.probe {
		out[k] = v
	}
	return out
}

// startOrder topologically sorts registered components by Dependencies(),
// dependencies first. Returns CodeCycle if the graph isn't a DAG.
func (m *Manage) startOrder() ([]string, liberr.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int, len(m.cpts))
	var order []string

	var visit func(key string) liberr.Error
	visit = func(key string) liberr.Error {
		switch color[key] {
		case black:
			return nil
		case grey:
			return CodeCycle.Error(fmt.Errorf("component %q", key))
		}
		color[key] = grey

		cpt, ok := m.cpts[key]
		if ok {
			for _, dep := range cpt.Dependencies() {
				if _, exists := m.cpts[dep]; !exists {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		color[key] = black
		order = append(order, key)
		return nil
	}

	for key := range m.cpts {
		if err := visit(key); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// Start runs every component's Start in dependency order, aborting and
// returning the first error encountered (later components are not
// started).
func (m *Manage) Start() liberr.Error {
	order, err := m.startOrder()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.order = order
	m.mu.Unlock()

	for _, key := range order {
		cpt := m.get(key)
		if cpt == nil {
			continue
		}
		if err := cpt.Start(m.configGetFor(key)); err != nil {
			return err
		}
	}
	return nil
}

// Reload runs every component's Reload in the same order Start used.
func (m *Manage) Reload() liberr.Error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, key := range order {
		cpt := m.get(key)
		if cpt == nil {
			continue
		}
		if err := cpt.Reload(m.configGetFor(key)); err != nil {
			return err
		}
	}
	return nil
}

// Stop runs every component's Stop in reverse start order so a component is
// always stopped before the dependency it relies on.
func (m *Manage) Stop() {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		if cpt := m.get(order[i]); cpt != nil {
			cpt.Stop()
		}
	}
}

// configGetFor returns the FuncComponentConfigGet a component's Start/Reload
// uses to decode its own viper section (key.<subkey>) into a model struct.
func (m *Manage) configGetFor(key string) FuncComponentConfigGet {
	return func(model interface{}) liberr.Error {
		sub := m.vpr.Sub(key)
		if sub == nil {
			return nil
		}
		if e := sub.Unmarshal(model); e != nil {
			return CodeDecode.Error(e)
		}
		return nil
	}
}

// IsStarted reports whether every registered component has started.
func (m *Manage) IsStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cpt := range m.cpts {
		if !cpt.IsStarted() {
			return false
		}
	}
	return true
}

// IsRunning reports component liveness; atLeast=true succeeds if any
// component is running, false requires all of them to be.
func (m *Manage) IsRunning(atLeast bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.cpts) == 0 {
		return !atLeast
	}

	for _, cpt := range m.cpts {
		r := cpt.IsRunning(atLeast)
		if atLeast && r {
			return true
		}
		if !atLeast && !r {
			return false
		}
	}
	return !atLeast
}

// GetDefault renders the concatenated default JSON config of every
// registered component, one top-level key per component, for the cobra
// "configure" subcommand (spec.md §6 configuration surface).
func (m *Manage) GetDefault(indent string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf := bytes.NewBufferString("{\n")
	first := true
	for key, cpt := range m.cpts {
		if !first {
			buf.WriteString(",\n")
		}
		first = false
		fmt.Fprintf(buf, "%s\"%s\": %s", indent, key, cpt.DefaultConfig(indent))
	}
	buf.WriteString("\n}\n")
	return buf.Bytes()
}

// RegisterFlags registers every component's cobra flags against cmd, bound
// to the aggregator's viper instance.
func (m *Manage) RegisterFlags(cmd *spfcbr.Command) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cpt := range m.cpts {
		if err := cpt.RegisterFlag(cmd, m.vpr); err != nil {
			return err
		}
	}
	return nil
}
