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

package config

import (
	"context"

	liberr "github.com/imsconnect/gateway/errors"
	spfvpr "github.com/spf13/viper"
)

// FuncContext returns the shared application context; components must not
// cache the returned value across calls since it is replaced on reload.
type FuncContext func() context.Context

// FuncComponentGet retrieves a sibling component by key, for components
// that declare a Dependencies() entry on it. Returns nil if unknown.
type FuncComponentGet func(key string) Component

// FuncComponentViper exposes the aggregator's bound *viper.Viper instance
// so a component can read its own config section.
type FuncComponentViper func() *spfvpr.Viper

// FuncRouteStatus lets a component publish a liveness/readiness probe that
// the admin component's HTTP surface (SPEC_FULL.md §6 /healthz) can poll.
type FuncRouteStatus func(route string, probe StatusFunc)

// StatusFunc reports a component's health; ok=false fails the aggregate
// /healthz check. detail appears in the /healthz JSON body when every probe
// passes; a failing /healthz response names only the failing routes.
type StatusFunc func() (ok bool, detail string)

// FuncComponentConfigGet decodes the component's viper section into model,
// returning a coded Error on decode failure.
type FuncComponentConfigGet func(model interface{}) liberr.Error
