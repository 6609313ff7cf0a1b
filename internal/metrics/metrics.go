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

// Package metrics exposes the Prometheus gauges/counters named in
// SPEC_FULL.md §4.17 (A5): active connections, registered client ids,
// per-client queue depth samples, conversation counts by status,
// transaction timeout firings, pool acquire latency, and backend health.
// Grounded on the teacher's prometheus registry shape (a package-level
// collector set registered once, read by every subsystem through package
// functions instead of a threaded-through struct) since no example repo in
// the pack wraps client_golang with a custom abstraction of its own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "active_connections",
		Help:      "Number of currently open client TCP connections.",
	})

	RegisteredClientIDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "registered_client_ids",
		Help:      "Number of client ids currently registered (C4).",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "queue_depth",
		Help:      "Sampled per-client message queue depth (C5).",
	}, []string{"client"})

	ConversationsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "conversations",
		Help:      "Number of conversations currently in each status (C8).",
	}, []string{"status"})

	TimeoutFirings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "transaction_timeout_firings_total",
		Help:      "Count of transaction timeouts that fired (C6).",
	})

	DispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imsconnect",
		Subsystem: "gateway",
		Name:      "dispatch_outcomes_total",
		Help:      "Dispatcher outcomes by message type and result (C11).",
	}, []string{"msg_type", "result"})

	PoolAcquireLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imsconnect",
		Subsystem: "pool",
		Name:      "acquire_latency_seconds",
		Help:      "Latency of backend pool Acquire calls (C12).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	BackendHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "imsconnect",
		Subsystem: "pool",
		Name:      "backend_healthy",
		Help:      "1 if the backend's sub-pool has at least one valid connection available, else 0.",
	}, []string{"backend"})
)

// Registry is the collector set the admin component's /metrics endpoint
// exposes; registration happens once via Register.
var Registry = prometheus.NewRegistry()

var registered bool

// Register adds every collector above to Registry. Safe to call multiple
// times; only the first call has an effect.
func Register() {
	if registered {
		return
	}
	registered = true

	Registry.MustRegister(
		ActiveConnections,
		RegisteredClientIDs,
		QueueDepth,
		ConversationsByStatus,
		TimeoutFirings,
		DispatchOutcomes,
		PoolAcquireLatency,
		BackendHealthy,
	)
}
