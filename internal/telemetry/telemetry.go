// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package telemetry owns the process-wide counters and latency reservoir
// the Router feeds (spec §4.5) and renders them in the Prometheus text
// exposition format (spec §6).
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
)

const reservoirSize = 1000

// Telemetry is passed explicitly to the Router and Supervisor rather than
// used as a process-wide singleton (spec §9 design note:
// the source used global singletons, this is a redesign-only change).
type Telemetry struct {
	mqttReceived uint64
	mqttSent     uint64
	zmqReceived  uint64
	zmqSent      uint64
	errors       uint64

	startTime atomic.Int64 // unix nanoseconds

	mu        sync.Mutex
	reservoir []time.Duration
	nextSlot  int
	filled    bool

	rateCache *gocache.Cache
}

// New constructs a Telemetry handle with a fresh latency reservoir and
// rate cache. Reset is not called implicitly; callers (the
// Supervisor, on start()) call Reset explicitly per spec §6.
func New() *Telemetry {
	return &Telemetry{
		reservoir: make([]time.Duration, reservoirSize),
		rateCache: gocache.New(900*time.Millisecond, time.Minute),
	}
}

// Reset zeroes the cumulative counters and records a new start time,
// per spec §4.4 start().
func (t *Telemetry) Reset() {
	atomic.StoreUint64(&t.mqttReceived, 0)
	atomic.StoreUint64(&t.mqttSent, 0)
	atomic.StoreUint64(&t.zmqReceived, 0)
	atomic.StoreUint64(&t.zmqSent, 0)
	atomic.StoreUint64(&t.errors, 0)
	t.startTime.Store(time.Now().UnixNano())

	t.mu.Lock()
	t.nextSlot = 0
	t.filled = false
	t.mu.Unlock()

	t.rateCache.Flush()
}

func (t *Telemetry) StartTime() time.Time {
	ns := t.startTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *Telemetry) Uptime() time.Duration {
	start := t.StartTime()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// IncMqttReceived etc. are relaxed atomic adds (spec §4.5, §5(b)).
func (t *Telemetry) IncMqttReceived() { atomic.AddUint64(&t.mqttReceived, 1) }
func (t *Telemetry) IncMqttSent()     { atomic.AddUint64(&t.mqttSent, 1) }
func (t *Telemetry) IncZmqReceived()  { atomic.AddUint64(&t.zmqReceived, 1) }
func (t *Telemetry) IncZmqSent()      { atomic.AddUint64(&t.zmqSent, 1) }
func (t *Telemetry) IncErrors()       { atomic.AddUint64(&t.errors, 1) }

// RecordLatency stores one sample into the bounded ring of the last N
// samples (spec §4.5).
func (t *Telemetry) RecordLatency(d time.Duration) {
	t.mu.Lock()
	t.reservoir[t.nextSlot] = d
	t.nextSlot++
	if t.nextSlot == reservoirSize {
		t.nextSlot = 0
		t.filled = true
	}
	t.mu.Unlock()
}

// Snapshot is the cumulative + derived view returned by stats() (spec §3,
// §4.4, §6).
type Snapshot struct {
	MqttReceived      uint64
	MqttSent          uint64
	ZmqReceived       uint64
	ZmqSent           uint64
	Errors            uint64
	MessagesPerSecond float64
	AvgLatencyMs      float64
	QueueDepth        int
	P50Ms, P95Ms, P99Ms float64
}

// derived holds the fields of Snapshot that are expensive to recompute
// (the reservoir sort) and don't change meaningfully within a
// sub-second window; rateCacheKey memoizes them for the 900ms TTL New
// gives rateCache so a
// burst of concurrent /metrics scrapes shares one sort instead of each
// re-sorting the reservoir.
type derived struct {
	messagesPerSecond float64
	avgLatencyMs      float64
	p50, p95, p99     float64
}

const rateCacheKey = "derived"

// Stats computes the derived values per-query from the recorded start
// time (spec §3). queueDepth is supplied by the caller (the Router knows
// the inbound channel's current length; Telemetry does not).
func (t *Telemetry) Stats(queueDepth int) Snapshot {
	s := Snapshot{
		MqttReceived: atomic.LoadUint64(&t.mqttReceived),
		MqttSent:     atomic.LoadUint64(&t.mqttSent),
		ZmqReceived:  atomic.LoadUint64(&t.zmqReceived),
		ZmqSent:      atomic.LoadUint64(&t.zmqSent),
		Errors:       atomic.LoadUint64(&t.errors),
		QueueDepth:   queueDepth,
	}

	d := t.derivedCached(s.MqttReceived + s.ZmqReceived)
	s.MessagesPerSecond = d.messagesPerSecond
	s.AvgLatencyMs = d.avgLatencyMs
	s.P50Ms, s.P95Ms, s.P99Ms = d.p50, d.p95, d.p99

	return s
}

func (t *Telemetry) derivedCached(total uint64) derived {
	if cached, ok := t.rateCache.Get(rateCacheKey); ok {
		return cached.(derived)
	}

	var d derived
	uptime := t.Uptime().Seconds()
	if uptime > 0 {
		d.messagesPerSecond = float64(total) / uptime
	}

	samples := t.samples()
	if len(samples) > 0 {
		var sum time.Duration
		for _, s := range samples {
			sum += s
		}
		d.avgLatencyMs = msFromDuration(sum) / float64(len(samples))

		sorted := append([]time.Duration(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		d.p50 = msFromDuration(percentile(sorted, 0.50))
		d.p95 = msFromDuration(percentile(sorted, 0.95))
		d.p99 = msFromDuration(percentile(sorted, 0.99))
	}

	t.rateCache.SetDefault(rateCacheKey, d)
	return d
}

func (t *Telemetry) samples() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.filled {
		out := make([]time.Duration, t.nextSlot)
		copy(out, t.reservoir[:t.nextSlot])
		return out
	}
	out := make([]time.Duration, reservoirSize)
	copy(out, t.reservoir)
	return out
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func msFromDuration(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// latencyLabels builds the {quantile="..."} label set using
// prometheus.Labels so the rendered line shape matches the ecosystem's own
// type, even though the text itself is hand-rendered to match the exact
// metric names spec §6 pins down.
func latencyLabels(quantile string) prometheus.Labels {
	return prometheus.Labels{"quantile": quantile}
}

func formatLabels(l prometheus.Labels) string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l))
	for k, v := range l {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, v))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
