// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestCountersMonotonic(t *testing.T) {
	tel := New()
	tel.Reset()

	tel.IncMqttReceived()
	tel.IncMqttReceived()
	tel.IncZmqSent()
	tel.IncErrors()

	s := tel.Stats(0)
	if s.MqttReceived != 2 {
		t.Fatalf("MqttReceived = %d, want 2", s.MqttReceived)
	}
	if s.ZmqSent != 1 {
		t.Fatalf("ZmqSent = %d, want 1", s.ZmqSent)
	}
	if s.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", s.Errors)
	}
}

func TestResetZeroesCounters(t *testing.T) {
	tel := New()
	tel.Reset()
	tel.IncMqttReceived()

	tel.Reset()
	s := tel.Stats(0)
	if s.MqttReceived != 0 {
		t.Fatalf("MqttReceived after Reset = %d, want 0", s.MqttReceived)
	}
}

func TestLatencyPercentilesOrdered(t *testing.T) {
	tel := New()
	tel.Reset()

	for i := 1; i <= 100; i++ {
		tel.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	s := tel.Stats(0)
	if !(s.P50Ms <= s.P95Ms && s.P95Ms <= s.P99Ms) {
		t.Fatalf("expected p50 <= p95 <= p99, got %v %v %v", s.P50Ms, s.P95Ms, s.P99Ms)
	}
}

func TestRenderIncludesStableMetricNames(t *testing.T) {
	tel := New()
	tel.Reset()
	tel.IncMqttReceived()

	out := tel.Render(3)

	for _, name := range []string{
		"bridge_mqtt_messages_received_total",
		"bridge_mqtt_messages_sent_total",
		"bridge_zmq_messages_received_total",
		"bridge_zmq_messages_sent_total",
		"bridge_errors_total",
		"bridge_uptime_seconds",
		"bridge_messages_forwarded_total",
		"bridge_latency_milliseconds",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("rendered output missing metric %q", name)
		}
	}

	if !strings.Contains(out, `quantile="0.5"`) {
		t.Error("rendered output missing p50 quantile label")
	}
}
