// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	commonmodel "github.com/prometheus/common/model"
)

// ContentType is the exact value spec §6 requires GET /metrics to return.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Render emits the standard scrape format with # HELP / # TYPE lines per
// counter, the stable names pinned by spec §6, and a "summary" for latency
// with {quantile="..."} labels.
func (t *Telemetry) Render(queueDepth int) string {
	s := t.Stats(queueDepth)

	var b strings.Builder

	counter := func(name, help string, value uint64) {
		mustBeValidMetricName(name)
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, value)
	}

	gauge := func(name, help string, value float64) {
		mustBeValidMetricName(name)
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&b, "%s %s\n", name, strconv.FormatFloat(value, 'f', -1, 64))
	}

	counter("bridge_mqtt_messages_received_total", "Total MQTT messages received by endpoint workers.", s.MqttReceived)
	counter("bridge_mqtt_messages_sent_total", "Total MQTT messages published by endpoint workers.", s.MqttSent)
	counter("bridge_zmq_messages_received_total", "Total ZeroMQ frames received by endpoint workers.", s.ZmqReceived)
	counter("bridge_zmq_messages_sent_total", "Total ZeroMQ frames published by endpoint workers.", s.ZmqSent)
	counter("bridge_errors_total", "Total dispatch/transport errors recorded.", s.Errors)
	counter("bridge_messages_forwarded_total", "Total successful publishes to target endpoints (MQTT plus ZeroMQ sends).", s.MqttSent+s.ZmqSent)

	gauge("bridge_uptime_seconds", "Seconds since the bridge last transitioned to Running.", t.Uptime().Seconds())

	fmt.Fprintf(&b, "# HELP bridge_latency_milliseconds Router forwarding latency, source arrival to dispatch.\n")
	fmt.Fprintf(&b, "# TYPE bridge_latency_milliseconds summary\n")
	for _, q := range []struct {
		label string
		value float64
	}{
		{"0.5", s.P50Ms},
		{"0.95", s.P95Ms},
		{"0.99", s.P99Ms},
	} {
		labels := formatLabels(latencyLabels(q.label))
		fmt.Fprintf(&b, "bridge_latency_milliseconds%s %s\n", labels, strconv.FormatFloat(q.value, 'f', -1, 64))
	}

	return b.String()
}

// mustBeValidMetricName panics if name is not a legal Prometheus metric
// name; every name passed to counter/gauge above is a compile-time
// constant, so this is a guard against a future typo rather than a
// runtime input check.
func mustBeValidMetricName(name string) {
	if !commonmodel.IsValidMetricName(commonmodel.LabelValue(name)) {
		panic(fmt.Sprintf("telemetry: invalid metric name %q", name))
	}
}
