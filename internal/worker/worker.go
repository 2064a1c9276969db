// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package worker implements the Endpoint Worker model of spec §4.2: one
// worker per enabled endpoint, owning its socket/client exclusively,
// producing ForwardMessage onto the shared inbound queue and consuming
// OutboundCommand from its own command queue.
//
// The worker Run method plays the role of the teacher's broker.Endpoint
// interface (ListenAndServe/Close in Godeps/.../meekod/broker/endpoint.go):
// it blocks until told to stop, via ctx, rather than a separate Close call.
package worker

import (
	"context"
	"time"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

// Worker is the common surface the Router and Supervisor see regardless of
// transport (spec §4.2, §9 "the Router cannot tell which kind it is
// serving except for the Subscribe command").
type Worker interface {
	// Ref identifies this worker's endpoint.
	Ref() model.EndpointRef

	// Run owns the socket/client for the lifetime of the call. It blocks
	// until ctx is cancelled, then disconnects cleanly and returns nil; a
	// setup failure it cannot retry (ZeroMQ socket, bind or connect) makes
	// it return that error at once.
	Run(ctx context.Context) error

	// Cmd is this worker's command queue (Publish always, Subscribe for
	// MQTT workers only -- ZeroMQ workers accept and ignore Subscribe).
	Cmd() chan<- model.OutboundCommand

	// Status reports the worker's current liveness summary for
	// Supervisor.Status (spec §4.4).
	Status() model.EndpointStatus
}

// cmdQueueSize bounds every worker's command channel; the Router blocks on
// send when it is full (spec §5 backpressure).
const cmdQueueSize = 64

// backoff implements the MQTT reconnect policy of spec §4.2.1: initial 1s,
// capped at 30s, doubling each attempt. ZeroMQ workers use the endpoint's
// own ReconnectIntervalMs (zmq reconnects are handled by libzmq itself once
// connected, so this backoff is MQTT-only).
type backoff struct {
	cur time.Duration
}

const (
	backoffInitial = time.Second
	backoffCap     = 30 * time.Second
)

func newBackoff() *backoff { return &backoff{cur: backoffInitial} }

func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > backoffCap {
		b.cur = backoffCap
	}
	return d
}

func (b *backoff) reset() { b.cur = backoffInitial }
