// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package router implements the single fan-in/fan-out consumer of spec
// §4.3: it drains the shared inbound queue, consults the Mapping Cache,
// and dispatches Publish commands to the right worker.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cider/zeromqtt-bridge/internal/blog"
	"github.com/cider/zeromqtt-bridge/internal/bridgeerr"
	"github.com/cider/zeromqtt-bridge/internal/mapcache"
	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/store"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
	"github.com/cider/zeromqtt-bridge/internal/topic"
)

// Targets is the command-channel registry keyed by target endpoint,
// installed by the supervisor at start() when it builds the Router
// (spec §4.4 "Installs command-channel map (kind, id) -> cmd_sender").
type Targets map[model.EndpointRef]chan<- model.OutboundCommand

// Router is the single consumer of the inbound queue (spec §4.3).
type Router struct {
	inbound <-chan model.ForwardMessage
	cache   *mapcache.Cache
	tel     *telemetry.Telemetry
	store   store.ConfigStore
	targets atomic.Value // Targets
}

// New builds a Router reading from inbound, consulting cache, and
// dispatching to targets. Every counter it touches on Telemetry is also
// persisted through cs.IncrementStats (spec §6's store.increment_stats),
// since the Router is the one place ingress/egress decisions are made.
func New(inbound <-chan model.ForwardMessage, cache *mapcache.Cache, tel *telemetry.Telemetry, cs store.ConfigStore, targets Targets) *Router {
	r := &Router{inbound: inbound, cache: cache, tel: tel, store: cs}
	r.targets.Store(targets)
	return r
}

// SetTargets atomically replaces the command-channel registry installed by
// New. A dispatch already in progress keeps the registry it loaded.
func (r *Router) SetTargets(targets Targets) {
	r.targets.Store(targets)
}

// QueueDepth reports the inbound channel's current backlog, fed into
// Telemetry.Stats (spec §3 MessageStats.queue_depth).
func (r *Router) QueueDepth() int {
	return len(r.inbound)
}

// Run drains inbound until ctx is cancelled or the channel is closed
// (spec §5: the Router exits once nothing can send on inbound).
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.inbound:
			if !ok {
				return
			}
			r.dispatch(msg)
		}
	}
}

// dispatch implements spec §4.3 steps 1-4 for a single message.
func (r *Router) dispatch(msg model.ForwardMessage) {
	switch msg.SourceKind {
	case model.KindMQTT:
		r.tel.IncMqttReceived()
		r.bumpStore(1, 0, 0, 0, 0)
	case model.KindZMQ:
		r.tel.IncZmqReceived()
		r.bumpStore(0, 0, 1, 0, 0)
	}

	snap := r.cache.Load()
	mappings := snap.BySource(msg.SourceRef())
	if len(mappings) == 0 {
		return
	}

	targets, _ := r.targets.Load().(Targets)

	dispatched := false
	for _, m := range mappings {
		if !m.Enabled {
			continue
		}
		if !topic.Match(m.SourceTopic, msg.Topic) {
			continue
		}

		target := m.TargetRef()
		ch, ok := targets[target]
		if !ok {
			r.tel.IncErrors()
			r.bumpStore(0, 0, 0, 0, 1)
			blog.Warnf("router: %v", bridgeerr.New("Router.dispatch", bridgeerr.KindUnknownTarget, nil))
			continue
		}

		targetTopic := topic.Apply(m.SourceTopic, m.TargetTopic, msg.Topic)
		payload := append([]byte(nil), msg.Payload...)

		// Blocking send is the intended flow-control path (spec §4.3 step
		// 3, §5 backpressure); a worker's command channel is only ever
		// installed here while that worker's Run loop is alive to drain it.
		ch <- model.OutboundCommand{Kind: model.CmdPublish, Topic: targetTopic, Payload: payload}
		dispatched = true

		switch target.Kind {
		case model.KindMQTT:
			r.bumpStore(0, 1, 0, 0, 0)
		case model.KindZMQ:
			r.bumpStore(0, 0, 0, 1, 0)
		}
	}

	if dispatched {
		r.tel.RecordLatency(time.Duration(time.Now().UnixNano() - msg.ArrivalMono))
	}
}

// bumpStore mirrors a Telemetry counter update into the persistence layer
// (spec §6 increment_stats). A failure here is logged, not fatal to
// dispatch: the in-process Telemetry counters remain authoritative for the
// live /metrics and /api/stats surfaces.
func (r *Router) bumpStore(mqttRx, mqttTx, zmqRx, zmqTx, errs uint64) {
	if err := r.store.IncrementStats(mqttRx, mqttTx, zmqRx, zmqTx, errs); err != nil {
		blog.Warnf("router: increment_stats: %v", err)
	}
}
