// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package bridge implements the Bridge Supervisor of spec §4.4: the
// top-level lifecycle (start/stop/restart/reload_mappings) that spawns
// Endpoint Workers, wires the command-channel registry into the Router,
// and reports aggregate status, grounded on the teacher's
// master.BuildMaster Listen/Terminate/Wait shape and the meekod
// supervisor's termCh/termAckCh handshake (see DESIGN.md).
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cider/zeromqtt-bridge/internal/blog"
	"github.com/cider/zeromqtt-bridge/internal/bridgeerr"
	"github.com/cider/zeromqtt-bridge/internal/mapcache"
	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/router"
	"github.com/cider/zeromqtt-bridge/internal/store"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
	"github.com/cider/zeromqtt-bridge/internal/worker"
)

// BuildVersion is stamped at link time (-ldflags) the way the teacher's
// build/ packages version their binaries; it defaults to "dev" so the
// zero value is still useful in tests (SPEC_FULL §4, spec §6 Status()).
var BuildVersion = "dev"

// defaultStopTimeout bounds how long Stop waits for worker goroutines to
// return after ctx cancellation before giving up (spec §4.4 stop(),
// grounded on the meekod supervisor's TerminationTimeout).
const defaultStopTimeout = 5 * time.Second

// defaultRestartDelay is the settling pause restart() inserts between
// stop() and start() (spec §4.4 restart(), "TIME_WAIT settling").
const defaultRestartDelay = 500 * time.Millisecond

// Options configures a Supervisor beyond the teacher's zero-config
// master.New; SPEC_FULL §4 makes these tunable instead of hard-coded.
type Options struct {
	StopTimeout      time.Duration
	RestartDelay     time.Duration
	InboundQueueSize int
}

func (o Options) withDefaults() Options {
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = defaultRestartDelay
	}
	if o.InboundQueueSize <= 0 {
		o.InboundQueueSize = 1000
	}
	return o
}

// runningEndpoint pairs a live worker with the goroutine-exit signal its
// Run call will close, so Stop can wait for every worker to actually
// finish before reporting StateStopped.
type runningEndpoint struct {
	w    worker.Worker
	done chan struct{}
}

// Supervisor is the Bridge Supervisor of spec §4.4. The zero value is not
// usable; construct with New.
type Supervisor struct {
	store store.ConfigStore
	tel   *telemetry.Telemetry
	opts  Options

	mu       sync.Mutex
	state    model.BridgeState
	cancel   context.CancelFunc
	endpoint map[model.EndpointRef]*runningEndpoint
	cache    *mapcache.Cache
	rt       *router.Router
	lastErr  error
}

// New builds a Supervisor in StateStopped, ready for Start.
func New(cs store.ConfigStore, tel *telemetry.Telemetry, opts Options) *Supervisor {
	return &Supervisor{
		store:    cs,
		tel:      tel,
		opts:     opts.withDefaults(),
		state:    model.StateStopped,
		endpoint: make(map[model.EndpointRef]*runningEndpoint),
	}
}

// State reports the current lifecycle state (spec §3 BridgeState).
func (s *Supervisor) State() model.BridgeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start loads endpoints and mappings from the store, spawns one worker
// per enabled endpoint, wires the command-channel registry, and starts
// the Router (spec §4.4 start()). Calling Start while already running or
// connecting changes nothing and returns a KindSupervisorState error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == model.StateRunning || s.state == model.StateConnecting {
		s.mu.Unlock()
		return bridgeerr.New("Supervisor.Start", bridgeerr.KindSupervisorState, nil)
	}
	s.state = model.StateConnecting
	s.mu.Unlock()

	mqttCfgs, err := s.store.ListMqttEndpoints()
	if err != nil {
		return s.fail(fmt.Errorf("bridge: list mqtt endpoints: %w", err))
	}
	zmqCfgs, err := s.store.ListZmqEndpoints()
	if err != nil {
		return s.fail(fmt.Errorf("bridge: list zmq endpoints: %w", err))
	}
	mappings, err := s.store.ListMappings()
	if err != nil {
		return s.fail(fmt.Errorf("bridge: list mappings: %w", err))
	}

	s.tel.Reset()
	_ = s.store.ResetStats()

	cache := mapcache.New(mappings)
	inbound := make(chan model.ForwardMessage, s.opts.InboundQueueSize)
	targets := router.Targets{}
	endpoints := make(map[model.EndpointRef]*runningEndpoint)

	runCtx, cancel := context.WithCancel(context.Background())

	for _, cfg := range mqttCfgs {
		if !cfg.Enabled {
			continue
		}
		initial := cache.SubscriptionSet(cfg.Ref())
		w := worker.NewMqttWorker(cfg, inbound, initial, s.tel)
		targets[cfg.Ref()] = w.Cmd()
		endpoints[cfg.Ref()] = spawn(runCtx, w)
	}
	for _, cfg := range zmqCfgs {
		if !cfg.Enabled {
			continue
		}
		w := worker.NewZmqWorker(cfg, inbound, s.tel)
		targets[cfg.Ref()] = w.Cmd()
		endpoints[cfg.Ref()] = spawn(runCtx, w)
	}

	rt := router.New(inbound, cache, s.tel, s.store, targets)
	go rt.Run(runCtx)

	s.mu.Lock()
	s.cancel = cancel
	s.endpoint = endpoints
	s.cache = cache
	s.rt = rt
	s.state = model.StateRunning
	s.lastErr = nil
	s.mu.Unlock()

	blog.Infof("bridge: started with %d mqtt, %d zmq endpoints, %d mappings", len(mqttCfgs), len(zmqCfgs), len(mappings))
	return nil
}

func spawn(ctx context.Context, w worker.Worker) *runningEndpoint {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			blog.Warnf("bridge: endpoint %s exited: %v", w.Ref(), err)
		}
	}()
	return &runningEndpoint{w: w, done: done}
}

func (s *Supervisor) fail(err error) error {
	s.mu.Lock()
	s.state = model.StateError
	s.lastErr = err
	s.mu.Unlock()
	blog.Errorf("bridge: %v", err)
	return err
}

// Stop cancels every worker's context and waits up to StopTimeout for
// them to return, then transitions to StateStopped (spec §4.4 stop()).
// It returns the state the supervisor was in before the call, so a
// caller can tell an idempotent no-op (already StateStopped) from a
// real transition (SPEC_FULL §4 "idempotent stop returning previous
// state").
func (s *Supervisor) Stop() (model.BridgeState, error) {
	s.mu.Lock()
	previous := s.state
	if s.state == model.StateStopped {
		s.mu.Unlock()
		return previous, nil
	}
	cancel := s.cancel
	endpoints := s.endpoint
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// A single shared time.After channel would only ever fire once across
	// the whole loop, leaving every endpoint after the first unbounded; use
	// a context deadline instead, whose Done() channel stays readable.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer waitCancel()
	for ref, ep := range endpoints {
		select {
		case <-ep.done:
		case <-waitCtx.Done():
			blog.Warnf("bridge: endpoint %s did not stop within %s", ref, s.opts.StopTimeout)
		}
	}

	s.mu.Lock()
	s.state = model.StateStopped
	s.endpoint = make(map[model.EndpointRef]*runningEndpoint)
	s.cancel = nil
	s.mu.Unlock()

	blog.Infof("bridge: stopped")
	return previous, nil
}

// Restart stops, waits RestartDelay for sockets/brokers to settle
// (TIME_WAIT), then starts again (spec §4.4 restart()).
func (s *Supervisor) Restart(ctx context.Context) error {
	if _, err := s.Stop(); err != nil {
		return err
	}
	time.Sleep(s.opts.RestartDelay)
	return s.Start(ctx)
}

// ReloadMappings re-reads mappings from the store and atomically swaps
// the Mapping Cache and MQTT subscription sets, without touching
// connections (spec §4.4 reload_mappings(), invariant 5).
func (s *Supervisor) ReloadMappings(ctx context.Context) error {
	mappings, err := s.store.ListMappings()
	if err != nil {
		return fmt.Errorf("bridge: reload mappings: %w", err)
	}

	s.mu.Lock()
	cache := s.cache
	endpoints := s.endpoint
	s.mu.Unlock()
	if cache == nil {
		return bridgeerr.New("Supervisor.ReloadMappings", bridgeerr.KindSupervisorState, nil)
	}

	cache.Reload(mappings)

	for ref, ep := range endpoints {
		if ref.Kind != model.KindMQTT {
			continue
		}
		want := cache.SubscriptionSet(ref)
		select {
		case ep.w.Cmd() <- model.OutboundCommand{Kind: model.CmdSubscribe, Topics: want}:
		default:
			blog.Warnf("bridge: endpoint %s command queue full, subscription reconciliation dropped", ref)
		}
	}

	blog.Infof("bridge: reloaded %d mappings", len(mappings))
	return nil
}

// Status summarises lifecycle state, per-endpoint liveness, aggregate
// stats and build version (spec §4.4 Status()).
type Status struct {
	State        model.BridgeState
	BuildVersion string
	Endpoints    []model.EndpointStatus
	Stats        telemetry.Snapshot
	LastError    string
	StartTime    time.Time
}

// Status implements spec §4.4's read-only status surface.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	state := s.state
	endpoints := s.endpoint
	rt := s.rt
	lastErr := s.lastErr
	s.mu.Unlock()

	out := Status{State: state, BuildVersion: BuildVersion}
	if lastErr != nil {
		out.LastError = lastErr.Error()
	}

	statuses := make([]model.EndpointStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		statuses = append(statuses, ep.w.Status())
	}
	out.Endpoints = statuses

	queueDepth := 0
	if rt != nil {
		queueDepth = rt.QueueDepth()
	}
	out.Stats = s.tel.Stats(queueDepth)

	if start, err := s.store.GetStartTime(); err == nil {
		out.StartTime = start
	} else {
		blog.Warnf("bridge: get_start_time: %v", err)
	}
	return out
}
