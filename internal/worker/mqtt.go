// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package worker

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	mq "github.com/gonzalop/mq"

	"github.com/cider/zeromqtt-bridge/internal/blog"
	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

// publishQoS is hard-coded to QoS 1 on both publish and subscribe; the
// management surface exposes no QoS control (spec §9, preserved from the
// source this was distilled from).
const publishQoS = mq.QoS(1)

// MqttWorker is the §4.2.1 MQTT Endpoint Worker.
type MqttWorker struct {
	cfg     model.MqttEndpointConfig
	inbound chan<- model.ForwardMessage
	cmd     chan model.OutboundCommand
	tel     *telemetry.Telemetry

	mu      sync.Mutex
	current map[string]struct{} // topics currently subscribed
	status  model.EndpointStatus
}

// NewMqttWorker constructs a worker for cfg. initial is the topic set to
// subscribe to immediately on connect (spec §4.2.1 "On connect").
func NewMqttWorker(cfg model.MqttEndpointConfig, inbound chan<- model.ForwardMessage, initial map[string]struct{}, tel *telemetry.Telemetry) *MqttWorker {
	cur := make(map[string]struct{}, len(initial))
	for t := range initial {
		cur[t] = struct{}{}
	}
	return &MqttWorker{
		cfg:     cfg,
		inbound: inbound,
		cmd:     make(chan model.OutboundCommand, cmdQueueSize),
		tel:     tel,
		current: cur,
		status:  model.EndpointStatus{Ref: cfg.Ref(), Name: cfg.Name, State: model.LiveConnecting},
	}
}

func (w *MqttWorker) Ref() model.EndpointRef               { return w.cfg.Ref() }
func (w *MqttWorker) Cmd() chan<- model.OutboundCommand     { return w.cmd }

func (w *MqttWorker) Status() model.EndpointStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *MqttWorker) setStatus(state model.Liveness, lastErr string) {
	w.mu.Lock()
	w.status.State = state
	w.status.LastError = lastErr
	if state == model.LiveConnected {
		w.status.ConnectedSince = time.Now().Unix()
	}
	w.mu.Unlock()
}

func (w *MqttWorker) dialOptions(lost chan<- error) []mq.Option {
	opts := []mq.Option{
		mq.WithClientID(w.cfg.ClientID),
		mq.WithKeepAlive(time.Duration(w.cfg.KeepaliveSeconds) * time.Second),
		mq.WithCleanSession(w.cfg.CleanSession),
		mq.WithAutoReconnect(false), // this worker drives its own reconnect loop (spec §4.2.1)
		mq.WithOnConnectionLost(func(_ *mq.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		}),
	}
	if w.cfg.Username != "" {
		opts = append(opts, mq.WithCredentials(w.cfg.Username, w.cfg.Password))
	}
	if w.cfg.TLSEnabled {
		opts = append(opts, mq.WithTLS(&tls.Config{}))
	}
	return opts
}

// Run implements Worker. It reconnects with the bounded backoff of spec
// §4.2.1 until ctx is cancelled.
func (w *MqttWorker) Run(ctx context.Context) error {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			w.setStatus(model.LiveDisconnected, "")
			return nil
		}

		w.setStatus(model.LiveConnecting, "")
		lost := make(chan error, 1)
		client, err := mq.DialContext(ctx, w.cfg.BrokerURI(), w.dialOptions(lost)...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			blog.Warnf("mqtt[%d]: connect failed: %v", w.cfg.ID, err)
			w.setStatus(model.LiveError, err.Error())
			if !sleepOrDone(ctx, bo.next()) {
				return nil
			}
			continue
		}

		bo.reset()
		w.setStatus(model.LiveConnected, "")

		if err := w.resubscribeAll(ctx, client); err != nil {
			blog.Warnf("mqtt[%d]: initial subscribe failed: %v", w.cfg.ID, err)
		}

		runErr := w.steadyState(ctx, client, lost)
		_ = client.Disconnect(context.Background())

		if ctx.Err() != nil {
			w.setStatus(model.LiveDisconnected, "")
			return nil
		}

		// Transient disconnect: spec §4.2.1 "not fatal", reconnect and
		// re-subscribe from w.current.
		blog.Warnf("mqtt[%d]: disconnected, reconnecting: %v", w.cfg.ID, runErr)
		w.setStatus(model.LiveError, errString(runErr))
		if !sleepOrDone(ctx, bo.next()) {
			return nil
		}
	}
}

// steadyState interleaves the three responsibilities of §4.2.1 step 2-3:
// inbound delivery happens via the subscribe handler (invoked by the mq
// client's own read loop), so this method's job is to drain cmd and watch
// for ctx cancellation or a fatal client error.
func (w *MqttWorker) steadyState(ctx context.Context, client *mq.Client, lost <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			return err
		case c := <-w.cmd:
			w.handleCmd(ctx, client, c)
		}
	}
}

func (w *MqttWorker) handleCmd(ctx context.Context, client *mq.Client, c model.OutboundCommand) {
	switch c.Kind {
	case model.CmdPublish:
		tok := client.Publish(c.Topic, c.Payload, mq.WithQoS(publishQoS))
		go func() {
			if err := tok.Wait(ctx); err != nil {
				blog.Warnf("mqtt[%d]: publish to %q failed: %v", w.cfg.ID, c.Topic, err)
				w.tel.IncErrors()
				return
			}
			w.tel.IncMqttSent()
		}()
	case model.CmdSubscribe:
		w.reconcile(ctx, client, c.Topics)
	}
}

// reconcile computes added/removed against w.current and issues the
// matching Subscribe/Unsubscribe calls (spec §4.2.1 step 2, §4.2.3).
func (w *MqttWorker) reconcile(ctx context.Context, client *mq.Client, want map[string]struct{}) {
	w.mu.Lock()
	added := make([]string, 0)
	removed := make([]string, 0)
	for t := range want {
		if _, ok := w.current[t]; !ok {
			added = append(added, t)
		}
	}
	for t := range w.current {
		if _, ok := want[t]; !ok {
			removed = append(removed, t)
		}
	}
	w.mu.Unlock()

	for _, t := range added {
		topic := t
		tok := client.Subscribe(topic, publishQoS, w.onMessage)
		if err := tok.Wait(ctx); err != nil {
			blog.Warnf("mqtt[%d]: subscribe to %q failed: %v", w.cfg.ID, topic, err)
			w.tel.IncErrors()
			continue
		}
		w.mu.Lock()
		w.current[topic] = struct{}{}
		w.mu.Unlock()
	}

	if len(removed) > 0 {
		tok := client.Unsubscribe(removed...)
		if err := tok.Wait(ctx); err != nil {
			blog.Warnf("mqtt[%d]: unsubscribe failed: %v", w.cfg.ID, err)
			w.tel.IncErrors()
		} else {
			w.mu.Lock()
			for _, t := range removed {
				delete(w.current, t)
			}
			w.mu.Unlock()
		}
	}
}

func (w *MqttWorker) resubscribeAll(ctx context.Context, client *mq.Client) error {
	w.mu.Lock()
	topics := make([]string, 0, len(w.current))
	for t := range w.current {
		topics = append(topics, t)
	}
	w.mu.Unlock()

	for _, t := range topics {
		tok := client.Subscribe(t, publishQoS, w.onMessage)
		if err := tok.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// onMessage is the mq.MessageHandler invoked by the client's own read
// loop. Pushing onto inbound blocks when the shared queue is full; that
// block is the intended flow-control path (spec §4.2.1 step 1, §5).
func (w *MqttWorker) onMessage(_ *mq.Client, msg mq.Message) {
	// Ingress counting happens in the Router (spec §4.3 step 1), not here;
	// this only captures arrival time and enqueues.
	w.inbound <- model.ForwardMessage{
		SourceKind:     model.KindMQTT,
		SourceEndpoint: w.cfg.ID,
		Topic:          msg.Topic,
		Payload:        msg.Payload,
		ArrivalMono:    time.Now().UnixNano(),
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
