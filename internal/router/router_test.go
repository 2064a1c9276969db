// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cider/zeromqtt-bridge/internal/mapcache"
	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/store"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

func mqttRef(id model.EndpointID) model.EndpointRef { return model.EndpointRef{Kind: model.KindMQTT, ID: id} }
func zmqRef(id model.EndpointID) model.EndpointRef  { return model.EndpointRef{Kind: model.KindZMQ, ID: id} }

func TestRouterDispatchesMatchingMapping(t *testing.T) {
	mappings := []model.TopicMapping{
		{
			ID:                 1,
			SourceEndpointType: model.KindMQTT,
			SourceEndpointID:   1,
			TargetEndpointType: model.KindZMQ,
			TargetEndpointID:   1,
			SourceTopic:        "sensors/+/temp",
			TargetTopic:        "telemetry/+",
			Enabled:            true,
		},
	}
	cache := mapcache.New(mappings)
	tel := telemetry.New()
	tel.Reset()

	out := make(chan model.OutboundCommand, 1)
	targets := Targets{zmqRef(1): out}

	inbound := make(chan model.ForwardMessage, 1)
	r := New(inbound, cache, tel, store.NewMemory(), targets)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	inbound <- model.ForwardMessage{
		SourceKind:     model.KindMQTT,
		SourceEndpoint: 1,
		Topic:          "sensors/kitchen/temp",
		Payload:        []byte("21.5"),
		ArrivalMono:    time.Now().UnixNano(),
	}

	select {
	case cmd := <-out:
		assert.Equal(t, model.CmdPublish, cmd.Kind)
		assert.Equal(t, "telemetry/kitchen", cmd.Topic)
		assert.Equal(t, []byte("21.5"), cmd.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched command")
	}

	cancel()
	<-done

	stats := tel.Stats(0)
	assert.EqualValues(t, 1, stats.MqttReceived)
}

func TestRouterSkipsDisabledMapping(t *testing.T) {
	mappings := []model.TopicMapping{
		{
			SourceEndpointType: model.KindMQTT,
			SourceEndpointID:   1,
			TargetEndpointType: model.KindZMQ,
			TargetEndpointID:   1,
			SourceTopic:        "a/b",
			TargetTopic:        "c/d",
			Enabled:            false,
		},
	}
	cache := mapcache.New(mappings)
	tel := telemetry.New()

	out := make(chan model.OutboundCommand, 1)
	targets := Targets{zmqRef(1): out}
	inbound := make(chan model.ForwardMessage, 1)
	r := New(inbound, cache, tel, store.NewMemory(), targets)

	r.dispatch(model.ForwardMessage{SourceKind: model.KindMQTT, SourceEndpoint: 1, Topic: "a/b"})

	select {
	case <-out:
		t.Fatal("disabled mapping must not dispatch")
	default:
	}
}

func TestRouterCountsErrorOnMissingTarget(t *testing.T) {
	mappings := []model.TopicMapping{
		{
			SourceEndpointType: model.KindMQTT,
			SourceEndpointID:   1,
			TargetEndpointType: model.KindZMQ,
			TargetEndpointID:   99,
			SourceTopic:        "a/b",
			TargetTopic:        "c/d",
			Enabled:            true,
		},
	}
	cache := mapcache.New(mappings)
	tel := telemetry.New()
	tel.Reset()

	inbound := make(chan model.ForwardMessage, 1)
	r := New(inbound, cache, tel, store.NewMemory(), Targets{})

	r.dispatch(model.ForwardMessage{SourceKind: model.KindMQTT, SourceEndpoint: 1, Topic: "a/b"})

	stats := tel.Stats(0)
	require.EqualValues(t, 1, stats.Errors)
}

func TestRouterReloadIsAtomic(t *testing.T) {
	cache := mapcache.New(nil)
	tel := telemetry.New()

	out := make(chan model.OutboundCommand, 1)
	targets := Targets{zmqRef(1): out}
	inbound := make(chan model.ForwardMessage, 1)
	r := New(inbound, cache, tel, store.NewMemory(), targets)

	r.dispatch(model.ForwardMessage{SourceKind: model.KindMQTT, SourceEndpoint: 1, Topic: "a/b"})
	select {
	case <-out:
		t.Fatal("empty cache must not dispatch anything")
	default:
	}

	cache.Reload([]model.TopicMapping{{
		SourceEndpointType: model.KindMQTT,
		SourceEndpointID:   1,
		TargetEndpointType: model.KindZMQ,
		TargetEndpointID:   1,
		SourceTopic:        "a/b",
		TargetTopic:        "c/d",
		Enabled:            true,
	}})

	r.dispatch(model.ForwardMessage{SourceKind: model.KindMQTT, SourceEndpoint: 1, Topic: "a/b"})
	select {
	case cmd := <-out:
		assert.Equal(t, "c/d", cmd.Topic)
	case <-time.After(time.Second):
		t.Fatal("reload should make the new mapping visible")
	}
}
