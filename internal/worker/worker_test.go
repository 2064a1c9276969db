// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoff()

	assert.Equal(t, backoffInitial, b.next())
	assert.Equal(t, 2*backoffInitial, b.next())
	assert.Equal(t, 4*backoffInitial, b.next())

	for i := 0; i < 10; i++ {
		b.next()
	}
	assert.Equal(t, backoffCap, b.next())

	b.reset()
	assert.Equal(t, backoffInitial, b.next())
}

func TestIsTimeoutRecognizesEAGAINString(t *testing.T) {
	assert.True(t, isTimeout(errors.New("resource temporarily unavailable")))
	assert.False(t, isTimeout(errors.New("connection reset by peer")))
	assert.False(t, isTimeout(nil))
}

func TestSocketKindSetupMatrix(t *testing.T) {
	assert.True(t, canRecv(model.ZmqSUB))
	assert.True(t, canRecv(model.ZmqXSUB))
	assert.False(t, canRecv(model.ZmqPUB))
	assert.False(t, canRecv(model.ZmqXPUB))

	assert.True(t, canPublish(model.ZmqPUB))
	assert.True(t, canPublish(model.ZmqXPUB))
	assert.True(t, canPublish(model.ZmqXSUB))
	assert.False(t, canPublish(model.ZmqSUB))
}

func TestMqttWorkerStatusStartsConnecting(t *testing.T) {
	cfg := model.MqttEndpointConfig{ID: 1, Name: "broker-a"}
	inbound := make(chan model.ForwardMessage, 1)
	w := NewMqttWorker(cfg, inbound, nil, telemetry.New())

	st := w.Status()
	assert.Equal(t, model.LiveConnecting, st.State)
	assert.Equal(t, cfg.Ref(), w.Ref())

	w.setStatus(model.LiveConnected, "")
	st = w.Status()
	assert.Equal(t, model.LiveConnected, st.State)
	assert.NotZero(t, st.ConnectedSince)
}

func TestZmqWorkerStatusStartsConnecting(t *testing.T) {
	cfg := model.ZmqEndpointConfig{ID: 2, Name: "sink"}
	inbound := make(chan model.ForwardMessage, 1)
	w := NewZmqWorker(cfg, inbound, telemetry.New())

	st := w.Status()
	assert.Equal(t, model.LiveConnecting, st.State)
	assert.Equal(t, cfg.Ref(), w.Ref())

	w.setStatus(model.LiveError, "boom")
	st = w.Status()
	assert.Equal(t, model.LiveError, st.State)
	assert.Equal(t, "boom", st.LastError)
}

func TestMqttBrokerURI(t *testing.T) {
	plain := model.MqttEndpointConfig{BrokerHost: "localhost", Port: 1883}
	assert.Equal(t, "tcp://localhost:1883", plain.BrokerURI())

	tls := model.MqttEndpointConfig{BrokerHost: "localhost", Port: 8883, TLSEnabled: true}
	assert.Equal(t, "ssl://localhost:8883", tls.BrokerURI())
}
