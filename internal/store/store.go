// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package store defines the ConfigStore interface the supervisor consumes
// (spec §6). The persistent relational store itself (mqtt_endpoints,
// zmq_endpoints, mappings, stats tables) is explicitly out of core scope
// per spec §1 -- only the interface and an in-memory implementation
// (useful for tests and the CLI dev entry point) live here.
package store

import (
	"sync"
	"time"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

// ConfigStore is what the Bridge Supervisor consumes from the persistence
// layer (spec §6).
type ConfigStore interface {
	ListMqttEndpoints() ([]model.MqttEndpointConfig, error)
	ListZmqEndpoints() ([]model.ZmqEndpointConfig, error)
	ListMappings() ([]model.TopicMapping, error)

	IncrementStats(deltaMqttRx, deltaMqttTx, deltaZmqRx, deltaZmqTx, deltaErrors uint64) error
	ResetStats() error
	GetStartTime() (time.Time, error)
}

// Memory is a ConfigStore backed by plain Go maps, guarded by a mutex. It
// is what cmd/bridge's dev mode and the test suite use in place of the
// relational store spec §6 describes.
type Memory struct {
	mu sync.Mutex

	mqtt     map[model.EndpointID]model.MqttEndpointConfig
	zmq      map[model.EndpointID]model.ZmqEndpointConfig
	mappings map[uint64]model.TopicMapping

	stats     model.MessageStats
	startTime time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mqtt:     make(map[model.EndpointID]model.MqttEndpointConfig),
		zmq:      make(map[model.EndpointID]model.ZmqEndpointConfig),
		mappings: make(map[uint64]model.TopicMapping),
	}
}

func (m *Memory) PutMqttEndpoint(cfg model.MqttEndpointConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mqtt[cfg.ID] = cfg
}

func (m *Memory) PutZmqEndpoint(cfg model.ZmqEndpointConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zmq[cfg.ID] = cfg
}

func (m *Memory) PutMapping(mapping model.TopicMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[mapping.ID] = mapping
}

func (m *Memory) RemoveMapping(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, id)
}

func (m *Memory) ListMqttEndpoints() ([]model.MqttEndpointConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MqttEndpointConfig, 0, len(m.mqtt))
	for _, c := range m.mqtt {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) ListZmqEndpoints() ([]model.ZmqEndpointConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ZmqEndpointConfig, 0, len(m.zmq))
	for _, c := range m.zmq {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) ListMappings() ([]model.TopicMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TopicMapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		out = append(out, mp)
	}
	return out, nil
}

func (m *Memory) IncrementStats(deltaMqttRx, deltaMqttTx, deltaZmqRx, deltaZmqTx, deltaErrors uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.MqttReceived += deltaMqttRx
	m.stats.MqttSent += deltaMqttTx
	m.stats.ZmqReceived += deltaZmqRx
	m.stats.ZmqSent += deltaZmqTx
	m.stats.Errors += deltaErrors
	return nil
}

func (m *Memory) ResetStats() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = model.MessageStats{}
	m.startTime = time.Now()
	return nil
}

func (m *Memory) GetStartTime() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime, nil
}
