// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

func TestMemoryListsWhatWasPut(t *testing.T) {
	m := NewMemory()
	m.PutMqttEndpoint(model.MqttEndpointConfig{ID: 1, Name: "broker"})
	m.PutZmqEndpoint(model.ZmqEndpointConfig{ID: 1, Name: "bus"})
	m.PutMapping(model.TopicMapping{ID: 1, SourceTopic: "a/b", TargetTopic: "c/d"})

	mqtt, err := m.ListMqttEndpoints()
	require.NoError(t, err)
	assert.Len(t, mqtt, 1)

	zmq, err := m.ListZmqEndpoints()
	require.NoError(t, err)
	assert.Len(t, zmq, 1)

	mappings, err := m.ListMappings()
	require.NoError(t, err)
	assert.Len(t, mappings, 1)

	m.RemoveMapping(1)
	mappings, err = m.ListMappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestMemoryIncrementStatsAccumulates(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.IncrementStats(1, 2, 3, 4, 5))
	require.NoError(t, m.IncrementStats(1, 1, 1, 1, 1))

	assert.Equal(t, uint64(2), m.stats.MqttReceived)
	assert.Equal(t, uint64(3), m.stats.MqttSent)
	assert.Equal(t, uint64(4), m.stats.ZmqReceived)
	assert.Equal(t, uint64(5), m.stats.ZmqSent)
	assert.Equal(t, uint64(6), m.stats.Errors)
}

func TestMemoryResetStatsZeroesCountersAndStampsStartTime(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.IncrementStats(1, 1, 1, 1, 1))

	before, err := m.GetStartTime()
	require.NoError(t, err)
	assert.True(t, before.IsZero())

	require.NoError(t, m.ResetStats())

	assert.Equal(t, model.MessageStats{}, m.stats)

	after, err := m.GetStartTime()
	require.NoError(t, err)
	assert.False(t, after.IsZero())
}
