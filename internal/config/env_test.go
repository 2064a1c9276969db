// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

func TestFeedMqttFromEnvOverridesFields(t *testing.T) {
	os.Setenv("BRIDGETEST_PORT", "8883")
	os.Setenv("BRIDGETEST_BROKERHOST", "broker.example.com")
	defer os.Unsetenv("BRIDGETEST_PORT")
	defer os.Unsetenv("BRIDGETEST_BROKERHOST")

	cfg := &model.MqttEndpointConfig{ID: 1, Port: 1883, BrokerHost: "localhost"}
	require.NoError(t, FeedMqttFromEnv(cfg, "BRIDGETEST_"))

	assert.Equal(t, 8883, cfg.Port)
	assert.Equal(t, "broker.example.com", cfg.BrokerHost)
}

func TestFeedZmqFromEnvOverridesFields(t *testing.T) {
	os.Setenv("BRIDGEZMQTEST_SENDHWM", "5000")
	defer os.Unsetenv("BRIDGEZMQTEST_SENDHWM")

	cfg := &model.ZmqEndpointConfig{ID: 1, SendHWM: 1000}
	require.NoError(t, FeedZmqFromEnv(cfg, "BRIDGEZMQTEST_"))

	assert.Equal(t, 5000, cfg.SendHWM)
}
