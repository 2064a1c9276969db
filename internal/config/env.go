// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package config

import (
	"github.com/dmotylev/nutrition"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

// FeedMqttFromEnv overlays environment variables prefixed by prefix onto
// cfg, the way the teacher's zmq3 EndpointConfig.FeedFromEnv does for its
// own endpoint structs. Used by the CLI dev entry point and by tests that
// want to tweak one field (e.g. BRIDGE_MQTT_1_PORT) without a full config
// file.
func FeedMqttFromEnv(cfg *model.MqttEndpointConfig, prefix string) error {
	return nutrition.Env(prefix).Feed(cfg)
}

// FeedZmqFromEnv is the ZeroMQ-endpoint equivalent of FeedMqttFromEnv.
func FeedZmqFromEnv(cfg *model.ZmqEndpointConfig, prefix string) error {
	return nutrition.Env(prefix).Feed(cfg)
}
