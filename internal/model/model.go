// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package model holds the data types shared between the endpoint workers,
// the router, the mapping cache and the supervisor (spec §3).
package model

import "fmt"

// EndpointKind distinguishes the two endpoint families. It is dense and
// small enough to use directly as a map/trie key component.
type EndpointKind uint8

const (
	KindMQTT EndpointKind = iota
	KindZMQ
)

func (k EndpointKind) String() string {
	if k == KindMQTT {
		return "mqtt"
	}
	return "zmq"
}

// EndpointID is a dense opaque integer, unique within an EndpointKind,
// assigned by the configuration store.
type EndpointID uint64

// EndpointRef names one endpoint by kind and id. It is the unit the Router
// uses to find a source worker's identity and a target worker's command
// channel.
type EndpointRef struct {
	Kind EndpointKind
	ID   EndpointID
}

func (r EndpointRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Key returns the byte-string form used as a patricia trie key. Trie keys
// must be comparable byte sequences; this packs Kind and ID into one.
func (r EndpointRef) Key() []byte {
	return []byte(fmt.Sprintf("%d:%d", r.Kind, r.ID))
}

// ZmqSocketKind enumerates the socket roles spec §3 allows for a ZeroMQ endpoint.
type ZmqSocketKind uint8

const (
	ZmqXPUB ZmqSocketKind = iota
	ZmqXSUB
	ZmqPUB
	ZmqSUB
)

func (k ZmqSocketKind) String() string {
	switch k {
	case ZmqXPUB:
		return "xpub"
	case ZmqXSUB:
		return "xsub"
	case ZmqPUB:
		return "pub"
	case ZmqSUB:
		return "sub"
	default:
		return "unknown"
	}
}

// MqttEndpointConfig is handed to an MQTT worker by value at spawn time.
type MqttEndpointConfig struct {
	ID               EndpointID
	Name             string
	Enabled          bool
	BrokerHost       string
	Port             int
	ClientID         string
	Username         string
	Password         string
	TLSEnabled       bool
	KeepaliveSeconds int
	CleanSession     bool
}

func (c MqttEndpointConfig) Ref() EndpointRef { return EndpointRef{Kind: KindMQTT, ID: c.ID} }

// BrokerURI derives the dial target from §4.2.1: ssl:// or tcp:// plus host:port.
func (c MqttEndpointConfig) BrokerURI() string {
	scheme := "tcp"
	if c.TLSEnabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.Port)
}

// ZmqEndpointConfig is handed to a ZeroMQ worker by value at spawn time.
type ZmqEndpointConfig struct {
	ID                 EndpointID
	Name               string
	Enabled            bool
	SocketKind         ZmqSocketKind
	BindEndpoint       string
	ConnectEndpoints   []string
	SendHWM            int
	RecvHWM            int
	ReconnectIntervalMs int
}

func (c ZmqEndpointConfig) Ref() EndpointRef { return EndpointRef{Kind: KindZMQ, ID: c.ID} }

// TopicMapping is rule (source endpoint, source topic pattern, target
// endpoint, target topic template) plus an enabled flag (spec §3).
type TopicMapping struct {
	ID                 uint64
	SourceEndpointType EndpointKind
	SourceEndpointID   EndpointID
	TargetEndpointType EndpointKind
	TargetEndpointID   EndpointID
	SourceTopic        string // pattern
	TargetTopic        string // template
	Direction          string // advisory only, see spec §3
	Enabled            bool
	Description        string
}

func (m TopicMapping) SourceRef() EndpointRef {
	return EndpointRef{Kind: m.SourceEndpointType, ID: m.SourceEndpointID}
}

func (m TopicMapping) TargetRef() EndpointRef {
	return EndpointRef{Kind: m.TargetEndpointType, ID: m.TargetEndpointID}
}

// ForwardMessage is produced by an Endpoint Worker on ingress and consumed
// by the Router. It is never persisted (spec §3).
type ForwardMessage struct {
	SourceKind     EndpointKind
	SourceEndpoint EndpointID
	Topic          string
	Payload        []byte
	ArrivalMono    int64 // nanoseconds, from a monotonic clock
}

func (m ForwardMessage) SourceRef() EndpointRef {
	return EndpointRef{Kind: m.SourceKind, ID: m.SourceEndpoint}
}

// OutboundCommand is destined for one Endpoint Worker's command queue.
// Exactly one of the two fields is meaningful, selected by Kind.
type CommandKind uint8

const (
	CmdPublish CommandKind = iota
	CmdSubscribe
)

type OutboundCommand struct {
	Kind    CommandKind
	Topic   string            // CmdPublish
	Payload []byte            // CmdPublish
	Topics  map[string]struct{} // CmdSubscribe: the full desired topic set
}

// BridgeState is the supervisor's lifecycle state machine (spec §3).
type BridgeState uint8

const (
	StateStopped BridgeState = iota
	StateConnecting
	StateRunning
	StateError
)

func (s BridgeState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Liveness is the per-endpoint summary surfaced by Supervisor.Status (spec §4.4).
type Liveness uint8

const (
	LiveConnected Liveness = iota
	LiveConnecting
	LiveDisconnected
	LiveError
)

func (l Liveness) String() string {
	switch l {
	case LiveConnected:
		return "connected"
	case LiveConnecting:
		return "connecting"
	case LiveDisconnected:
		return "disconnected"
	case LiveError:
		return "error"
	default:
		return "unknown"
	}
}

// EndpointStatus supplements the coarse Liveness with the detail the
// original implementation exposed (SPEC_FULL §4): last error seen and the
// timestamp the connection was established, if any.
type EndpointStatus struct {
	Ref            EndpointRef
	Name           string
	State          Liveness
	LastError      string
	ConnectedSince int64 // unix seconds, 0 if never connected
}

// MessageStats holds the cumulative counters of spec §3. Derived fields
// (rate, latency, queue depth) are computed per-query by the telemetry
// package, not stored here.
type MessageStats struct {
	MqttReceived uint64
	MqttSent     uint64
	ZmqReceived  uint64
	ZmqSent      uint64
	Errors       uint64
}
