// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package worker

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	zmq "github.com/pebbe/zmq3"

	"github.com/cider/zeromqtt-bridge/internal/blog"
	"github.com/cider/zeromqtt-bridge/internal/bridgeerr"
	"github.com/cider/zeromqtt-bridge/internal/model"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

var (
	errMissingSeparator = errors.New("no topic/payload separator in frame")
	errInvalidTopicUTF8 = errors.New("topic is not valid UTF-8")
)

// recvTimeout bounds zmq_recv so the poll loop remains responsive to cmd
// and ctx cancellation (spec §4.2.2, §5).
const recvTimeout = 100 * time.Millisecond

// frameSeparator is the ASCII space used by the single-frame wire
// convention of spec §4.2.2 / §6: topic || 0x20 || payload.
const frameSeparator = ' '

// ZmqWorker is the §4.2.2 ZeroMQ Endpoint Worker. Because pebbe/zmq3
// sockets are not safe to use from more than one goroutine, Run locks
// itself to one OS thread for its whole lifetime (spec §5: "one dedicated
// thread per ZeroMQ endpoint"), grounded on the teacher's zmq3/loop
// message loop which makes the same assumption about socket affinity.
type ZmqWorker struct {
	cfg     model.ZmqEndpointConfig
	inbound chan<- model.ForwardMessage
	cmd     chan model.OutboundCommand
	tel     *telemetry.Telemetry

	mu     sync.Mutex
	status model.EndpointStatus
}

func NewZmqWorker(cfg model.ZmqEndpointConfig, inbound chan<- model.ForwardMessage, tel *telemetry.Telemetry) *ZmqWorker {
	return &ZmqWorker{
		cfg:     cfg,
		inbound: inbound,
		cmd:     make(chan model.OutboundCommand, cmdQueueSize),
		tel:     tel,
		status:  model.EndpointStatus{Ref: cfg.Ref(), Name: cfg.Name, State: model.LiveConnecting},
	}
}

func (w *ZmqWorker) Ref() model.EndpointRef           { return w.cfg.Ref() }
func (w *ZmqWorker) Cmd() chan<- model.OutboundCommand { return w.cmd }

func (w *ZmqWorker) Status() model.EndpointStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *ZmqWorker) setStatus(state model.Liveness, lastErr string) {
	w.mu.Lock()
	w.status.State = state
	w.status.LastError = lastErr
	if state == model.LiveConnected {
		w.status.ConnectedSince = time.Now().Unix()
	}
	w.mu.Unlock()
}

func zmqType(kind model.ZmqSocketKind) zmq.Type {
	switch kind {
	case model.ZmqXPUB:
		return zmq.XPUB
	case model.ZmqXSUB:
		return zmq.XSUB
	case model.ZmqPUB:
		return zmq.PUB
	default:
		return zmq.SUB
	}
}

// canRecv and canPublish implement the socket setup matrix of spec §4.2.2.
func canRecv(kind model.ZmqSocketKind) bool {
	return kind == model.ZmqXSUB || kind == model.ZmqSUB
}

func canPublish(kind model.ZmqSocketKind) bool {
	return kind == model.ZmqXPUB || kind == model.ZmqPUB || kind == model.ZmqXSUB
}

// Run implements Worker. It pins itself to one OS thread for the socket's
// entire lifetime and exits once ctx is cancelled, or at once with a
// TransportConnect error if the socket cannot be created, bound or connected.
func (w *ZmqWorker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sock, err := zmq.NewSocket(zmqType(w.cfg.SocketKind))
	if err != nil {
		w.setStatus(model.LiveError, err.Error())
		return bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportConnect, err)
	}
	defer sock.Close()

	if err := sock.SetSndhwm(w.cfg.SendHWM); err != nil {
		blog.Warnf("zmq[%d]: SetSndhwm: %v", w.cfg.ID, err)
	}
	if err := sock.SetRcvhwm(w.cfg.RecvHWM); err != nil {
		blog.Warnf("zmq[%d]: SetRcvhwm: %v", w.cfg.ID, err)
	}
	if err := sock.SetRcvtimeo(recvTimeout); err != nil {
		blog.Warnf("zmq[%d]: SetRcvtimeo: %v", w.cfg.ID, err)
	}
	if w.cfg.ReconnectIntervalMs > 0 {
		if err := sock.SetReconnectIvl(time.Duration(w.cfg.ReconnectIntervalMs) * time.Millisecond); err != nil {
			blog.Warnf("zmq[%d]: SetReconnectIvl: %v", w.cfg.ID, err)
		}
	}

	switch w.cfg.SocketKind {
	case model.ZmqXPUB, model.ZmqPUB:
		if w.cfg.BindEndpoint != "" {
			if err := sock.Bind(w.cfg.BindEndpoint); err != nil {
				w.setStatus(model.LiveError, err.Error())
				return bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportConnect, err)
			}
		}
	case model.ZmqXSUB:
		if w.cfg.BindEndpoint != "" {
			if err := sock.Bind(w.cfg.BindEndpoint); err != nil {
				w.setStatus(model.LiveError, err.Error())
				return bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportConnect, err)
			}
		}
		for _, ep := range w.cfg.ConnectEndpoints {
			if err := sock.Connect(ep); err != nil {
				w.setStatus(model.LiveError, err.Error())
				return bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportConnect, err)
			}
		}
		if err := sock.SetSubscribe(""); err != nil {
			blog.Warnf("zmq[%d]: SetSubscribe: %v", w.cfg.ID, err)
		}
	case model.ZmqSUB:
		for _, ep := range w.cfg.ConnectEndpoints {
			if err := sock.Connect(ep); err != nil {
				w.setStatus(model.LiveError, err.Error())
				return bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportConnect, err)
			}
		}
		if err := sock.SetSubscribe(""); err != nil {
			blog.Warnf("zmq[%d]: SetSubscribe: %v", w.cfg.ID, err)
		}
	}

	w.setStatus(model.LiveConnected, "")

	for {
		if ctx.Err() != nil {
			w.setStatus(model.LiveDisconnected, "")
			return nil
		}

		if canRecv(w.cfg.SocketKind) {
			frames, err := sock.RecvMessageBytes(0)
			switch {
			case err == nil:
				w.handleFrames(frames)
			case isTimeout(err):
				// Expected every recvTimeout; fall through to check cmd/ctx.
			default:
				w.tel.IncErrors()
				blog.Warnf("zmq[%d]: %v", w.cfg.ID, bridgeerr.New("zmqworker.Run", bridgeerr.KindTransportIO, err))
			}
		} else {
			// Sockets that never receive (XPUB/PUB) still need to poll cmd
			// and ctx on a cadence; sleep one tick instead of busy-looping.
			time.Sleep(recvTimeout)
		}

		select {
		case c := <-w.cmd:
			w.handleCmd(sock, c)
		default:
		}
	}
}

func (w *ZmqWorker) handleFrames(frames [][]byte) {
	var joined []byte
	if len(frames) == 1 {
		joined = frames[0]
	} else {
		joined = bytes.Join(frames, nil)
	}

	idx := bytes.IndexByte(joined, frameSeparator)
	if idx < 0 {
		w.tel.IncErrors()
		blog.Warnf("zmq[%d]: %v", w.cfg.ID, bridgeerr.New("zmqworker.handleFrames", bridgeerr.KindBadFrame, errMissingSeparator))
		return
	}

	topic := joined[:idx]
	if !utf8.Valid(topic) {
		w.tel.IncErrors()
		blog.Warnf("zmq[%d]: %v", w.cfg.ID, bridgeerr.New("zmqworker.handleFrames", bridgeerr.KindBadFrame, errInvalidTopicUTF8))
		return
	}
	payload := joined[idx+1:]

	// Ingress counting happens in the Router (spec §4.3 step 1), not here.
	w.inbound <- model.ForwardMessage{
		SourceKind:     model.KindZMQ,
		SourceEndpoint: w.cfg.ID,
		Topic:          string(topic),
		Payload:        append([]byte(nil), payload...),
		ArrivalMono:    time.Now().UnixNano(),
	}
}

func (w *ZmqWorker) handleCmd(sock *zmq.Socket, c model.OutboundCommand) {
	switch c.Kind {
	case model.CmdPublish:
		if !canPublish(w.cfg.SocketKind) {
			// SUB sockets cannot emit; this is a no-op counted as an error
			// (spec §4.2.2 Publish handling).
			w.tel.IncErrors()
			return
		}
		frame := make([]byte, 0, len(c.Topic)+1+len(c.Payload))
		frame = append(frame, c.Topic...)
		frame = append(frame, frameSeparator)
		frame = append(frame, c.Payload...)
		if _, err := sock.SendBytes(frame, 0); err != nil {
			blog.Warnf("zmq[%d]: %v", w.cfg.ID, bridgeerr.New("zmqworker.handleCmd", bridgeerr.KindTransportIO, err))
			w.tel.IncErrors()
			return
		}
		w.tel.IncZmqSent()
	case model.CmdSubscribe:
		// ZeroMQ workers subscribe to everything unconditionally at setup
		// time; Subscribe commands from the supervisor are a no-op here
		// (spec §4.2.3: "ZeroMQ SUB/XSUB workers subscribe to the empty
		// prefix unconditionally; filtering happens in the Router").
	}
}

// isTimeout recognizes the EAGAIN zmq3 returns on a RcvTimeo expiry, the
// same string check the teacher's zmq3/loop cleanup path uses.
func isTimeout(err error) bool {
	return err != nil && err.Error() == "resource temporarily unavailable"
}
