// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package mgmtapi is the HTTP management surface spec §6 describes:
// metrics scraping plus start/stop/restart/reload_mappings control and a
// status websocket push. It is explicitly interface-level per spec §6 ("out
// of scope" beyond the operations it names) -- no auth, no dashboard
// assets -- but the routing and websocket plumbing are real, grounded on
// the teacher's websocket RPC endpoint in
// Godeps/.../meekod/broker/transports/websocket/rpc and the
// julienschmidt/httprouter usage the wider retrieval pack favors over
// net/http's own mux.
package mgmtapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/websocket"

	"github.com/cider/zeromqtt-bridge/internal/bridge"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

// Server wires the management routes onto an httprouter.Router.
type Server struct {
	tel    *telemetry.Telemetry
	sup    *bridge.Supervisor
	router *httprouter.Router

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// New builds a Server. metricsPath overrides where GET /metrics is mounted
// (spec §6, config.Metrics.Path).
func New(sup *bridge.Supervisor, tel *telemetry.Telemetry, metricsPath string) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	s := &Server{
		tel:    tel,
		sup:    sup,
		router: httprouter.New(),
		subs:   make(map[*websocket.Conn]struct{}),
	}

	s.router.GET(metricsPath, s.handleMetrics)
	s.router.GET("/api/status", s.handleStatus)
	s.router.GET("/api/stats", s.handleStats)
	s.router.POST("/api/start", s.handleStart)
	s.router.POST("/api/stop", s.handleStop)
	s.router.POST("/api/restart", s.handleRestart)
	s.router.POST("/api/reload", s.handleReload)
	s.router.Handler(http.MethodGet, "/api/status/stream", websocket.Handler(s.handleStatusStream))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", telemetry.ContentType)
	status := s.sup.Status()
	w.Write([]byte(s.tel.Render(status.Stats.QueueDepth)))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.sup.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := s.sup.Status()
	writeJSON(w, status.Stats)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.sup.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.sup.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, err := s.sup.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.sup.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.sup.Restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.sup.Status())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.sup.ReloadMappings(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.sup.Status())
}

// handleStatusStream pushes the current status to the connected client
// once and then on every subsequent status poll tick is left for a
// future iteration: the teacher's websocket RPC endpoint multiplexes
// many concurrent requests over one socket, which this surface does not
// need since it serves a single read-only feed (spec §6 is silent on
// push cadence).
func (s *Server) handleStatusStream(conn *websocket.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
	}()

	if err := websocket.JSON.Send(conn, s.sup.Status()); err != nil {
		return
	}

	// Block until the client disconnects; a real push loop would select
	// on a status-change notification channel from the supervisor.
	var discard struct{}
	for {
		if err := websocket.JSON.Receive(conn, &discard); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
