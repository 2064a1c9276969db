// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package mgmtapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cider/zeromqtt-bridge/internal/bridge"
	"github.com/cider/zeromqtt-bridge/internal/store"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

func TestServerStatusAndMetricsRoutes(t *testing.T) {
	tel := telemetry.New()
	sup := bridge.New(store.NewMemory(), tel, bridge.Options{})
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	s := New(sup, tel, "")
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, telemetry.ContentType, resp2.Header.Get("Content-Type"))
}

func TestServerStopStartRoutes(t *testing.T) {
	tel := telemetry.New()
	sup := bridge.New(store.NewMemory(), tel, bridge.Options{})
	require.NoError(t, sup.Start(context.Background()))

	s := New(sup, tel, "")
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/start", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	_, _ = sup.Stop()
}
