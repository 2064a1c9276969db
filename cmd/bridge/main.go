// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Command bridge is the process entry point: it loads the process
// config, wires the persistence store, runs the Bridge Supervisor, and
// serves the HTTP management surface, per SPEC_FULL §2.4, grounded on
// the teacher's main.go / master/command.go gocli app shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cihub/seelog"
	"github.com/tchap/gocli"

	"github.com/cider/zeromqtt-bridge/internal/bridge"
	"github.com/cider/zeromqtt-bridge/internal/blog"
	"github.com/cider/zeromqtt-bridge/internal/cliutil"
	cfgpkg "github.com/cider/zeromqtt-bridge/internal/config"
	"github.com/cider/zeromqtt-bridge/internal/mgmtapi"
	"github.com/cider/zeromqtt-bridge/internal/store"
	"github.com/cider/zeromqtt-bridge/internal/telemetry"
)

// version is overridden at link time via -ldflags "-X main.version=...",
// the same pattern the teacher pins its own `const version` with, except
// here it also flows into bridge.BuildVersion for Status() (SPEC_FULL §4).
var version = "dev"

var configPath string

var serveCommand = &gocli.Command{
	UsageLine: "serve [-config=PATH]",
	Short:     "run the bridge and its HTTP management surface",
	Long: `
  Start the MQTT<->ZeroMQ bridge: load endpoints and mappings, spawn the
  endpoint workers and router, and serve /metrics plus the control API on
  the configured listen address.

ENVIRONMENT:
  BRIDGE_CONFIG - can be used instead of -config
	`,
	Action: runServe,
}

var versionCommand = &gocli.Command{
	UsageLine: "version",
	Short:     "print the build version and exit",
	Action: func(cmd *gocli.Command, args []string) {
		log.Println(version)
	},
}

func init() {
	serveCommand.Flags.StringVar(&configPath, "config", "", "path to the YAML process config")
}

func main() {
	bridge.BuildVersion = version

	app := gocli.NewApp("bridge")
	app.UsageLine = "bridge SUBCMD"
	app.Short = "a runtime-reconfigurable MQTT<->ZeroMQ message bridge"
	app.Version = version
	app.Long = `
  bridge forwards messages between MQTT topics and ZeroMQ PUB/SUB sockets
  according to a set of topic mappings that can be reloaded without
  dropping connections. Run "bridge serve" to start it.`

	app.MustRegisterSubcommand(serveCommand)
	app.MustRegisterSubcommand(versionCommand)

	app.Run(os.Args[1:])
}

func runServe(cmd *gocli.Command, args []string) {
	log.SetFlags(0)
	blog.UseLogger(seelog.Default)

	if len(args) != 0 {
		cmd.Usage()
		os.Exit(2)
	}

	cliutil.GetenvOr(&configPath, "BRIDGE_CONFIG")

	var cfg *cfgpkg.Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("bridge: reading config %s: %v", configPath, err)
		}
		cfg, err = cfgpkg.Parse(data)
		if err != nil {
			log.Fatalf("bridge: parsing config %s: %v", configPath, err)
		}
	} else {
		cfg = cfgpkg.Default()
	}

	watchStop := make(chan struct{})
	if configPath != "" {
		go func() {
			err := cfgpkg.WatchFile(configPath, watchStop, func(*cfgpkg.Config) {
				log.Printf("bridge: %s changed on disk; restart to apply\n", configPath)
			})
			if err != nil {
				blog.Warnf("bridge: config watch: %v", err)
			}
		}()
		defer close(watchStop)
	}

	cs := store.NewMemory()
	tel := telemetry.New()
	sup := bridge.New(cs, tel, bridge.Options{
		StopTimeout:      time.Duration(cfg.Supervisor.StopTimeoutMs) * time.Millisecond,
		RestartDelay:     time.Duration(cfg.Supervisor.RestartDelayMs) * time.Millisecond,
		InboundQueueSize: cfg.Supervisor.InboundQueueSize,
	})

	if err := sup.Start(context.Background()); err != nil {
		log.Fatalf("bridge: start: %v", err)
	}

	srv := mgmtapi.New(sup, tel, cfg.Metrics.Path)
	httpServer := &http.Server{Addr: cfg.Listen.Address, Handler: srv}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("bridge: http server: %v", err)
		}
	}()
	log.Printf("bridge listening on %s\n", cfg.Listen.Address)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh

	log.Println("interrupted, shutting down...")
	_ = httpServer.Shutdown(context.Background())
	if _, err := sup.Stop(); err != nil {
		log.Fatal(err)
	}
}
