/*
NAME
  knd is a depth+color sensor zone-occupancy daemon.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// knd turns a depth+color sensor into a zone-occupancy TCP service:
// operators describe rectangular volumes in front of the sensor and the
// daemon reports, per zone and per frame, voxel population, center of
// gravity, approximate surface area, a debounced occupied flag, and a
// coarse brightness sample.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/nitrogenlogic/knd/internal/config"
	"github.com/nitrogenlogic/knd/internal/lut"
	"github.com/nitrogenlogic/knd/internal/persistence"
	"github.com/nitrogenlogic/knd/internal/sensord"
	"github.com/nitrogenlogic/knd/internal/server"
	"github.com/nitrogenlogic/knd/internal/watchdog"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// version is the daemon's release version, logged at startup. It is
// separate from the protocol version the "ver" command reports.
const version = "1.0.0"

// Logging configuration, matching the rotation policy other AusOcean
// daemons use.
const (
	logPath      = "/var/log/knd/knd.log"
	logMaxSizeMB = 100
	logMaxBackup = 5
	logMaxAgeDay = 28
)

// sensorDeviceIndex is the zero-based device index knd opens, per the
// sensor library contract.
const sensorDeviceIndex = 0

func main() {
	help := flag.Bool("help", false, "print usage and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "knd: bad configuration:", err)
		os.Exit(255)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAgeDay,
	}
	log := logging.New(cfg.LogLevel, io.MultiWriter(fileLog, os.Stderr), true)

	if err := run(log, cfg); err != nil {
		log.Error("knd exiting on error", "error", err.Error())
		os.Exit(255)
	}
}

// run brings knd up in this order: LUT init, create catalog and the
// actuator/source collaborators, install signal handlers, init
// persistence, create watchdog (init timeout), create pipeline, create
// server (listener up, since it needs the pipeline), load saved zones,
// run server and persistence worker, switch watchdog to run timeout,
// start the sensor pipeline. Teardown stops the pipeline, persistence
// worker and server, then destroys the watchdog.
func run(log logging.Logger, cfg config.Config) error {
	// LUT init: the lut package initializes lazily on first use, so
	// touching it once here fails fast instead of on the first frame.
	_ = lut.Depth(0)

	cat := zone.New()

	wakeup := make(chan byte, 64)

	act := sensord.NewGPIOActuator(log, "GPIO_GREEN", "GPIO_YELLOW", "GPIO_RED", "GPIO_MOTOR")
	src := sensord.NewGoCVSource(log)

	mainStop := newStopFlag()

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	crashSignals := make(chan os.Signal, 4)
	signal.Notify(crashSignals, syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL, syscall.SIGFPE)
	go handleSignals(log, signals, crashSignals, mainStop)

	store, err := persistence.New(log, cfg.SaveDir, cat, act, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("persistence init: %w", err)
	}

	wd := watchdog.New(cfg.InitTimeout, func() {
		onWatchdogOverrun(log, mainStop)
	})

	pl := sensord.NewPipeline(log, cat, src, act, wd, wakeup)

	srv, err := server.New(log, cat, pl, wakeup, fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		wd.Destroy()
		return fmt.Errorf("server init: %w", err)
	}

	if err := store.Load(); err != nil {
		log.Warning("loading saved zones failed; starting with an empty catalog", "error", err.Error())
	}

	srv.Run()
	store.Run()

	wd.SetTimeout(cfg.RunTimeout)

	if err := pl.Start(context.Background(), sensorDeviceIndex); err != nil {
		log.Error("starting sensor pipeline failed", "error", err.Error())
		store.Stop()
		srv.Stop()
		wd.Destroy()
		return fmt.Errorf("pipeline start: %w", err)
	}

	log.Info("knd running", "port", cfg.Port, "version", version)

	<-mainStop.ch

	log.Info("knd shutting down")
	pl.Stop()
	store.Stop()
	srv.Stop()
	wd.Destroy()
	return nil
}

// stopFlag is a simple cooperative shutdown latch: the first caller to
// request a stop closes the channel; later calls are no-ops.
type stopFlag struct {
	ch chan struct{}
}

func newStopFlag() *stopFlag { return &stopFlag{ch: make(chan struct{})} }

func (s *stopFlag) request() {
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
}

// handleSignals installs the orchestrator's signal policy: TERM/INT ask
// for a graceful stop; the crash set (the spec's SIGFPE/SIGILL/SIGBUS/
// SIGSEGV set) prints a diagnostic and exits immediately, since knd's
// recovery policy is "the supervisor respawns us" rather than
// attempting in-process recovery. The watchdog's SIGUSR2 escalation path
// is modeled directly as a function call from the watchdog's own
// goroutine (onWatchdogOverrun below) rather than a self-raised signal,
// since Go's single already-cooperative stop flag makes an actual
// self-signal redundant.
func handleSignals(log logging.Logger, graceful, crash chan os.Signal, mainStop *stopFlag) {
	for {
		select {
		case sig := <-graceful:
			log.Info("received signal, stopping", "signal", sig.String())
			mainStop.request()
			return
		case sig := <-crash:
			fmt.Fprintf(os.Stderr, "knd: fatal signal %s\n%s\n", sig, debug.Stack())
			os.Exit(255)
		}
	}
}

// onWatchdogOverrun is the watchdog's escalation callback. The first
// overrun requests a graceful stop; because the watchdog re-kicks itself
// immediately before invoking this callback (see watchdog.Watchdog.run),
// a genuinely stuck process gets one more full timeout period before
// this fires again, at which point the process is already mid-shutdown
// and a second overrun terminates it outright.
func onWatchdogOverrun(log logging.Logger, mainStop *stopFlag) {
	log.Error("watchdog overrun: pipeline appears stalled")
	if mainStop.requested() {
		os.Exit(255)
	}
	mainStop.request()
}

func (s *stopFlag) requested() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
