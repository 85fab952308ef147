/*
NAME
  config.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config holds the environment-derived settings the orchestrator
// needs before it can build anything else: timeouts, the save directory,
// the log level, and the listen port.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ausocean/utils/logging"
)

// Env var names read at startup.
const (
	EnvInitTimeout = "KND_INITTIMEOUT"
	EnvRunTimeout  = "KND_RUNTIMEOUT"
	EnvSaveDir     = "KND_SAVEDIR"
	EnvLogLevel    = "KND_LOG_LEVEL"
	EnvPort        = "KND_PORT"
)

// Defaults per the specification.
const (
	DefaultInitTimeout = 7 * time.Second
	DefaultRunTimeout  = 750 * time.Millisecond
	DefaultSaveDir     = "/var/lib/knd"
	DefaultPort        = 14308
)

// Config is the full set of environment-derived settings.
type Config struct {
	// InitTimeout is the watchdog's timeout during startup, before the
	// sensor event loop begins running.
	InitTimeout time.Duration

	// RunTimeout is the watchdog's timeout once steady-state operation
	// begins.
	RunTimeout time.Duration

	// SaveDir is the directory the persistence store reads from and
	// writes to.
	SaveDir string

	// LogLevel is the minimum severity logged, using the same scale as
	// logging.Debug..logging.Fatal.
	LogLevel int8

	// Port is the broadcast server's TCP listen port.
	Port int
}

// FromEnv reads a Config from the process environment, applying the
// defaults above for anything unset. A set value that does not parse is
// returned as an error.
func FromEnv() (Config, error) {
	cfg := Config{
		InitTimeout: DefaultInitTimeout,
		RunTimeout:  DefaultRunTimeout,
		SaveDir:     DefaultSaveDir,
		LogLevel:    logging.Info,
		Port:        DefaultPort,
	}

	if v, ok := os.LookupEnv(EnvInitTimeout); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s=%q: %w", EnvInitTimeout, v, err)
		}
		cfg.InitTimeout = time.Duration(secs * float64(time.Second))
	}

	if v, ok := os.LookupEnv(EnvRunTimeout); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s=%q: %w", EnvRunTimeout, v, err)
		}
		cfg.RunTimeout = time.Duration(secs * float64(time.Second))
	}

	if v, ok := os.LookupEnv(EnvSaveDir); ok && v != "" {
		cfg.SaveDir = v
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		lvl, err := parseLogLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.LogLevel = lvl
	}

	if v, ok := os.LookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s=%q: %w", EnvPort, v, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

// parseLogLevel accepts either a bare integer (logging.Debug..logging.Fatal)
// or one of the names debug/info/warning/error/fatal, case-sensitively
// lowercase.
func parseLogLevel(v string) (int8, error) {
	switch v {
	case "debug":
		return logging.Debug, nil
	case "info":
		return logging.Info, nil
	case "warning":
		return logging.Warning, nil
	case "error":
		return logging.Error, nil
	case "fatal":
		return logging.Fatal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: not a recognised level", EnvLogLevel, v)
	}
	return int8(n), nil
}
