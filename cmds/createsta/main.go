// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// createsta connects a wireless interface to a network as a station and
// undoes every change when it exits.
//
// Synopsis:
//
//	createsta [OPTIONS] WIFI_IFACE [SSID [PASSPHRASE]]
//	createsta --select [OPTIONS] WIFI_IFACE
//	createsta --list-running
//	createsta --list-clients PID|IFACE
//	createsta --stop PID|IFACE
//
// Every option can also be set as CREATE_STA_<OPTION>, with dashes turned
// into underscores, or in the YAML or TOML file named by CREATE_STA_SETTINGS.
// CREATE_STA_TMPDIR moves the instance directories out of /tmp.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/u-root/createsta/pkg/config"
	"github.com/u-root/createsta/pkg/control"
	"github.com/u-root/createsta/pkg/instance"
	"github.com/u-root/createsta/pkg/lock"
	"github.com/u-root/createsta/pkg/nm"
	"github.com/u-root/createsta/pkg/proc"
	"github.com/u-root/createsta/pkg/sta"
)

var version = "0.1.0"

// preflight is replaced in tests.
var preflight = func(cfg *config.Config) error {
	return sta.Preflight(cfg, sta.System)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := config.Flags("createsta")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: createsta [options] <wifi-interface> [<ssid> [<passphrase>]]\n\n")
		fs.PrintDefaults()
	}
	cfg, err := config.Load(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		logrus.Error(err)
		return 1
	}
	setupLogging(cfg)

	if cfg.Version {
		fmt.Fprintln(stdout, version)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		logrus.Error(err)
		return 1
	}

	reg := &instance.Registry{Root: cfg.TmpDir}
	m := lock.New(cfg.TmpDir, instance.Prefix)
	switch {
	case cfg.ListRunning:
		err = listRunning(stdout, reg, m)
	case cfg.ListClients != "":
		err = listClients(stdout, reg, m, cfg.ListClients)
	case cfg.Stop != "":
		err = stop(reg, m, cfg.Stop)
	default:
		return start(cfg, args, reg, m)
	}
	if rerr := releaseLock(reg, m); err == nil {
		err = rerr
	}
	if err != nil {
		logrus.Error(err)
		return 1
	}
	return 0
}

func setupLogging(cfg *config.Config) {
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if detached() {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
}

func start(cfg *config.Config, args []string, reg *instance.Registry, m *lock.Mutex) int {
	if err := preflight(cfg); err != nil {
		logrus.Error(err)
		return 1
	}
	if cfg.Selecting() {
		if err := runSelect(cfg, reg, m); err != nil {
			logrus.Error(err)
			return 1
		}
		if err := cfg.Validate(); err != nil {
			logrus.Error(err)
			return 1
		}
		// The chosen network may need SAE support.
		if err := preflight(cfg); err != nil {
			logrus.Error(err)
			return 1
		}
	}
	if cfg.Daemon && !detached() {
		pid, err := daemonize(cfg, args)
		if err != nil {
			logrus.Error(err)
			return 1
		}
		logrus.Infof("Running in the background as pid %d", pid)
		return 0
	}
	if cfg.Daemon && cfg.PIDFile != "" {
		if err := proc.WritePIDFile(cfg.PIDFile, os.Getpid()); err != nil {
			logrus.Error(err)
			return 1
		}
		defer os.Remove(cfg.PIDFile)
	}

	sup := control.New(context.Background())
	stopSignals := sup.Notify()
	defer stopSignals()

	var deps sta.Deps
	if nm.Detect() {
		m, err := nm.New(cfg.NMConf)
		if err != nil {
			logrus.Warnf("NetworkManager is running but unreachable: %v", err)
		} else {
			defer m.Close()
			deps.NM = m
		}
	}

	if err := sta.New(cfg, sup, deps).Run(); err != nil {
		logrus.Error(err)
		return 1
	}
	return sup.ExitCode()
}
