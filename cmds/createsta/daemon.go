// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
	"github.com/u-root/createsta/pkg/config"
)

// daemonEnv marks the detached copy of createsta.
const daemonEnv = "_CREATE_STA_DAEMON_"

func detached() bool {
	return os.Getenv(daemonEnv) != ""
}

// daemonize starts a copy of this process in a new session with its output
// going to the log file, and returns the copy's pid.
func daemonize(cfg *config.Config, args []string) (int, error) {
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = os.DevNull
	}
	out, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "open log file")
	}
	defer out.Close()

	cmd := &exec.Cmd{
		Path:   "/proc/self/exe",
		Args:   append([]string{os.Args[0]}, daemonArgs(cfg, args)...),
		Env:    append(os.Environ(), daemonEnv+"=1", "NOTIFY_SOCKET=", config.EnvPrefix+"_TMPDIR="+cfg.TmpDir, config.EnvPrefix+"_NM_CONF="+cfg.NMConf),
		Dir:    "/",
		Stdout: out,
		Stderr: out,
		SysProcAttr: &syscall.SysProcAttr{
			Setsid: true,
		},
	}
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "start daemon")
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}

// daemonArgs returns args with the absolute paths of cfg added as flags.
// They go before any "--" and after the user's flags, so they win.
func daemonArgs(cfg *config.Config, args []string) []string {
	var paths []string
	for _, f := range []struct{ name, value string }{
		{"pidfile", cfg.PIDFile},
		{"logfile", cfg.LogFile},
		{"config", cfg.SupplicantConfig},
	} {
		if f.value != "" {
			paths = append(paths, "--"+f.name+"="+f.value)
		}
	}
	out := make([]string, 0, len(args)+len(paths))
	for i, a := range args {
		if a == "--" {
			out = append(out, paths...)
			return append(out, args[i:]...)
		}
		out = append(out, a)
	}
	return append(out, paths...)
}
