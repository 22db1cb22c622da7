// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package entropy keeps the kernel entropy pool topped up with haveged
// while an instance runs.
package entropy

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/u-root/createsta/pkg/proc"
)

// Defaults for Watchdog.
const (
	DefaultThreshold = 1000
	DefaultInterval  = 2 * time.Second
)

// AvailPath is where the kernel reports the entropy estimate.
var AvailPath = "/proc/sys/kernel/random/entropy_avail"

// Locker runs fn while holding the global lock.
type Locker interface {
	Do(fn func() error) error
}

// Watchdog starts one shared haveged when entropy runs low.
type Watchdog struct {
	Lock      Locker
	Threshold int
	Interval  time.Duration
	// PIDFile is haveged's pid file in the common directory.
	PIDFile string

	// Start launches haveged. It defaults to StartHaveged.
	Start func(pidFile string) error
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)

	warned bool
}

// Run checks the pool every Interval until ctx is done. A failure to start
// haveged is passed to fatal and ends the watchdog.
func (w *Watchdog) Run(ctx context.Context, fatal func(error) bool) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := w.check(); err != nil {
			fatal(errors.Wrap(err, "entropy watchdog"))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (w *Watchdog) check() error {
	avail, err := Avail()
	if err != nil {
		w.warnOnce("Cannot read the entropy estimate: %v", err)
		return nil
	}
	threshold := w.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if avail >= threshold {
		return nil
	}

	lookPath := w.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("haveged"); err != nil {
		w.warnOnce("Low entropy (%d) and haveged is not installed, connections may be slow", avail)
		return nil
	}

	return w.Lock.Do(func() error {
		if pid, err := proc.ReadPIDFile(w.PIDFile); err == nil && proc.Alive(pid) {
			return nil
		}
		if len(proc.FindByName("haveged")) > 0 {
			return nil
		}
		logrus.Infof("Low entropy (%d), starting haveged", avail)
		start := w.Start
		if start == nil {
			start = StartHaveged
		}
		return start(w.PIDFile)
	})
}

func (w *Watchdog) warnOnce(format string, args ...interface{}) {
	if !w.warned {
		logrus.Warnf(format, args...)
		w.warned = true
	}
}

// Avail reads the kernel entropy estimate.
func Avail() (int, error) {
	b, err := os.ReadFile(AvailPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

// StartHaveged runs haveged, which daemonizes and writes pidFile.
func StartHaveged(pidFile string) error {
	var stderr bytes.Buffer
	cmd := exec.Command("haveged", "-w", "1024", "-p", pidFile)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "haveged: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}
