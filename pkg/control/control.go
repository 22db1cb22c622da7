// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package control funnels every reason to shut an instance down into one
// cancellation.
//
// Helpers call Stop or Fatal directly. Other processes use OS signals,
// which Notify maps onto the same calls: SIGUSR1 is STOP, SIGUSR2 is FATAL,
// and SIGINT, SIGTERM and SIGHUP are interrupts.
package control

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Reason is why the supervisor was asked to shut down.
type Reason int

const (
	None Reason = iota
	Stop
	Fatal
	Interrupt
)

func (r Reason) String() string {
	switch r {
	case None:
		return "none"
	case Stop:
		return "stop"
	case Fatal:
		return "fatal"
	case Interrupt:
		return "interrupt"
	}
	return "unknown"
}

const (
	StopSignal  = unix.SIGUSR1
	FatalSignal = unix.SIGUSR2
)

// ErrFatalSignal is the error recorded when FATAL arrives as a signal.
var ErrFatalSignal = errors.New("fatal signal received")

// Supervisor records the first shutdown request and cancels its context.
// Later requests are ignored.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason Reason
	err    error
}

// New returns a supervisor whose context is derived from parent.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Context is cancelled by the first request.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Stop requests a clean shutdown. It reports whether this was the first
// request.
func (s *Supervisor) Stop() bool {
	return s.request(Stop, nil)
}

// Fatal requests a shutdown with a non-zero exit.
func (s *Supervisor) Fatal(err error) bool {
	if err == nil {
		err = errors.New("unspecified fatal error")
	}
	return s.request(Fatal, err)
}

// Interrupt requests a shutdown because sig was received.
func (s *Supervisor) Interrupt(sig os.Signal) bool {
	return s.request(Interrupt, errors.Errorf("interrupted by %v", sig))
}

func (s *Supervisor) request(r Reason, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != None {
		logrus.Debugf("Ignoring %v request, already shutting down (%v)", r, s.reason)
		return false
	}
	s.reason, s.err = r, err
	switch r {
	case Fatal:
		logrus.Errorf("Fatal error: %v", err)
	case Interrupt:
		logrus.Infof("Shutting down: %v", err)
	default:
		logrus.Infof("Stop requested")
	}
	s.cancel()
	return true
}

// Reason returns the first request, or None.
func (s *Supervisor) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the error of a Fatal or Interrupt request.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ExitCode is 1 after a Fatal request and 0 otherwise.
func (s *Supervisor) ExitCode() int {
	if s.Reason() == Fatal {
		return 1
	}
	return 0
}

// Notify routes OS signals into s until the returned function is called.
func (s *Supervisor) Notify() (stop func()) {
	ch := make(chan os.Signal, 4)
	done := make(chan struct{})
	signal.Notify(ch, StopSignal, FatalSignal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				logrus.Debugf("Signal received: %s", sig)
				s.dispatch(sig)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

func (s *Supervisor) dispatch(sig os.Signal) bool {
	switch sig {
	case StopSignal:
		return s.Stop()
	case FatalSignal:
		return s.Fatal(ErrFatalSignal)
	}
	return s.Interrupt(sig)
}

// SendStop asks the instance running as pid to shut down cleanly.
func SendStop(pid int) error {
	return errors.Wrapf(unix.Kill(pid, StopSignal), "send stop to %d", pid)
}

// SendFatal tells the instance running as pid that a helper failed.
func SendFatal(pid int) error {
	return errors.Wrapf(unix.Kill(pid, FatalSignal), "send fatal to %d", pid)
}
