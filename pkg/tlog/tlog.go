// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tlog sends logrus output to the running test.
package tlog

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// Hook logs every entry with t.Log.
type Hook struct {
	T testing.TB

	mu      sync.Mutex
	entries []string
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *Hook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, e.Level.String()+": "+e.Message)
	h.mu.Unlock()
	h.T.Log(strings.ToUpper(e.Level.String()[:4]) + " " + e.Message)
	return nil
}

// Contains reports whether a message containing s was logged at level.
func (h *Hook) Contains(level logrus.Level, s string) bool {
	return h.Count(level, s) > 0
}

// Count returns how many messages containing s were logged at level.
func (h *Hook) Count(level logrus.Level, s string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if strings.HasPrefix(e, level.String()+": ") && strings.Contains(e, s) {
			n++
		}
	}
	return n
}

// Capture sends the standard logger to t, at debug level, until the test
// ends.
func Capture(t testing.TB) *Hook {
	l := logrus.StandardLogger()
	h := &Hook{T: t}
	out, level := l.Out, l.GetLevel()
	hooks := l.ReplaceHooks(logrus.LevelHooks{})
	l.AddHook(h)
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		l.ReplaceHooks(hooks)
		l.SetOutput(out)
		l.SetLevel(level)
	})
	return h
}
