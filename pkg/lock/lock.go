// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lock implements the host-wide mutex shared by all createsta
// instances.
//
// The mutex is an advisory flock on <root>/<name>.all.lock. It is
// reentrant per process: a counter kept in <root>/<name>.<pid>.lock, itself
// guarded by its own short-lived flock, records how many times this process
// acquired the mutex. The OS-level lock is only taken when the counter goes
// 0->1 and only dropped when it goes 1->0.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

var (
	// ErrNotHeld is returned by Release when the mutex is not held by this process.
	ErrNotHeld = errors.New("lock not held")
	// ErrNoDescriptor is returned when no file descriptor is available to
	// open a lock or counter file. Callers must abort.
	ErrNoDescriptor = errors.New("no free file descriptor")
)

// fileLock is the subset of *flock.Flock used here.
type fileLock interface {
	Lock() error
	Unlock() error
}

var newFileLock = func(path string) fileLock {
	return flock.New(path)
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Mutex{}
)

// Mutex is a named, reentrant, cross-process mutex.
type Mutex struct {
	path        string
	counterPath string

	// mu serializes counter updates between goroutines of this process.
	mu   sync.Mutex
	held fileLock
}

// New returns the mutex called name under root. All calls with the same
// root and name in one process return the same *Mutex.
func New(root, name string) *Mutex {
	path := filepath.Join(root, name+".all.lock")

	registryMu.Lock()
	defer registryMu.Unlock()
	if m, ok := registry[path]; ok {
		return m
	}
	m := &Mutex{
		path:        path,
		counterPath: filepath.Join(root, fmt.Sprintf("%s.%d.lock", name, os.Getpid())),
	}
	// A counter file left behind by a dead process that had our pid is stale.
	_ = os.Remove(m.counterPath)
	registry[path] = m
	return m
}

// Path returns the path of the shared lock file.
func (m *Mutex) Path() string {
	return m.path
}

// Guard is proof that the mutex was acquired once. Release it exactly once;
// further calls are no-ops.
type Guard struct {
	m    *Mutex
	once sync.Once
	err  error
}

// Release undoes the Acquire that produced g.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.m.Release()
	})
	return g.err
}

// Acquire takes the mutex, blocking until no other process holds it.
// Nested calls from the same process do not block.
func (m *Mutex) Acquire() (*Guard, error) {
	err := m.update(func(n int) (int, error) {
		if n == 0 {
			l, err := lockFile(m.path)
			if err != nil {
				return n, err
			}
			m.held = l
		}
		return n + 1, nil
	})
	if err != nil {
		return nil, err
	}
	return &Guard{m: m}, nil
}

// lockFile flocks path. The last instance removes the lock file on exit, so
// a lock taken on a file that was removed or replaced while this process
// waited is dropped and taken again on the current file.
func lockFile(path string) (fileLock, error) {
	for {
		before, err := os.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, openError(err, path)
		}
		l := newFileLock(path)
		if err := l.Lock(); err != nil {
			return nil, openError(err, path)
		}
		after, err := os.Stat(path)
		if err == nil && before != nil && os.SameFile(before, after) {
			return l, nil
		}
		if err := l.Unlock(); err != nil {
			return nil, errors.Wrapf(err, "unlock %s", path)
		}
	}
}

// Release decrements the counter and drops the OS-level lock when it
// reaches zero. It returns ErrNotHeld if the counter is already zero.
func (m *Mutex) Release() error {
	return m.update(func(n int) (int, error) {
		if n <= 0 {
			return 0, ErrNotHeld
		}
		if n == 1 && m.held != nil {
			if err := m.held.Unlock(); err != nil {
				return n, errors.Wrapf(err, "unlock %s", m.path)
			}
			m.held = nil
		}
		return n - 1, nil
	})
}

// Do runs fn with the mutex held.
func (m *Mutex) Do(fn func() error) error {
	g, err := m.Acquire()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		g.Release()
		return err
	}
	return g.Release()
}

// Count returns how many times this process currently holds the mutex.
func (m *Mutex) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return readCount(m.counterPath)
}

// Held reports whether this process holds the OS-level lock.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held != nil
}

// Close drops any lock still held and removes this process's counter file.
func (m *Mutex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.held != nil {
		err = m.held.Unlock()
		m.held = nil
	}
	if rerr := os.Remove(m.counterPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}

// RemoveLockFile removes the shared lock file. Callers decide when no other
// instance still needs it.
func (m *Mutex) RemoveLockFile() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// update runs fn on the counter while holding the counter lock and writes
// back the result. If the write fails after the OS lock was taken, the OS
// lock is dropped again so the invariant still holds.
func (m *Mutex) update(fn func(int) (int, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl := newFileLock(m.counterPath)
	if err := cl.Lock(); err != nil {
		return openError(err, m.counterPath)
	}
	defer cl.Unlock()

	n, err := readCount(m.counterPath)
	if err != nil {
		return err
	}
	wasHeld := m.held != nil
	next, err := fn(n)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.counterPath, []byte(strconv.Itoa(next)), 0o600); err != nil {
		if !wasHeld && m.held != nil {
			m.held.Unlock()
			m.held = nil
		}
		return openError(err, m.counterPath)
	}
	return nil
}

func readCount(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, openError(err, path)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "corrupt lock counter %s", path)
	}
	return n, nil
}

func openError(err error, path string) error {
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
		return errors.Wrapf(ErrNoDescriptor, "%s: %v", path, err)
	}
	return errors.Wrapf(err, "lock %s", path)
}
