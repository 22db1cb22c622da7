// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
)

// lockedElsewhere reports whether another open file description can not
// take the lock, i.e. somebody holds it.
func lockedElsewhere(t *testing.T, path string) bool {
	t.Helper()
	l := flock.New(path)
	ok, err := l.TryLock()
	require.NoError(t, err)
	if ok {
		require.NoError(t, l.Unlock())
	}
	return !ok
}

func TestNested(t *testing.T) {
	m := New(t.TempDir(), "create_sta")
	defer m.Close()

	for _, tt := range []struct {
		name    string
		acquire bool
		want    int
	}{
		{name: "first acquire", acquire: true, want: 1},
		{name: "nested acquire", acquire: true, want: 2},
		{name: "third acquire", acquire: true, want: 3},
		{name: "release", acquire: false, want: 2},
		{name: "release again", acquire: false, want: 1},
		{name: "outermost release", acquire: false, want: 0},
		{name: "acquire after full release", acquire: true, want: 1},
		{name: "final release", acquire: false, want: 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.acquire {
				_, err := m.Acquire()
				require.NoError(t, err)
			} else {
				require.NoError(t, m.Release())
			}
			n, err := m.Count()
			require.NoError(t, err)
			if n != tt.want {
				t.Errorf("Count() got %d, want %d", n, tt.want)
			}
			if got, want := m.Held(), tt.want > 0; got != want {
				t.Errorf("Held() got %v, want %v", got, want)
			}
			if got, want := lockedElsewhere(t, m.Path()), tt.want > 0; got != want {
				t.Errorf("OS lock held got %v, want %v", got, want)
			}
		})
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	m := New(t.TempDir(), "create_sta")
	defer m.Close()

	err := m.Release()
	require.ErrorIs(t, err, ErrNotHeld)

	n, err := m.Count()
	require.NoError(t, err)
	if n != 0 {
		t.Errorf("Count() after bad release got %d, want 0", n)
	}
}

func TestGuardReleaseOnce(t *testing.T) {
	m := New(t.TempDir(), "create_sta")
	defer m.Close()

	outer, err := m.Acquire()
	require.NoError(t, err)
	inner, err := m.Acquire()
	require.NoError(t, err)

	require.NoError(t, inner.Release())
	require.NoError(t, inner.Release())
	require.True(t, m.Held(), "double release of the inner guard dropped the outer hold")

	require.NoError(t, outer.Release())
	require.False(t, m.Held())
}

func TestDo(t *testing.T) {
	m := New(t.TempDir(), "create_sta")
	defer m.Close()

	err := m.Do(func() error {
		require.True(t, m.Held())
		return m.Do(func() error {
			n, err := m.Count()
			require.NoError(t, err)
			require.Equal(t, 2, n)
			return nil
		})
	})
	require.NoError(t, err)
	require.False(t, m.Held())
}

func TestSameNameSameMutex(t *testing.T) {
	root := t.TempDir()
	a, b := New(root, "create_sta"), New(root, "create_sta")
	if a != b {
		t.Errorf("New(%q) twice returned different mutexes", root)
	}
	defer a.Close()
}

type exhaustedLock struct{}

func (exhaustedLock) Lock() error {
	return &os.PathError{Op: "open", Path: "counter", Err: syscall.EMFILE}
}

func (exhaustedLock) Unlock() error { return nil }

func TestNoDescriptor(t *testing.T) {
	orig := newFileLock
	newFileLock = func(string) fileLock { return exhaustedLock{} }
	defer func() { newFileLock = orig }()

	m := New(t.TempDir(), "create_sta")
	defer m.Close()

	_, err := m.Acquire()
	require.ErrorIs(t, err, ErrNoDescriptor)
	require.False(t, m.Held())
}

const helperEnv = "CREATESTA_LOCK_HELPER_ROOT"

// TestHelperProcess is not a real test. It is re-executed by
// TestTwoProcesses to hold the lock from a second process.
func TestHelperProcess(t *testing.T) {
	root := os.Getenv(helperEnv)
	if root == "" {
		return
	}
	m := New(root, "create_sta")
	g, err := m.Acquire()
	if err != nil {
		os.Exit(2)
	}
	os.WriteFile(filepath.Join(root, "acquired"), nil, 0o644)
	time.Sleep(500 * time.Millisecond)
	os.WriteFile(filepath.Join(root, "released"), nil, 0o644)
	g.Release()
	m.Close()
	os.Exit(0)
}

func TestTwoProcesses(t *testing.T) {
	root := t.TempDir()
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), helperEnv+"="+root)
	require.NoError(t, cmd.Start())
	defer cmd.Wait()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(root, "acquired")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			t.Fatal("helper process never acquired the lock")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m := New(root, "create_sta")
	defer m.Close()
	g, err := m.Acquire()
	require.NoError(t, err)
	defer g.Release()

	if _, err := os.Stat(filepath.Join(root, "released")); err != nil {
		t.Errorf("Acquire returned while the helper still held the lock: %v", err)
	}
}

func TestLockFileReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "create_sta.all.lock")

	old := flock.New(path)
	require.NoError(t, old.Lock())

	got := make(chan fileLock)
	go func() {
		l, err := lockFile(path)
		if err != nil {
			t.Error(err)
		}
		got <- l
	}()

	// The holder removes the file before it lets go, as the last
	// instance does during cleanup.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Remove(path))
	require.NoError(t, old.Unlock())

	l := <-got
	require.NotNil(t, l)
	defer l.Unlock()
	require.FileExists(t, path)

	other := flock.New(path)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.False(t, ok, "lock on the current lock file is not held")
}
