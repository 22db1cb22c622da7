// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "plain", content: "1234", want: 1234},
		{name: "newline", content: "42\n", want: 42},
		{name: "garbage", content: "abc", wantErr: true},
		{name: "zero", content: "0", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".pid")
			require.NoError(t, os.WriteFile(p, []byte(tt.content), 0o644))
			got, err := ReadPIDFile(p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadPIDFile(%q) error got %v, wantErr %v", tt.content, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadPIDFile(%q) got %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Errorf("Alive(self) got false, want true")
	}
	if Alive(0) || Alive(-1) {
		t.Errorf("Alive of non-positive pid got true, want false")
	}
}

func TestStartAndKillPIDFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := Start("sleep", []string{"30"}, filepath.Join(dir, "sleep.pid"), io.Discard)
	if err != nil {
		t.Skipf("cannot run sleep: %v", err)
	}
	require.NoError(t, WritePIDFile(filepath.Join(dir, "pid"), os.Getpid()))

	pid, err := ReadPIDFile(filepath.Join(dir, "sleep.pid"))
	require.NoError(t, err)
	require.Equal(t, p.PID(), pid)
	require.True(t, Alive(pid))

	require.NoError(t, KillPIDFiles(dir, "pid"))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child still running after KillPIDFiles")
	}
	if _, err := os.Stat(filepath.Join(dir, "sleep.pid")); !os.IsNotExist(err) {
		t.Errorf("sleep.pid still exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pid")); err != nil {
		t.Errorf("kept pid file was removed: %v", err)
	}

	// Nothing left to kill: must not fail.
	require.NoError(t, KillPIDFiles(dir, "pid"))
}

func TestKillGone(t *testing.T) {
	p, err := Start("true", nil, "", io.Discard)
	if err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	<-p.Done()
	require.NoError(t, Kill(p.PID()))
}

func TestFindByName(t *testing.T) {
	comm, err := os.ReadFile("/proc/self/comm")
	if err != nil {
		t.Skip(err)
	}
	name := string(comm[:len(comm)-1])
	var found bool
	for _, pid := range FindByName(name) {
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Errorf("FindByName(%q) did not return own pid %d", name, os.Getpid())
	}
}
