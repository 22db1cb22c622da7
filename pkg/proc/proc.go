// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proc keeps track of the child processes of an instance through
// pid files in its working directory.
package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Process is a started child.
type Process struct {
	Cmd     *exec.Cmd
	PIDFile string
	done    chan error
}

// Start runs name with args as a child, records its pid in pidFile and
// returns immediately. out receives stdout and stderr.
func Start(name string, args []string, pidFile string, out io.Writer) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout, cmd.Stderr = out, out
	logrus.Debugf("Running %s %s", name, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", name)
	}
	p := &Process{Cmd: cmd, PIDFile: pidFile, done: make(chan error, 1)}
	if pidFile != "" {
		if err := WritePIDFile(pidFile, cmd.Process.Pid); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return nil, err
		}
	}
	go func() {
		p.done <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Done delivers the exit status once the child exits.
func (p *Process) Done() <-chan error {
	return p.done
}

// PID returns the child's pid.
func (p *Process) PID() int {
	return p.Cmd.Process.Pid
}

// WritePIDFile writes pid to path.
func WritePIDFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return errors.Wrapf(err, "write pid file")
	}
	return nil
}

// ReadPIDFile parses the pid stored in path.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "bad pid in %s", path)
	}
	if pid <= 0 {
		return 0, errors.Errorf("bad pid %d in %s", pid, path)
	}
	return pid, nil
}

// Alive reports whether pid names an existing process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// killWait is how long Kill waits after SIGTERM before sending SIGKILL.
var killWait = 2 * time.Second

// Kill terminates pid: SIGTERM, then SIGKILL if it is still around after a
// short, fixed wait. A process that is already gone is not an error.
func Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return errors.Wrapf(err, "kill %d", pid)
	}
	for deadline := time.Now().Add(killWait); time.Now().Before(deadline); {
		if !Alive(pid) || zombie(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, "kill -9 %d", pid)
	}
	return nil
}

// zombie reports whether pid exited but was not reaped yet.
func zombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return false
	}
	return s[i+2] == 'Z'
}

// KillPIDFiles kills every process recorded in a *.pid file in dir, except
// files named in keep, and removes the pid files.
func KillPIDFiles(dir string, keep ...string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.pid"))
	if err != nil {
		return err
	}
	var firstErr error
	for _, f := range files {
		if contains(keep, filepath.Base(f)) {
			continue
		}
		pid, err := ReadPIDFile(f)
		if err != nil {
			os.Remove(f)
			continue
		}
		if pid == os.Getpid() {
			continue
		}
		logrus.Debugf("Killing %s (pid %d)", filepath.Base(f), pid)
		if err := Kill(pid); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(f)
	}
	return firstErr
}

// FindByName returns the pids of running processes whose comm is name.
func FindByName(name string) []int {
	dirs, err := filepath.Glob("/proc/[0-9]*/comm")
	if err != nil {
		return nil
	}
	var pids []int
	for _, d := range dirs {
		b, err := os.ReadFile(d)
		if err != nil || strings.TrimSpace(string(b)) != name {
			continue
		}
		pid, err := strconv.Atoi(filepath.Base(filepath.Dir(d)))
		if err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
