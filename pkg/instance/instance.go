// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package instance manages the per-run working directories under the temp
// root and enumerates the createsta instances that are still alive.
//
// Each run owns <root>/create_sta.<iface>.conf.<random>, holding:
//
//	pid         pid of the controlling process
//	wifi_iface  name of the interface actually in use
//
// plus generated configuration and pid files of its children. Virtual
// interface names and the shared haveged live in <root>/create_sta.common.conf.
package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/u-root/createsta/pkg/proc"
)

const (
	// Prefix starts every file and directory createsta puts in the root.
	Prefix = "create_sta"

	pidFile   = "pid"
	ifaceFile = "wifi_iface"
	commonDir = Prefix + ".common.conf"
)

// ErrNotFound is returned when no running instance matches a lookup.
var ErrNotFound = errors.New("no running instance found")

// Registry is the set of instance directories under Root.
type Registry struct {
	Root string
}

// Entry describes one running instance.
type Entry struct {
	PID int
	// Requested is the interface named on the command line.
	Requested string
	// Actual is the interface in use, which differs from Requested when a
	// virtual interface was created.
	Actual string
	Dir    string
}

// Dir is the working directory of the current instance.
type Dir struct {
	path string
}

// Create allocates a new instance directory for iface and records pid in it.
func (r *Registry) Create(iface string, pid int) (*Dir, error) {
	if strings.ContainsAny(iface, "/.") {
		return nil, errors.Errorf("bad interface name %q", iface)
	}
	p, err := os.MkdirTemp(r.Root, fmt.Sprintf("%s.%s.conf.", Prefix, iface))
	if err != nil {
		return nil, errors.Wrap(err, "create instance directory")
	}
	d := &Dir{path: p}
	// World-readable so other users can enumerate, writable by root only.
	if err := os.Chmod(p, 0o755); err != nil {
		d.Remove()
		return nil, err
	}
	if err := proc.WritePIDFile(d.Path(pidFile), pid); err != nil {
		d.Remove()
		return nil, err
	}
	if err := os.Chmod(d.Path(pidFile), 0o444); err != nil {
		d.Remove()
		return nil, err
	}
	if err := d.SetInterface(iface); err != nil {
		d.Remove()
		return nil, err
	}
	return d, nil
}

// Open returns the Dir at path.
func Open(path string) *Dir {
	return &Dir{path: path}
}

// String returns the directory path.
func (d *Dir) String() string {
	return d.path
}

// Path returns the path of name inside the directory.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.path, name)
}

// SetInterface records the interface actually in use.
func (d *Dir) SetInterface(iface string) error {
	p := d.Path(ifaceFile)
	os.Remove(p)
	if err := os.WriteFile(p, []byte(iface+"\n"), 0o444); err != nil {
		return errors.Wrap(err, "record interface")
	}
	return nil
}

// Remove deletes the directory. A missing directory is not an error.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PIDFileName is the name of the controlling process's pid file, which
// must survive child cleanup.
func PIDFileName() string {
	return pidFile
}

func (r *Registry) dirs() ([]string, error) {
	return filepath.Glob(filepath.Join(r.Root, Prefix+".*.conf.*"))
}

// requested extracts the interface from create_sta.<iface>.conf.<random>.
func requested(dir string) string {
	s := strings.TrimPrefix(filepath.Base(dir), Prefix+".")
	if i := strings.LastIndex(s, ".conf."); i >= 0 {
		return s[:i]
	}
	return s
}

func readEntry(dir string) (Entry, bool) {
	pid, err := proc.ReadPIDFile(filepath.Join(dir, pidFile))
	if err != nil || !proc.Alive(pid) {
		return Entry{}, false
	}
	e := Entry{PID: pid, Requested: requested(dir), Dir: dir}
	if b, err := os.ReadFile(filepath.Join(dir, ifaceFile)); err == nil {
		e.Actual = strings.TrimSpace(string(b))
	}
	if e.Actual == "" {
		e.Actual = e.Requested
	}
	return e, true
}

// ListRunning returns every instance whose process is alive. Stale
// directories are skipped but left in place.
func (r *Registry) ListRunning() ([]Entry, error) {
	dirs, err := r.dirs()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, d := range dirs {
		if e, ok := readEntry(d); ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries, nil
}

// PIDFromInterface returns the pid of the instance using iface, matching
// either the requested or the actual interface.
func (r *Registry) PIDFromInterface(iface string) (int, error) {
	entries, err := r.ListRunning()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Requested == iface || e.Actual == iface {
			return e.PID, nil
		}
	}
	return 0, errors.Wrapf(ErrNotFound, "interface %s", iface)
}

// InterfaceFromPID returns the interface in use by the instance with pid.
func (r *Registry) InterfaceFromPID(pid int) (string, error) {
	entries, err := r.ListRunning()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.PID == pid {
			return e.Actual, nil
		}
	}
	return "", errors.Wrapf(ErrNotFound, "pid %d", pid)
}

// OthersRunning reports whether an instance other than self is alive.
func (r *Registry) OthersRunning(self int) (bool, error) {
	entries, err := r.ListRunning()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.PID != self {
			return true, nil
		}
	}
	return false, nil
}

// ReapStale removes directories whose owning process is gone. The caller
// must hold the global lock.
func (r *Registry) ReapStale() error {
	dirs, err := r.dirs()
	if err != nil {
		return err
	}
	var firstErr error
	for _, d := range dirs {
		pid, err := proc.ReadPIDFile(filepath.Join(d, pidFile))
		if err == nil && proc.Alive(pid) {
			continue
		}
		if os.IsNotExist(errors.Cause(err)) {
			// Still being created, or not ours to judge.
			continue
		}
		if err := os.RemoveAll(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CommonDir returns the shared directory, creating it on first use.
func (r *Registry) CommonDir() (string, error) {
	p := filepath.Join(r.Root, commonDir)
	if err := os.MkdirAll(filepath.Join(p, "ifaces"), 0o755); err != nil {
		return "", errors.Wrap(err, "create common directory")
	}
	return p, nil
}

// CommonFile returns the path of name in the shared directory without
// creating anything.
func (r *Registry) CommonFile(name string) string {
	return filepath.Join(r.Root, commonDir, name)
}

// RemoveCommonDir deletes the shared directory.
func (r *Registry) RemoveCommonDir() error {
	return os.RemoveAll(filepath.Join(r.Root, commonDir))
}

// AllocVirtualName reserves the first free name prefix0, prefix1, ... that
// is neither reserved by another instance nor an existing interface. The
// caller must hold the global lock.
func (r *Registry) AllocVirtualName(prefix string, exists func(string) bool) (string, error) {
	common, err := r.CommonDir()
	if err != nil {
		return "", err
	}
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		if len(name) > 15 {
			break
		}
		res := filepath.Join(common, "ifaces", name)
		if _, err := os.Stat(res); err == nil || exists(name) {
			continue
		}
		if err := os.WriteFile(res, nil, 0o644); err != nil {
			return "", errors.Wrap(err, "reserve interface name")
		}
		return name, nil
	}
	return "", errors.Errorf("no free interface name for prefix %q", prefix)
}

// ReleaseVirtualName drops the reservation of name.
func (r *Registry) ReleaseVirtualName(name string) error {
	err := os.Remove(filepath.Join(r.Root, commonDir, "ifaces", name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
