// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nm keeps NetworkManager away from interfaces createsta drives.
//
// Interfaces are excluded with an interface-name entry in the
// unmanaged-devices key of the [keyfile] section. Only entries added by
// this process are ever removed again.
package nm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	busName = "org.freedesktop.NetworkManager"
	objPath = dbus.ObjectPath("/org/freedesktop/NetworkManager")

	section = "[keyfile]"
	key     = "unmanaged-devices"
)

// ConfPath is the NetworkManager configuration file edited by default.
var ConfPath = "/etc/NetworkManager/NetworkManager.conf"

var (
	pollInterval = time.Second
	pollTries    = 10
)

type bus interface {
	running() bool
	managed(iface string) (bool, error)
	reload() error
	close() error
}

// Manager edits the NetworkManager configuration and talks to the daemon
// over the system bus.
type Manager struct {
	Conf string

	bus   bus
	mu    sync.Mutex
	added map[string]bool
}

// New connects to the system bus.
func New(conf string) (*Manager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to system bus")
	}
	return newManager(conf, &dbusClient{conn: conn}), nil
}

func newManager(conf string, b bus) *Manager {
	return &Manager{Conf: conf, bus: b, added: map[string]bool{}}
}

// Close disconnects from the bus.
func (m *Manager) Close() error {
	return m.bus.close()
}

// Running reports whether NetworkManager owns its bus name.
func (m *Manager) Running() bool {
	return m.bus.running()
}

// Detect reports whether NetworkManager is running.
func Detect() bool {
	m, err := New(ConfPath)
	if err != nil {
		logrus.Debugf("NetworkManager detection: %v", err)
		return false
	}
	defer m.Close()
	return m.Running()
}

// Added reports whether this process registered iface as unmanaged.
func (m *Manager) Added(iface string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.added[iface]
}

// AddUnmanaged excludes iface from NetworkManager and waits until the
// daemon lets go of it. Callers hold the global lock.
func (m *Manager) AddUnmanaged(ctx context.Context, iface string) error {
	managed, err := m.bus.managed(iface)
	if err != nil {
		logrus.Debugf("NetworkManager does not know %s: %v", iface, err)
		return nil
	}
	if !managed {
		return nil
	}

	conf, err := readConf(m.Conf)
	if err != nil {
		return err
	}
	if err := writeConf(m.Conf, addUnmanaged(conf, iface)); err != nil {
		return err
	}
	m.mu.Lock()
	m.added[iface] = true
	m.mu.Unlock()

	logrus.Infof("Marking %s as unmanaged in %s", iface, m.Conf)
	if err := m.bus.reload(); err != nil {
		return errors.Wrap(err, "reload NetworkManager")
	}

	for i := 0; i < pollTries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		if managed, err := m.bus.managed(iface); err != nil || !managed {
			return nil
		}
	}
	return errors.Errorf("NetworkManager still manages %s after %v", iface, time.Duration(pollTries)*pollInterval)
}

// RemoveUnmanaged drops the entry AddUnmanaged wrote for iface. Entries
// this process did not add are left alone.
func (m *Manager) RemoveUnmanaged(iface string) error {
	if !m.Added(iface) {
		return nil
	}
	conf, err := readConf(m.Conf)
	if err != nil {
		return err
	}
	if err := writeConf(m.Conf, removeUnmanaged(conf, iface)); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.added, iface)
	m.mu.Unlock()

	logrus.Infof("Removing %s from the unmanaged devices in %s", iface, m.Conf)
	return errors.Wrap(m.bus.reload(), "reload NetworkManager")
}

func readConf(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	return string(b), errors.Wrapf(err, "read %s", path)
}

func writeConf(path, conf string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, []byte(conf), 0o644), "write %s", path)
}

func splitLines(conf string) []string {
	if conf == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(conf, "\n"), "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// keyfile returns the bounds of the [keyfile] section, header included.
// start is -1 when there is no such section.
func keyfile(lines []string) (start, end int) {
	start, end = -1, len(lines)
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if !strings.HasPrefix(l, "[") {
			continue
		}
		if start >= 0 {
			return start, i
		}
		if l == section {
			start = i
		}
	}
	return start, end
}

// keyLine returns the index of the unmanaged-devices line and its values.
func keyLine(lines []string, start, end int) (int, []string) {
	for i := start + 1; i < end; i++ {
		k, v, ok := strings.Cut(lines[i], "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		var vals []string
		for _, s := range strings.Split(v, ";") {
			if s = strings.TrimSpace(s); s != "" {
				vals = append(vals, s)
			}
		}
		return i, vals
	}
	return -1, nil
}

func entry(iface string) string {
	return "interface-name:" + iface
}

func addUnmanaged(conf, iface string) string {
	lines := splitLines(conf)
	start, end := keyfile(lines)
	if start < 0 {
		return joinLines(append(lines, section, key+"="+entry(iface)))
	}
	i, vals := keyLine(lines, start, end)
	if i < 0 {
		lines = append(lines[:start+1], append([]string{key + "=" + entry(iface)}, lines[start+1:]...)...)
		return joinLines(lines)
	}
	for _, v := range vals {
		if v == entry(iface) {
			return conf
		}
	}
	lines[i] = key + "=" + strings.Join(append(vals, entry(iface)), ";")
	return joinLines(lines)
}

func removeUnmanaged(conf, iface string) string {
	lines := splitLines(conf)
	start, end := keyfile(lines)
	if start < 0 {
		return conf
	}
	i, vals := keyLine(lines, start, end)
	if i < 0 {
		return conf
	}
	var keep []string
	for _, v := range vals {
		if v != entry(iface) {
			keep = append(keep, v)
		}
	}
	if len(keep) > 0 {
		lines[i] = key + "=" + strings.Join(keep, ";")
		return joinLines(lines)
	}

	lines = append(lines[:i], lines[i+1:]...)
	end--
	for j := start + 1; j < end; j++ {
		if strings.TrimSpace(lines[j]) != "" {
			return joinLines(lines)
		}
	}
	return joinLines(append(lines[:start], lines[end:]...))
}

type dbusClient struct {
	conn *dbus.Conn
}

func (c *dbusClient) running() bool {
	var has bool
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, busName).Store(&has); err != nil {
		logrus.Debugf("NameHasOwner(%s): %v", busName, err)
		return false
	}
	return has
}

func (c *dbusClient) managed(iface string) (bool, error) {
	var dev dbus.ObjectPath
	if err := c.conn.Object(busName, objPath).Call(busName+".GetDeviceByIpIface", 0, iface).Store(&dev); err != nil {
		return false, err
	}
	v, err := c.conn.Object(busName, dev).GetProperty(busName + ".Device.Managed")
	if err != nil {
		return false, err
	}
	managed, ok := v.Value().(bool)
	if !ok {
		return false, errors.Errorf("unexpected Managed property %v", v)
	}
	return managed, nil
}

func (c *dbusClient) reload() error {
	return c.conn.Object(busName, objPath).Call(busName+".Reload", 0, uint32(0)).Err
}

func (c *dbusClient) close() error {
	return c.conn.Close()
}
