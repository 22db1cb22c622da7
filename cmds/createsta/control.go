// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/u-root/createsta/pkg/control"
	"github.com/u-root/createsta/pkg/instance"
	"github.com/u-root/createsta/pkg/lock"
	"github.com/u-root/createsta/pkg/netif"
	"github.com/u-root/createsta/pkg/wifi"
)

var stations = wifi.Stations

// resolve turns a pid or interface name into the pid and interface of a
// running instance.
func resolve(reg *instance.Registry, target string) (int, string, error) {
	if pid, err := strconv.Atoi(target); err == nil {
		iface, err := reg.InterfaceFromPID(pid)
		return pid, iface, err
	}
	pid, err := reg.PIDFromInterface(target)
	if err != nil {
		return 0, "", err
	}
	iface, err := reg.InterfaceFromPID(pid)
	return pid, iface, err
}

// releaseLock drops the lock files of a control command. The shared lock
// file goes too when no instance is left to use it.
func releaseLock(reg *instance.Registry, m *lock.Mutex) error {
	err := m.Do(func() error {
		others, err := reg.OthersRunning(os.Getpid())
		if err != nil || others {
			return err
		}
		return m.RemoveLockFile()
	})
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	return err
}

func listRunning(w io.Writer, reg *instance.Registry, m *lock.Mutex) error {
	var entries []instance.Entry
	if err := m.Do(func() (err error) {
		entries, err = reg.ListRunning()
		return err
	}); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No running instances")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tINTERFACE\tDIRECTORY")
	for _, e := range entries {
		iface := e.Actual
		if e.Actual != e.Requested {
			iface = fmt.Sprintf("%s (%s)", e.Actual, e.Requested)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.PID, iface, e.Dir)
	}
	return tw.Flush()
}

func stop(reg *instance.Registry, m *lock.Mutex, target string) error {
	var pid int
	if err := m.Do(func() (err error) {
		pid, _, err = resolve(reg, target)
		return err
	}); err != nil {
		return err
	}
	if err := control.SendStop(pid); err != nil {
		return err
	}
	logrus.Infof("Asked instance %d to stop", pid)
	return nil
}

func listClients(w io.Writer, reg *instance.Registry, m *lock.Mutex, target string) error {
	var iface string
	if err := m.Do(func() (err error) {
		_, iface, err = resolve(reg, target)
		return err
	}); err != nil {
		return err
	}
	peers, err := stations(iface)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Fprintf(w, "No peers on %s\n", iface)
		return nil
	}
	ips, err := netif.Netlink{}.Neighbors(iface)
	if err != nil {
		logrus.Debugf("No neighbour table for %s: %v", iface, err)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tIP\tSIGNAL\tINACTIVE")
	for _, p := range peers {
		ip := "*"
		if a, ok := ips[p.MAC.String()]; ok {
			ip = a.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.MAC, ip, p.Signal, p.Inactive)
	}
	return tw.Flush()
}
