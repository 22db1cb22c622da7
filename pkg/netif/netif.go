// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package netif prepares network interfaces for station mode.
package netif

import (
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// SysClassNet is where the kernel exposes network interfaces.
var SysClassNet = "/sys/class/net"

var execCommand = exec.Command

// IsWireless reports whether name is a wireless interface. The phy80211
// link only has to be present.
func IsWireless(name string) bool {
	for _, f := range []string{"wireless", "phy80211"} {
		if _, err := os.Lstat(filepath.Join(SysClassNet, name, f)); err == nil {
			return true
		}
	}
	return false
}

// Exists reports whether an interface called name exists.
func Exists(name string) bool {
	_, err := os.Stat(filepath.Join(SysClassNet, name))
	return err == nil
}

// Phy returns the wiphy name, e.g. phy0, of a wireless interface.
func Phy(name string) (string, error) {
	p, err := os.Readlink(filepath.Join(SysClassNet, name, "phy80211"))
	if err != nil {
		return "", errors.Wrapf(err, "%s is not a wireless interface", name)
	}
	return filepath.Base(p), nil
}

// Netlink changes interfaces through rtnetlink, and through iw where the
// kernel only offers nl80211.
type Netlink struct{}

func link(name string) (netlink.Link, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", name)
	}
	return l, nil
}

// Down sets name administratively down.
func (Netlink) Down(name string) error {
	l, err := link(name)
	if err != nil {
		return err
	}
	return errors.Wrapf(netlink.LinkSetDown(l), "%s down", name)
}

// Up sets name administratively up.
func (Netlink) Up(name string) error {
	l, err := link(name)
	if err != nil {
		return err
	}
	return errors.Wrapf(netlink.LinkSetUp(l), "%s up", name)
}

// FlushAddrs removes every address from name.
func (Netlink) FlushAddrs(name string) error {
	l, err := link(name)
	if err != nil {
		return err
	}
	addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
	if err != nil {
		return errors.Wrapf(err, "list addresses of %s", name)
	}
	for _, a := range addrs {
		a := a
		if err := netlink.AddrDel(l, &a); err != nil {
			return errors.Wrapf(err, "delete %s from %s", a.IPNet, name)
		}
	}
	return nil
}

// HardwareAddr returns the current MAC address of name.
func (Netlink) HardwareAddr(name string) (net.HardwareAddr, error) {
	l, err := link(name)
	if err != nil {
		return nil, err
	}
	return l.Attrs().HardwareAddr, nil
}

// SetHardwareAddr changes the MAC address of name. The link must be down.
func (Netlink) SetHardwareAddr(name string, mac net.HardwareAddr) error {
	l, err := link(name)
	if err != nil {
		return err
	}
	logrus.Debugf("Setting %s hardware address to %s", name, mac)
	return errors.Wrapf(netlink.LinkSetHardwareAddr(l, mac), "set %s address", name)
}

// AddVirtual creates a managed mode interface called name on phy.
func (Netlink) AddVirtual(phy, name string) error {
	return iw("phy", phy, "interface", "add", name, "type", "managed")
}

// DelVirtual deletes the interface called name.
func (Netlink) DelVirtual(name string) error {
	return iw("dev", name, "del")
}

// Neighbors maps the MAC addresses in name's IPv4 neighbour table to IPs.
func (Netlink) Neighbors(name string) (map[string]net.IP, error) {
	l, err := link(name)
	if err != nil {
		return nil, err
	}
	neighs, err := netlink.NeighList(l.Attrs().Index, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrapf(err, "neighbours of %s", name)
	}
	res := make(map[string]net.IP, len(neighs))
	for _, n := range neighs {
		if n.HardwareAddr != nil {
			res[n.HardwareAddr.String()] = n.IP
		}
	}
	return res, nil
}

func iw(args ...string) error {
	var stderr bytes.Buffer
	cmd := execCommand("iw", args...)
	cmd.Stderr = &stderr
	logrus.Debugf("Running iw %s", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "iw %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return nil
}
