// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sta

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/u-root/createsta/pkg/config"
	"github.com/u-root/createsta/pkg/dhclient"
	"github.com/u-root/createsta/pkg/netif"
	"github.com/u-root/createsta/pkg/wifi"
)

// ErrNotRoot is returned when createsta runs without root privileges.
var ErrNotRoot = errors.New("createsta must be run as root")

// Host answers the questions Preflight asks about the machine.
type Host struct {
	Euid       func() int
	LookPath   func(string) (string, error)
	IsWireless func(string) bool
	Phy        func(string) (string, error)
	PhyInfo    func(string) (string, error)
}

// System is the running machine.
var System = Host{
	Euid:       os.Geteuid,
	LookPath:   exec.LookPath,
	IsWireless: netif.IsWireless,
	Phy:        netif.Phy,
	PhyInfo:    wifi.PhyInfo,
}

// Preflight checks privileges, tools and adapter capabilities. It changes
// nothing on the system.
func Preflight(cfg *config.Config, h Host) error {
	if h.Euid() != 0 {
		return ErrNotRoot
	}

	tools := []string{"iw", "wpa_supplicant"}
	if !cfg.NoDHCP {
		b, err := cfg.Backend().Resolve()
		if err != nil {
			return err
		}
		if b == dhclient.External {
			tools = append(tools, "dhclient")
		}
	}
	for _, t := range tools {
		if _, err := h.LookPath(t); err != nil {
			return errors.Errorf("%s is required but was not found", t)
		}
	}
	if _, err := h.LookPath("haveged"); err != nil {
		logrus.Debugf("haveged not found, low entropy will not be fixed")
	}

	if !h.IsWireless(cfg.Interface) {
		return errors.Errorf("%s is not a wireless interface", cfg.Interface)
	}
	phy, err := h.Phy(cfg.Interface)
	if err != nil {
		return err
	}
	info, err := h.PhyInfo(phy)
	if err != nil {
		return err
	}
	if !wifi.SupportsManaged(info) {
		return errors.Errorf("%s (%s) cannot run in station mode", cfg.Interface, phy)
	}
	if cfg.SupplicantConfig != "" {
		return nil
	}
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	if mode == wifi.ModeSAE && !wifi.SupportsSAE(info) {
		return errors.Errorf("%s (%s) does not support SAE", cfg.Interface, phy)
	}
	return nil
}
