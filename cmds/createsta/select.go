// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	ui "github.com/gizak/termui/v3"
	"github.com/pkg/errors"
	"github.com/u-root/createsta/pkg/config"
	"github.com/u-root/createsta/pkg/instance"
	"github.com/u-root/createsta/pkg/lock"
	"github.com/u-root/createsta/pkg/menu"
	"github.com/u-root/createsta/pkg/netif"
	"github.com/u-root/createsta/pkg/wifi"
)

var scan = func(iface string) ([]wifi.ScanResult, error) {
	if err := (netif.Netlink{}).Up(iface); err != nil {
		return nil, err
	}
	return wifi.Scan(iface)
}

// hiddenNetwork is the menu entry for a network that is not in the scan.
type hiddenNetwork struct{}

func (hiddenNetwork) Label() string { return "Hidden network..." }

func check(validate func(string) error) menu.Validator {
	return func(s string) (string, string, bool) {
		if err := validate(s); err != nil {
			return "", err.Error(), false
		}
		return s, "", true
	}
}

func passphraseCheck(m wifi.Mode) menu.Validator {
	if m == wifi.ModeWEP {
		return check(wifi.ValidateWEPKey)
	}
	return check(func(p string) error { return wifi.ValidatePassphrase(p, false) })
}

// hiddenPassphraseCheck accepts no passphrase, for an open network.
var hiddenPassphraseCheck = check(func(p string) error {
	if p == "" {
		return nil
	}
	return wifi.ValidatePassphrase(p, false)
})

// selectNetwork scans on the interface of cfg, lets the user pick a network
// and asks for its passphrase. The scan brings the interface up, so it runs
// with m held.
func selectNetwork(cfg *config.Config, m *lock.Mutex, uiEvents <-chan ui.Event) error {
	p := menu.NewProgress(fmt.Sprintf("Scanning for networks on %s", cfg.Interface), true)
	var results []wifi.ScanResult
	err := m.Do(func() (err error) {
		results, err = scan(cfg.Interface)
		return err
	})
	p.Close()
	if err != nil {
		menu.DisplayResult([]string{fmt.Sprintf("Scanning on %s failed:", cfg.Interface), err.Error()}, uiEvents)
		return err
	}

	entries := make([]menu.Entry, 0, len(results)+1)
	warnings := make([]string, len(results))
	for i, r := range results {
		entries = append(entries, r)
		if r.Enterprise {
			warnings[i] = "802.1X networks are not supported."
		}
	}
	entries = append(entries, hiddenNetwork{})
	e, err := menu.DisplayMenu("Wireless Networks", "Choose a network:", entries, uiEvents, warnings...)
	if err != nil {
		return err
	}

	if _, ok := e.(hiddenNetwork); ok {
		return selectHidden(cfg, uiEvents)
	}
	r := e.(wifi.ScanResult)
	var pass string
	if r.Mode != wifi.ModeOpen && r.Mode != wifi.ModeOWE {
		pass, err = menu.NewSecretWindow(fmt.Sprintf("Passphrase for %s:", r.SSID), passphraseCheck(r.Mode), uiEvents)
		if err != nil {
			return err
		}
	}
	cfg.Choose(r, pass)
	return nil
}

// selectHidden asks for the SSID of a hidden network. It is taken to be
// WPA-PSK, or open when no passphrase is given.
func selectHidden(cfg *config.Config, uiEvents <-chan ui.Event) error {
	ssid, err := menu.NewInputWindow("SSID of the hidden network:", check(wifi.ValidateSSID), uiEvents)
	if err != nil {
		return err
	}
	pass, err := menu.NewSecretWindow(fmt.Sprintf("Passphrase for %s (empty if open):", ssid), hiddenPassphraseCheck, uiEvents)
	if err != nil {
		return err
	}
	r := wifi.ScanResult{SSID: ssid, Mode: wifi.ModeWPAPSK}
	if pass == "" {
		r.Mode = wifi.ModeOpen
	}
	cfg.Choose(r, pass)
	cfg.Hidden = true
	return nil
}

func runSelect(cfg *config.Config, reg *instance.Registry, m *lock.Mutex) (err error) {
	defer func() {
		if rerr := releaseLock(reg, m); err == nil {
			err = rerr
		}
	}()
	if err := menu.Init(); err != nil {
		return errors.Wrap(err, "terminal")
	}
	defer menu.Close()
	return selectNetwork(cfg, m, menu.Events())
}
