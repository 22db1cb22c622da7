// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dhclient obtains a lease for the station interface, either from
// the dhclient binary or in process.
package dhclient

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/u-root/createsta/pkg/proc"
	"github.com/u-root/u-root/pkg/dhclient"
	"github.com/vishvananda/netlink"
)

// Backend selects the DHCP client.
type Backend string

const (
	Auto     Backend = "auto"
	External Backend = "dhclient"
	Native   Backend = "native"
)

// PIDFile is the name of the dhclient pid file in the instance directory.
const PIDFile = "dhclient.pid"

// Resolve turns Auto into External when the dhclient binary is installed
// and into Native otherwise.
func (b Backend) Resolve() (Backend, error) {
	switch b {
	case Auto:
		if _, err := exec.LookPath("dhclient"); err == nil {
			return External, nil
		}
		return Native, nil
	case External, Native:
		return b, nil
	}
	return "", errors.Errorf("unknown DHCP backend %q, must be auto, dhclient or native", string(b))
}

// Start runs dhclient in the foreground as a child, keeping its pid and
// leases in dir.
func Start(iface, dir string, out io.Writer) (*proc.Process, error) {
	pidFile := filepath.Join(dir, PIDFile)
	args := []string{"-d", "-pf", pidFile, "-lf", filepath.Join(dir, "dhclient.leases"), iface}
	return proc.Start("dhclient", args, pidFile, out)
}

// Config tunes the in-process client.
type Config struct {
	Timeout time.Duration
	Retries int
	Verbose bool
	IPv4    bool
	IPv6    bool
}

// DefaultConfig asks for an IPv4 lease with 15s per attempt and 5 retries.
var DefaultConfig = Config{Timeout: 15 * time.Second, Retries: 5, IPv4: true}

// Request starts configuring ifName with the in-process client. Progress
// messages are sent on cl, which is closed when the client is done or
// Request fails.
func Request(ctx context.Context, ifName string, c Config, cl chan<- string) error {
	iface, err := netlink.LinkByName(ifName)
	if err != nil {
		close(cl)
		return errors.Wrapf(err, "can't find link %s", ifName)
	}

	go configure(ctx, iface, c, cl)
	return nil
}

func configure(ctx context.Context, iface netlink.Link, c Config, cl chan<- string) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout*time.Duration(1<<uint(c.Retries)))
	defer cancel()

	dc := dhclient.Config{
		Timeout: c.Timeout,
		Retries: c.Retries,
	}
	if c.Verbose {
		dc.LogLevel = dhclient.LogSummary
	}
	r := dhclient.SendRequests(ctx, []netlink.Link{iface}, c.IPv4, c.IPv6, dc, 30*time.Second)

	defer close(cl)

	for {
		select {
		case <-ctx.Done():
			cl <- fmt.Sprintf("Done with dhclient: %v", ctx.Err())
			return

		case result, ok := <-r:
			if !ok {
				return
			}
			name := result.Interface.Attrs().Name
			if result.Err != nil {
				cl <- fmt.Sprintf("Could not configure %s: %v", name, result.Err)
			} else if err := result.Lease.Configure(); err != nil {
				cl <- fmt.Sprintf("Could not configure %s: %v", name, err)
			} else {
				cl <- fmt.Sprintf("Configured %s with %s", name, result.Lease)
			}
		}
	}
}
