// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"bufio"
	"bytes"
	"net"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	// RegEx for parsing iw output
	stationRE   = regexp.MustCompile(`^Station ([0-9a-fA-F:]{17}) \(on \S+\)`)
	connectedRE = regexp.MustCompile(`(?m)^Connected to ([0-9a-fA-F:]{17})`)
	linkSSIDRE  = regexp.MustCompile(`(?m)^\s*SSID: (.*)$`)
)

// saeSuite is the RSN AKM suite selector of SAE: OUI 00-0f-ac, type 8.
const saeSuite = "00-0f-ac:8"

var execCommand = exec.Command

func iw(args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := execCommand("iw", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "iw %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// PhyInfo returns the output of `iw phy <phy> info`.
func PhyInfo(phy string) (string, error) {
	out, err := iw("phy", phy, "info")
	return string(out), err
}

// block returns the "* item" lines that follow every header line
// containing title in iw's indented output.
func block(info, title string) []string {
	var items []string
	in := false
	s := bufio.NewScanner(strings.NewReader(info))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case strings.Contains(line, title):
			in = true
		case in && strings.HasPrefix(line, "* "):
			items = append(items, strings.TrimPrefix(line, "* "))
		default:
			in = false
		}
	}
	return items
}

// SupportsSAE reports whether the phy advertises the SAE AKM suite.
func SupportsSAE(info string) bool {
	for _, item := range block(info, "AKM suites") {
		if f := strings.Fields(item); len(f) > 0 && strings.EqualFold(f[0], saeSuite) {
			return true
		}
	}
	return false
}

// SupportsManaged reports whether the phy can run in station mode.
func SupportsManaged(info string) bool {
	for _, item := range block(info, "Supported interface modes") {
		if item == "managed" {
			return true
		}
	}
	return false
}

// ParseStationDump parses `iw dev <iface> station dump`.
func ParseStationDump(out []byte) []Station {
	var res []Station
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := s.Text()
		if m := stationRE.FindStringSubmatch(line); m != nil {
			mac, err := net.ParseMAC(m[1])
			if err != nil {
				continue
			}
			res = append(res, Station{MAC: mac})
			continue
		}
		if len(res) == 0 {
			continue
		}
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch k {
		case "signal":
			res[len(res)-1].Signal = v
		case "inactive time":
			res[len(res)-1].Inactive = v
		}
	}
	return res
}

// Stations lists the peers of iface.
func Stations(iface string) ([]Station, error) {
	out, err := iw("dev", iface, "station", "dump")
	if err != nil {
		return nil, err
	}
	return ParseStationDump(out), nil
}

// ParseLink parses `iw dev <iface> link`.
func ParseLink(out []byte) (bssid, ssid string, connected bool) {
	m := connectedRE.FindSubmatch(out)
	if m == nil {
		return "", "", false
	}
	if s := linkSSIDRE.FindSubmatch(out); s != nil {
		ssid = string(s[1])
	}
	return string(m[1]), ssid, true
}

// Associated reports whether iface is associated with an access point.
func Associated(iface string) (bool, error) {
	out, err := iw("dev", iface, "link")
	if err != nil {
		return false, err
	}
	_, _, ok := ParseLink(out)
	return ok, nil
}

// Supplicant describes one wpa_supplicant run.
type Supplicant struct {
	Interface string
	Driver    string
	Config    string
}

// Args returns the wpa_supplicant command line.
func (s *Supplicant) Args() []string {
	args := []string{"-i" + s.Interface, "-c" + s.Config}
	if s.Driver != "" {
		args = append([]string{"-D" + s.Driver}, args...)
	}
	return args
}
