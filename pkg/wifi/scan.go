// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ScanResult is one network seen by `iw dev <iface> scan`.
type ScanResult struct {
	BSSID  string
	SSID   string
	Signal float64
	Mode   Mode
	// Enterprise is set for networks that only offer 802.1X, which
	// createsta cannot join.
	Enterprise bool
}

// Label implements menu.Entry.
func (r ScanResult) Label() string {
	sec := r.Mode.String()
	if r.Enterprise {
		sec = "802.1X"
	}
	return fmt.Sprintf("%s (%s, %.0f dBm)", r.SSID, sec, r.Signal)
}

type bss struct {
	ScanResult
	rsn, wpa []string
	hasRSN   bool
	hasWPA   bool
	privacy  bool
}

func (b *bss) result() ScanResult {
	r := b.ScanResult
	suites := b.rsn
	if !b.hasRSN {
		suites = b.wpa
	}
	has := func(names ...string) bool {
		for _, s := range suites {
			for _, n := range names {
				if s == n {
					return true
				}
			}
		}
		return false
	}
	switch {
	case b.hasRSN || b.hasWPA:
		switch {
		case has("PSK", "PSK/SHA-256"):
			r.Mode = ModeWPAPSK
		case has("SAE", "00-0f-ac:8"):
			r.Mode = ModeSAE
		case has("OWE", "00-0f-ac:18"):
			r.Mode = ModeOWE
		default:
			r.Mode = ModeWPAPSK
			r.Enterprise = true
		}
	case b.privacy:
		r.Mode = ModeWEP
	default:
		r.Mode = ModeOpen
	}
	return r
}

// ParseScan parses `iw dev <iface> scan`. Networks are returned strongest
// first, once per SSID. Hidden networks are left out.
func ParseScan(out []byte) []ScanResult {
	var all []*bss
	var cur *bss
	var suites *[]string
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "BSS ") {
			bssid, _, _ := strings.Cut(strings.TrimPrefix(line, "BSS "), "(")
			cur = &bss{ScanResult: ScanResult{BSSID: strings.TrimSpace(bssid)}}
			all = append(all, cur)
			suites = nil
			continue
		}
		if cur == nil {
			continue
		}
		// A line with a single tab starts a new element.
		if strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, "\t\t") {
			suites = nil
		}
		t := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(t, "signal:"):
			f := strings.Fields(strings.TrimPrefix(t, "signal:"))
			if len(f) > 0 {
				cur.Signal, _ = strconv.ParseFloat(f[0], 64)
			}
		case strings.HasPrefix(t, "SSID:") && cur.SSID == "":
			cur.SSID = strings.TrimSpace(strings.TrimPrefix(t, "SSID:"))
		case strings.HasPrefix(t, "RSN:"):
			cur.hasRSN = true
			suites = &cur.rsn
		case strings.HasPrefix(t, "WPA:"):
			cur.hasWPA = true
			suites = &cur.wpa
		case strings.HasPrefix(t, "capability:"):
			cur.privacy = strings.Contains(t, "Privacy")
		}
		if i := strings.Index(t, "Authentication suites:"); i >= 0 && suites != nil {
			*suites = append(*suites, strings.Fields(t[i+len("Authentication suites:"):])...)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Signal > all[j].Signal })
	var res []ScanResult
	known := make(map[string]bool)
	for _, b := range all {
		if b.SSID == "" || known[b.SSID] {
			continue
		}
		known[b.SSID] = true
		res = append(res, b.result())
	}
	return res
}

// Scan lists the networks in range of iface, which must be up.
func Scan(iface string) ([]ScanResult, error) {
	out, err := iw("dev", iface, "scan")
	if err != nil {
		return nil, err
	}
	return ParseScan(out), nil
}
