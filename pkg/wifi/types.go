// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import "net"

// Mode is the security mode of the network to join.
type Mode int

const (
	ModeOpen Mode = iota
	ModeWEP
	ModeWPAPSK
	ModeSAE
	ModeOWE
)

func (m Mode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeWEP:
		return "WEP"
	case ModeWPAPSK:
		return "WPA-PSK"
	case ModeSAE:
		return "SAE"
	case ModeOWE:
		return "OWE"
	}
	return "unknown"
}

// Network describes the network profile handed to wpa_supplicant.
type Network struct {
	SSID string
	// Passphrase is the passphrase, the raw 64 hex digit key when PSK is
	// set, or the WEP key.
	Passphrase string
	PSK        bool
	Mode       Mode
	// WPAVersion is "1", "2" or "1+2".
	WPAVersion string
	Pairwise   string
	Group      string
	Hidden     bool
}

// Station is one peer reported by the driver.
type Station struct {
	MAC      net.HardwareAddr
	Signal   string
	Inactive string
}
