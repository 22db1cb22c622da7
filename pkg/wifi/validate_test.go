// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestParseMAC(t *testing.T) {
	for _, tt := range []struct {
		mac   string
		valid bool
	}{
		{mac: "01:02:03:04:05:06", valid: false}, // multicast
		{mac: "02:02:03:04:05:06", valid: true},
		{mac: "02:AB:cd:04:05:06", valid: true},
		{mac: "ff:ff:ff:ff:ff:ff", valid: false},
		{mac: "02:02:03:04:05", valid: false},
		{mac: "02-02-03-04-05-06", valid: false},
		{mac: "0202.0304.0506", valid: false},
		{mac: "02:02:03:04:05:06:07:08", valid: false},
		{mac: "", valid: false},
	} {
		t.Run(tt.mac, func(t *testing.T) {
			_, err := ParseMAC(tt.mac)
			if (err == nil) != tt.valid {
				t.Errorf("ParseMAC(%q) got %v, want valid=%v", tt.mac, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalidMAC) {
				t.Errorf("ParseMAC(%q) got %v, want ErrInvalidMAC", tt.mac, err)
			}
		})
	}
}

func TestValidateSSID(t *testing.T) {
	for _, tt := range []struct {
		n     int
		valid bool
	}{
		{0, false},
		{1, true},
		{32, true},
		{33, false},
	} {
		ssid := strings.Repeat("a", tt.n)
		if err := ValidateSSID(ssid); (err == nil) != tt.valid {
			t.Errorf("ValidateSSID(len %d) got %v, want valid=%v", tt.n, err, tt.valid)
		}
	}
}

func TestValidatePassphrase(t *testing.T) {
	for _, tt := range []struct {
		name  string
		pass  string
		psk   bool
		valid bool
	}{
		{name: "passphrase 7", pass: strings.Repeat("p", 7), valid: false},
		{name: "passphrase 8", pass: strings.Repeat("p", 8), valid: true},
		{name: "passphrase 63", pass: strings.Repeat("p", 63), valid: true},
		{name: "passphrase 64", pass: strings.Repeat("p", 64), valid: false},
		{name: "passphrase control char", pass: "password\n", valid: false},
		{name: "psk 63", pass: strings.Repeat("a", 63), psk: true, valid: false},
		{name: "psk 64", pass: strings.Repeat("a", 64), psk: true, valid: true},
		{name: "psk not hex", pass: strings.Repeat("g", 64), psk: true, valid: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassphrase(tt.pass, tt.psk)
			if (err == nil) != tt.valid {
				t.Errorf("ValidatePassphrase got %v, want valid=%v", err, tt.valid)
			}
		})
	}
}

func TestValidateWEPKey(t *testing.T) {
	for _, tt := range []struct {
		key   string
		valid bool
	}{
		{"abcde", true},
		{"abcdefghijklm", true},
		{"0123456789", true},
		{"0123456789abcdef0123456789", true},
		{"012345678z", false},
		{"abcdef", false},
	} {
		if err := ValidateWEPKey(tt.key); (err == nil) != tt.valid {
			t.Errorf("ValidateWEPKey(%q) got %v, want valid=%v", tt.key, err, tt.valid)
		}
	}
}

func TestWPAProto(t *testing.T) {
	for _, tt := range []struct {
		version string
		want    string
		valid   bool
	}{
		{"1", "WPA", true},
		{"2", "RSN", true},
		{"1+2", "WPA RSN", true},
		{"3", "", false},
	} {
		got, err := WPAProto(tt.version)
		if (err == nil) != tt.valid || got != tt.want {
			t.Errorf("WPAProto(%q) got (%q, %v), want %q", tt.version, got, err, tt.want)
		}
	}
}

func TestValidateCiphers(t *testing.T) {
	for _, tt := range []struct {
		list  string
		valid bool
	}{
		{"CCMP", true},
		{"CCMP TKIP", true},
		{"GCMP-256 CCMP-256", true},
		{"", false},
		{"WEP40", false},
	} {
		if err := ValidateCiphers(tt.list); (err == nil) != tt.valid {
			t.Errorf("ValidateCiphers(%q) got %v, want valid=%v", tt.list, err, tt.valid)
		}
	}
}
