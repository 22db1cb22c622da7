// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"encoding/hex"
	"net"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidSSID       = errors.New("invalid SSID length")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrInvalidMAC        = errors.New("invalid MAC address")
	ErrInvalidCipher     = errors.New("invalid cipher")
	ErrInvalidWPAVersion = errors.New("invalid WPA version")
)

var macRE = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2}){5}$`)

// ValidateSSID checks that s is 1 to 32 bytes long.
func ValidateSSID(s string) error {
	if len(s) < 1 || len(s) > 32 {
		return errors.Wrapf(ErrInvalidSSID, "%d bytes, must be between 1 and 32", len(s))
	}
	return nil
}

// ValidatePassphrase checks a WPA passphrase (8 to 63 printable ASCII
// characters) or, when psk is set, a raw key of exactly 64 hex digits.
func ValidatePassphrase(p string, psk bool) error {
	if psk {
		if len(p) != 64 {
			return errors.Wrapf(ErrInvalidPassphrase, "pre-shared key is %d characters, must be 64", len(p))
		}
		if _, err := hex.DecodeString(p); err != nil {
			return errors.Wrap(ErrInvalidPassphrase, "pre-shared key must be hexadecimal")
		}
		return nil
	}
	if len(p) < 8 || len(p) > 63 {
		return errors.Wrapf(ErrInvalidPassphrase, "%d characters, must be between 8 and 63", len(p))
	}
	if !printable(p) {
		return errors.Wrap(ErrInvalidPassphrase, "must be printable ASCII")
	}
	return nil
}

// ValidateWEPKey accepts 5 or 13 character keys and 10 or 26 hex digit keys.
func ValidateWEPKey(k string) error {
	switch len(k) {
	case 5, 13:
		if printable(k) {
			return nil
		}
	case 10, 26:
		if _, err := hex.DecodeString(k); err == nil {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidPassphrase, "WEP key must be 5 or 13 characters, or 10 or 26 hex digits")
}

// ParseMAC parses a colon separated, 6 octet unicast MAC address.
func ParseMAC(s string) (net.HardwareAddr, error) {
	if !macRE.MatchString(s) {
		return nil, errors.Wrapf(ErrInvalidMAC, "%q", s)
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidMAC, "%q: %v", s, err)
	}
	if mac[0]&1 != 0 {
		return nil, errors.Wrapf(ErrInvalidMAC, "%q is a multicast address", s)
	}
	return mac, nil
}

// WPAProto maps a WPA version to the wpa_supplicant proto value.
func WPAProto(version string) (string, error) {
	switch version {
	case "1":
		return "WPA", nil
	case "2":
		return "RSN", nil
	case "1+2", "2+1":
		return "WPA RSN", nil
	}
	return "", errors.Wrapf(ErrInvalidWPAVersion, "%q, must be 1, 2 or 1+2", version)
}

var ciphers = map[string]bool{
	"CCMP":     true,
	"TKIP":     true,
	"GCMP":     true,
	"CCMP-256": true,
	"GCMP-256": true,
}

// ValidateCiphers checks a space separated cipher list.
func ValidateCiphers(list string) error {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return errors.Wrap(ErrInvalidCipher, "empty cipher list")
	}
	for _, c := range fields {
		if !ciphers[c] {
			return errors.Wrapf(ErrInvalidCipher, "%q", c)
		}
	}
	return nil
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
