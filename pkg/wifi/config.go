// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// ErrModeConflict is returned when the requested security options do not
// describe exactly one mode.
var ErrModeConflict = errors.New("conflicting security options")

// One template per mode. Only keys listed here are ever generated.
const (
	openTmpl = `network={
{{- if .Hidden}}
	scan_ssid=1
{{- end}}
	ssid={{.SSID}}
	key_mgmt=NONE
}
`
	wepTmpl = `network={
{{- if .Hidden}}
	scan_ssid=1
{{- end}}
	ssid={{.SSID}}
	key_mgmt=NONE
	wep_key0={{.Key}}
}
`
	wpaPSKTmpl = `network={
{{- if .Hidden}}
	scan_ssid=1
{{- end}}
	ssid={{.SSID}}
	key_mgmt=WPA-PSK
	proto={{.Proto}}
	pairwise={{.Pairwise}}
	group={{.Group}}
	psk={{.Key}}
}
`
	saeTmpl = `network={
{{- if .Hidden}}
	scan_ssid=1
{{- end}}
	ssid={{.SSID}}
	key_mgmt=SAE
	proto=RSN
	pairwise={{.Pairwise}}
	group={{.Group}}
	psk={{.Key}}
}
`
	oweTmpl = `network={
{{- if .Hidden}}
	scan_ssid=1
{{- end}}
	ssid={{.SSID}}
	key_mgmt=OWE
	proto=RSN
	pairwise=CCMP
}
`
)

var templates = map[Mode]*template.Template{
	ModeOpen:   template.Must(template.New("open").Parse(openTmpl)),
	ModeWEP:    template.Must(template.New("wep").Parse(wepTmpl)),
	ModeWPAPSK: template.Must(template.New("wpa-psk").Parse(wpaPSKTmpl)),
	ModeSAE:    template.Must(template.New("sae").Parse(saeTmpl)),
	ModeOWE:    template.Must(template.New("owe").Parse(oweTmpl)),
}

// SelectMode picks the single security mode implied by the options.
func SelectMode(hasPassphrase, wep, sae, owe, psk bool) (Mode, error) {
	switch {
	case wep && sae:
		return 0, errors.Wrap(ErrModeConflict, "WEP and SAE are mutually exclusive")
	case owe && (wep || sae):
		return 0, errors.Wrap(ErrModeConflict, "enhanced open can not be combined with WEP or SAE")
	case owe && hasPassphrase:
		return 0, errors.Wrap(ErrModeConflict, "enhanced open does not take a passphrase")
	case psk && (wep || sae || owe):
		return 0, errors.Wrap(ErrModeConflict, "a raw pre-shared key only applies to WPA-PSK")
	case !hasPassphrase && (wep || sae || psk):
		return 0, errors.Wrap(ErrModeConflict, "a key is required")
	}
	switch {
	case hasPassphrase && wep:
		return ModeWEP, nil
	case hasPassphrase && sae:
		return ModeSAE, nil
	case hasPassphrase:
		return ModeWPAPSK, nil
	case owe:
		return ModeOWE, nil
	}
	return ModeOpen, nil
}

// Validate checks the fields the mode uses.
func (n Network) Validate() error {
	if err := ValidateSSID(n.SSID); err != nil {
		return err
	}
	switch n.Mode {
	case ModeWEP:
		return ValidateWEPKey(n.Passphrase)
	case ModeWPAPSK:
		if _, err := WPAProto(n.WPAVersion); err != nil {
			return err
		}
		fallthrough
	case ModeSAE:
		if err := ValidatePassphrase(n.Passphrase, n.PSK && n.Mode == ModeWPAPSK); err != nil {
			return err
		}
		if err := ValidateCiphers(n.Pairwise); err != nil {
			return errors.Wrap(err, "pairwise")
		}
		if err := ValidateCiphers(n.Group); err != nil {
			return errors.Wrap(err, "group")
		}
	case ModeOpen, ModeOWE:
		if n.Passphrase != "" {
			return errors.Wrapf(ErrModeConflict, "%v network does not take a passphrase", n.Mode)
		}
	default:
		return errors.Errorf("unknown security mode %d", n.Mode)
	}
	return nil
}

// GenerateConfig renders the wpa_supplicant configuration for n.
func GenerateConfig(n Network) ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	data := struct {
		Hidden                            bool
		SSID, Proto, Pairwise, Group, Key string
	}{
		Hidden:   n.Hidden,
		SSID:     quoteOrHex(n.SSID),
		Pairwise: n.Pairwise,
		Group:    n.Group,
	}
	switch n.Mode {
	case ModeWEP:
		data.Key = wepKey(n.Passphrase)
	case ModeWPAPSK:
		data.Proto, _ = WPAProto(n.WPAVersion)
		if n.PSK {
			data.Key = strings.ToLower(n.Passphrase)
		} else {
			data.Key = Passphrase(n.SSID, n.Passphrase)
		}
	case ModeSAE:
		// SAE runs the handshake on the password itself. wpa_supplicant
		// reads up to the last quote, so embedded quotes need no escaping.
		data.Key = `"` + n.Passphrase + `"`
	}
	var b bytes.Buffer
	if err := templates[n.Mode].Execute(&b, data); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Passphrase derives the 256 bit PSK for ssid the way wpa_passphrase does.
func Passphrase(ssid, passphrase string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New))
}

// quoteOrHex quotes s when wpa_supplicant can read it back as a quoted
// string and hex-encodes it otherwise.
func quoteOrHex(s string) string {
	if printable(s) && !strings.ContainsRune(s, '"') {
		return `"` + s + `"`
	}
	return hex.EncodeToString([]byte(s))
}

func wepKey(k string) string {
	if len(k) == 10 || len(k) == 26 {
		if _, err := hex.DecodeString(k); err == nil {
			return k
		}
	}
	return `"` + k + `"`
}
