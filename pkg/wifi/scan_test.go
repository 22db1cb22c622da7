// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wifi

import (
	"reflect"
	"testing"
)

const scanOut = "BSS 00:11:22:33:44:01(on wlan0)\n" +
	"\tTSF: 1234 usec\n" +
	"\tfreq: 2412\n" +
	"\tsignal: -71.00 dBm\n" +
	"\tSSID: home\n" +
	"\tRSN:\t * Version: 1\n" +
	"\t\t * Group cipher: CCMP\n" +
	"\t\t * Pairwise ciphers: CCMP\n" +
	"\t\t * Authentication suites: PSK\n" +
	"\tcapability: ESS Privacy ShortSlotTime (0x0411)\n" +
	"BSS 00:11:22:33:44:02(on wlan0) -- associated\n" +
	"\tsignal: -40.00 dBm\n" +
	"\tSSID: home\n" +
	"\tRSN:\t * Version: 1\n" +
	"\t\t * Authentication suites: PSK\n" +
	"\tcapability: ESS Privacy (0x0411)\n" +
	"BSS 00:11:22:33:44:03(on wlan0)\n" +
	"\tsignal: -55.00 dBm\n" +
	"\tSSID: wpa3\n" +
	"\tRSN:\t * Version: 1\n" +
	"\t\t * Authentication suites: SAE\n" +
	"\tcapability: ESS Privacy (0x0411)\n" +
	"BSS 00:11:22:33:44:04(on wlan0)\n" +
	"\tsignal: -60.00 dBm\n" +
	"\tSSID: cafe\n" +
	"\tcapability: ESS (0x0401)\n" +
	"BSS 00:11:22:33:44:05(on wlan0)\n" +
	"\tsignal: -65.00 dBm\n" +
	"\tSSID: legacy\n" +
	"\tcapability: ESS Privacy (0x0411)\n" +
	"BSS 00:11:22:33:44:06(on wlan0)\n" +
	"\tsignal: -50.00 dBm\n" +
	"\tSSID: corp\n" +
	"\tRSN:\t * Version: 1\n" +
	"\t\t * Authentication suites: IEEE 802.1X\n" +
	"\tcapability: ESS Privacy (0x0411)\n" +
	"BSS 00:11:22:33:44:07(on wlan0)\n" +
	"\tsignal: -45.00 dBm\n" +
	"\tSSID: \n" +
	"\tcapability: ESS (0x0401)\n" +
	"BSS 00:11:22:33:44:08(on wlan0)\n" +
	"\tsignal: -80.00 dBm\n" +
	"\tSSID: old\n" +
	"\tWPA:\t * Version: 1\n" +
	"\t\t * Authentication suites: PSK\n" +
	"\tcapability: ESS Privacy (0x0411)\n" +
	"BSS 00:11:22:33:44:09(on wlan0)\n" +
	"\tsignal: -75.00 dBm\n" +
	"\tSSID: enhanced\n" +
	"\tRSN:\t * Version: 1\n" +
	"\t\t * Authentication suites: OWE\n" +
	"\tcapability: ESS Privacy (0x0411)\n"

func TestParseScan(t *testing.T) {
	want := []ScanResult{
		{BSSID: "00:11:22:33:44:02", SSID: "home", Signal: -40, Mode: ModeWPAPSK},
		{BSSID: "00:11:22:33:44:06", SSID: "corp", Signal: -50, Mode: ModeWPAPSK, Enterprise: true},
		{BSSID: "00:11:22:33:44:03", SSID: "wpa3", Signal: -55, Mode: ModeSAE},
		{BSSID: "00:11:22:33:44:04", SSID: "cafe", Signal: -60, Mode: ModeOpen},
		{BSSID: "00:11:22:33:44:05", SSID: "legacy", Signal: -65, Mode: ModeWEP},
		{BSSID: "00:11:22:33:44:09", SSID: "enhanced", Signal: -75, Mode: ModeOWE},
		{BSSID: "00:11:22:33:44:08", SSID: "old", Signal: -80, Mode: ModeWPAPSK},
	}
	got := ParseScan([]byte(scanOut))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseScan got\n%+v\nwant\n%+v", got, want)
	}
	if got := ParseScan(nil); got != nil {
		t.Errorf("ParseScan(nil) got %v, want nil", got)
	}
}

func TestScanResultLabel(t *testing.T) {
	for _, tt := range []struct {
		r    ScanResult
		want string
	}{
		{ScanResult{SSID: "home", Signal: -40, Mode: ModeWPAPSK}, "home (WPA-PSK, -40 dBm)"},
		{ScanResult{SSID: "corp", Signal: -50.4, Mode: ModeWPAPSK, Enterprise: true}, "corp (802.1X, -50 dBm)"},
		{ScanResult{SSID: "cafe", Signal: -61, Mode: ModeOpen}, "cafe (open, -61 dBm)"},
	} {
		if got := tt.r.Label(); got != tt.want {
			t.Errorf("Label got %q, want %q", got, tt.want)
		}
	}
}
