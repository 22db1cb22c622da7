// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u-root/createsta/pkg/wifi"
)

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	c, err := Load(Flags("createsta"), args)
	require.NoError(t, err)
	return c
}

func TestDefaults(t *testing.T) {
	c := load(t, "wlan0", "home", "password")
	assert.Equal(t, "wlan0", c.Interface)
	assert.Equal(t, "home", c.SSID)
	assert.Equal(t, "password", c.Passphrase)
	assert.Equal(t, "nl80211", c.Driver)
	assert.Equal(t, "1+2", c.WPAVersion)
	assert.Equal(t, "CCMP TKIP", c.Pairwise)
	assert.Equal(t, "/tmp", c.TmpDir)
	assert.NoError(t, c.Validate())

	mode, err := c.Mode()
	require.NoError(t, err)
	assert.Equal(t, wifi.ModeWPAPSK, mode)
}

func TestFlags(t *testing.T) {
	c := load(t, "-D", "wext", "-w", "2", "--sae", "--mac", "02:00:00:00:00:01", "--hidden", "--no-dhcp", "-v", "wlan0", "home", "password")
	assert.Equal(t, "wext", c.Driver)
	assert.Equal(t, "2", c.WPAVersion)
	assert.True(t, c.SAE)
	assert.True(t, c.Hidden)
	assert.True(t, c.NoDHCP)
	assert.True(t, c.Verbose)
	assert.Equal(t, "02:00:00:00:00:01", c.MAC)

	n, err := c.Network()
	require.NoError(t, err)
	assert.Equal(t, wifi.ModeSAE, n.Mode)
	assert.True(t, n.Hidden)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("CREATE_STA_TMPDIR", "/run/createsta")
	t.Setenv("CREATE_STA_DHCP_BACKEND", "native")
	t.Setenv("CREATE_STA_DRIVER", "wext")

	c := load(t, "-D", "nl80211", "wlan0", "cafe")
	assert.Equal(t, "/run/createsta", c.TmpDir)
	assert.Equal(t, "native", c.DHCPBackend)
	// Flags win over the environment.
	assert.Equal(t, "nl80211", c.Driver)
}

func TestSettingsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "createsta.yaml")
	require.NoError(t, os.WriteFile(f, []byte("pairwise: CCMP\ngroup: CCMP\nnm-conf: /etc/nm.conf\n"), 0o644))
	t.Setenv("CREATE_STA_SETTINGS", f)

	c := load(t, "wlan0", "cafe")
	assert.Equal(t, "CCMP", c.Pairwise)
	assert.Equal(t, "CCMP", c.Group)
	assert.Equal(t, "/etc/nm.conf", c.NMConf)
}

func TestRelativePaths(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	// t.TempDir may sit behind a symlink.
	dir, err = os.Getwd()
	require.NoError(t, err)

	c := load(t, "--daemon", "--pidfile", "sta.pid", "--logfile", "log/sta.log", "-c", "wpa.conf", "wlan0")
	assert.Equal(t, filepath.Join(dir, "sta.pid"), c.PIDFile)
	assert.Equal(t, filepath.Join(dir, "log/sta.log"), c.LogFile)
	assert.Equal(t, filepath.Join(dir, "wpa.conf"), c.SupplicantConfig)
	assert.Equal(t, "/tmp", c.TmpDir)
}

func TestTooManyArguments(t *testing.T) {
	_, err := Load(Flags("createsta"), []string{"wlan0", "a", "b", "c"})
	var verr ValidationErrors
	assert.True(t, errors.As(err, &verr))
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		args   []string
		fields []string
	}{
		{name: "open", args: []string{"wlan0", "cafe"}},
		{name: "owe", args: []string{"--owe", "wlan0", "airport"}},
		{name: "wep", args: []string{"--wep", "wlan0", "old", "abcde"}},
		{name: "psk", args: []string{"--psk", "wlan0", "home", strings.Repeat("a", 64)}},
		{name: "supplicant config", args: []string{"-c", "/etc/wpa.conf", "wlan0"}},
		{name: "list running", args: []string{"--list-running"}},
		{name: "stop", args: []string{"--stop", "wlan0"}},
		{name: "no interface", args: []string{}, fields: []string{"interface", "network"}},
		{name: "bad interface", args: []string{"../x", "cafe"}, fields: []string{"interface"}},
		{name: "multicast mac", args: []string{"--mac", "01:02:03:04:05:06", "wlan0", "cafe"}, fields: []string{"mac"}},
		{name: "short passphrase", args: []string{"wlan0", "home", "short"}, fields: []string{"network"}},
		{name: "long ssid", args: []string{"wlan0", strings.Repeat("s", 33)}, fields: []string{"network"}},
		{name: "owe with passphrase", args: []string{"--owe", "wlan0", "home", "password"}, fields: []string{"security"}},
		{name: "wep and sae", args: []string{"--wep", "--sae", "wlan0", "home", "password"}, fields: []string{"security"}},
		{name: "bad backend", args: []string{"--dhcp-backend", "udhcpc", "wlan0", "cafe"}, fields: []string{"dhcp-backend"}},
		{name: "pidfile without daemon", args: []string{"--pidfile", "/run/x.pid", "wlan0", "cafe"}, fields: []string{"pidfile"}},
		{name: "stop and list clients", args: []string{"--stop", "1", "--list-clients", "2"}, fields: []string{"stop"}},
		{name: "select", args: []string{"--select", "wlan0"}},
		{name: "select with ssid", args: []string{"--select", "wlan0", "home", "short"}, fields: []string{"network"}},
		{name: "select in daemon", args: []string{"--select", "--daemon", "wlan0"}, fields: []string{"select"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := load(t, tt.args...).Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			var verr ValidationErrors
			require.True(t, errors.As(err, &verr), "got %v, want ValidationErrors", err)
			var got []string
			for _, e := range verr {
				got = append(got, e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestPassphraseNotEchoed(t *testing.T) {
	err := load(t, "wlan0", "home", "secret7").Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret7")
}

func TestChoose(t *testing.T) {
	c := Default()
	c.Select = true
	c.WEP = true
	require.True(t, c.Selecting())

	c.Choose(wifi.ScanResult{SSID: "wpa3", Mode: wifi.ModeSAE}, "password")
	assert.False(t, c.Selecting())
	assert.Equal(t, "wpa3", c.SSID)
	assert.Equal(t, "password", c.Passphrase)
	assert.False(t, c.WEP)
	assert.True(t, c.SAE)
	mode, err := c.Mode()
	require.NoError(t, err)
	assert.Equal(t, wifi.ModeSAE, mode)

	c.Choose(wifi.ScanResult{SSID: "cafe", Mode: wifi.ModeOpen}, "")
	mode, err = c.Mode()
	require.NoError(t, err)
	assert.Equal(t, wifi.ModeOpen, mode)
}
