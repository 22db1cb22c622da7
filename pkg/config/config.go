// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config builds the single Config value of a createsta run from
// flags, CREATE_STA_* environment variables and an optional settings file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/u-root/createsta/pkg/dhclient"
	"github.com/u-root/createsta/pkg/nm"
	"github.com/u-root/createsta/pkg/wifi"
)

// EnvPrefix prefixes every environment variable createsta reads.
const EnvPrefix = "CREATE_STA"

// Config is everything one run was asked to do. It is not changed once
// the run starts.
type Config struct {
	// Positional arguments.
	Interface  string `mapstructure:"-"`
	SSID       string `mapstructure:"-"`
	Passphrase string `mapstructure:"-"`

	Driver     string `mapstructure:"driver"`
	WPAVersion string `mapstructure:"wpa"`
	Pairwise   string `mapstructure:"pairwise"`
	Group      string `mapstructure:"group"`
	PSK        bool   `mapstructure:"psk"`
	WEP        bool   `mapstructure:"wep"`
	SAE        bool   `mapstructure:"sae"`
	OWE        bool   `mapstructure:"owe"`
	MAC        string `mapstructure:"mac"`
	Hidden     bool   `mapstructure:"hidden"`

	NoDHCP      bool   `mapstructure:"no-dhcp"`
	DHCPBackend string `mapstructure:"dhcp-backend"`
	Virt        bool   `mapstructure:"virt"`
	Select      bool   `mapstructure:"select"`

	Daemon           bool   `mapstructure:"daemon"`
	PIDFile          string `mapstructure:"pidfile"`
	LogFile          string `mapstructure:"logfile"`
	SupplicantConfig string `mapstructure:"config"`

	Stop        string `mapstructure:"stop"`
	ListRunning bool   `mapstructure:"list-running"`
	ListClients string `mapstructure:"list-clients"`

	Verbose bool `mapstructure:"verbose"`
	Version bool `mapstructure:"version"`

	// Settings only, no flag.
	TmpDir string `mapstructure:"tmpdir"`
	NMConf string `mapstructure:"nm-conf"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Driver:      "nl80211",
		WPAVersion:  "1+2",
		Pairwise:    "CCMP TKIP",
		Group:       "CCMP TKIP",
		DHCPBackend: string(dhclient.Auto),
		TmpDir:      "/tmp",
		NMConf:      nm.ConfPath,
	}
}

// Flags returns the flag set of the createsta command.
func Flags(name string) *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringP("driver", "D", d.Driver, "wpa_supplicant driver")
	fs.StringP("wpa", "w", d.WPAVersion, "WPA version: 1, 2 or 1+2")
	fs.String("pairwise", d.Pairwise, "pairwise ciphers")
	fs.String("group", d.Group, "group ciphers")
	fs.Bool("psk", false, "the passphrase is a 64 digit hex pre-shared key")
	fs.Bool("wep", false, "the passphrase is a WEP key")
	fs.Bool("sae", false, "use WPA3 SAE with the passphrase")
	fs.Bool("owe", false, "use enhanced open (OWE)")
	fs.String("mac", "", "set the interface MAC address")
	fs.Bool("hidden", false, "the network does not broadcast its SSID")
	fs.Bool("no-dhcp", false, "do not run a DHCP client")
	fs.String("dhcp-backend", d.DHCPBackend, "DHCP client: auto, dhclient or native")
	fs.Bool("virt", false, "connect through a new virtual interface")
	fs.Bool("select", false, "pick the network from a scan when no SSID is given")
	fs.Bool("daemon", false, "run in the background")
	fs.String("pidfile", "", "write the daemon pid to this file")
	fs.String("logfile", "", "daemon log file")
	fs.StringP("config", "c", "", "use this wpa_supplicant configuration instead of generating one")
	fs.String("stop", "", "stop the instance running as `pid` or on `iface`")
	fs.Bool("list-running", false, "list running instances")
	fs.String("list-clients", "", "list the peers of the instance running as `pid` or on `iface`")
	fs.BoolP("verbose", "v", false, "log debug messages")
	fs.Bool("version", false, "print the version")
	return fs
}

// Load parses args with fs and merges the result with the environment and
// the settings file named by CREATE_STA_SETTINGS.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	d := Default()
	v.SetDefault("tmpdir", d.TmpDir)
	v.SetDefault("nm-conf", d.NMConf)
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if f := os.Getenv(EnvPrefix + "_SETTINGS"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read settings %s", f)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	// A detached run works from /, so paths must not depend on the
	// directory createsta was started in.
	for _, p := range []*string{&c.PIDFile, &c.LogFile, &c.SupplicantConfig, &c.TmpDir, &c.NMConf} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, errors.Wrapf(err, "path %s", *p)
		}
		*p = abs
	}
	pos := fs.Args()
	if len(pos) > 3 {
		return nil, ValidationErrors{{Field: "arguments", Value: len(pos), Message: "at most <interface> <ssid> <passphrase>"}}
	}
	for i, p := range []*string{&c.Interface, &c.SSID, &c.Passphrase} {
		if i < len(pos) {
			*p = pos[i]
		}
	}
	return &c, nil
}

// Choose sets the network to join from a scan result.
func (c *Config) Choose(r wifi.ScanResult, passphrase string) {
	c.SSID = r.SSID
	c.Passphrase = passphrase
	c.WEP = r.Mode == wifi.ModeWEP
	c.SAE = r.Mode == wifi.ModeSAE
	c.OWE = r.Mode == wifi.ModeOWE
	c.PSK = false
}

// Selecting reports whether the network is still to be picked from a scan.
func (c *Config) Selecting() bool {
	return c.Select && c.SSID == "" && c.SupplicantConfig == ""
}

// Control reports whether c asks to control other instances instead of
// starting one.
func (c *Config) Control() bool {
	return c.Stop != "" || c.ListRunning || c.ListClients != ""
}

// Mode returns the security mode the options select.
func (c *Config) Mode() (wifi.Mode, error) {
	return wifi.SelectMode(c.Passphrase != "", c.WEP, c.SAE, c.OWE, c.PSK)
}

// Network describes the network to join.
func (c *Config) Network() (wifi.Network, error) {
	mode, err := c.Mode()
	if err != nil {
		return wifi.Network{}, err
	}
	return wifi.Network{
		SSID:       c.SSID,
		Passphrase: c.Passphrase,
		PSK:        c.PSK,
		Mode:       mode,
		WPAVersion: c.WPAVersion,
		Pairwise:   c.Pairwise,
		Group:      c.Group,
		Hidden:     c.Hidden,
	}, nil
}

// Backend returns the DHCP backend.
func (c *Config) Backend() dhclient.Backend {
	return dhclient.Backend(c.DHCPBackend)
}
