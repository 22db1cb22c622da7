// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strings"

	"github.com/u-root/createsta/pkg/wifi"
)

// ValidationError is one bad setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every bad setting of a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks everything that can be checked without touching the
// system. It returns nil or ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value interface{}, err error) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: err.Error()})
	}

	if c.Control() {
		if c.Stop != "" && c.ListClients != "" {
			errs = append(errs, ValidationError{Field: "stop", Message: "--stop and --list-clients are mutually exclusive"})
		}
		return errs.orNil()
	}

	if c.Interface == "" {
		errs = append(errs, ValidationError{Field: "interface", Message: "a wireless interface is required"})
	} else if strings.ContainsAny(c.Interface, "/.") || len(c.Interface) > 15 {
		errs = append(errs, ValidationError{Field: "interface", Value: c.Interface, Message: "not an interface name"})
	}
	if c.MAC != "" {
		if _, err := wifi.ParseMAC(c.MAC); err != nil {
			add("mac", nil, err)
		}
	}
	if _, err := c.Backend().Resolve(); err != nil {
		add("dhcp-backend", nil, err)
	}
	if c.PIDFile != "" && !c.Daemon {
		errs = append(errs, ValidationError{Field: "pidfile", Message: "only used with --daemon"})
	}

	if c.Select && c.Daemon {
		errs = append(errs, ValidationError{Field: "select", Message: "needs a terminal, not --daemon"})
	}

	if c.SupplicantConfig != "" || c.Selecting() {
		return errs.orNil()
	}
	// Passphrases are never echoed back.
	if n, err := c.Network(); err != nil {
		add("security", nil, err)
	} else if err := n.Validate(); err != nil {
		add("network", nil, err)
	}
	return errs.orNil()
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
