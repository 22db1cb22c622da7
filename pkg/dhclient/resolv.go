// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dhclient

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ResolvConf is the system resolver configuration a lease rewrites.
var ResolvConf = "/etc/resolv.conf"

// BackupResolvConf copies src to dst. A missing src is not an error.
func BackupResolvConf(src, dst string) error {
	if err := copyFile(src, dst); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrapf(err, "back up %s", src)
	}
	return nil
}

// RestoreResolvConf copies backup over dst and removes backup. A missing
// backup is not an error, so restoring twice is fine.
func RestoreResolvConf(backup, dst string) error {
	err := copyFile(backup, dst)
	if os.IsNotExist(errors.Cause(err)) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "restore %s", dst)
	}
	logrus.Debugf("Restored %s from %s", dst, backup)
	return os.Remove(backup)
}

// copyFile truncates dst in place rather than renaming over it, since
// resolv.conf is often a bind mount or a symlink target.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
