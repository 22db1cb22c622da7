// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dhclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	for _, tt := range []struct {
		in      Backend
		wantErr bool
	}{
		{in: Auto},
		{in: External},
		{in: Native},
		{in: "udhcpc", wantErr: true},
	} {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := tt.in.Resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, []Backend{External, Native}, got)
			if tt.in != Auto {
				assert.Equal(t, tt.in, got)
			}
		})
	}
}

func TestResolvConf(t *testing.T) {
	dir := t.TempDir()
	resolv := filepath.Join(dir, "resolv.conf")
	backup := filepath.Join(dir, "instance", "resolv.conf")
	require.NoError(t, os.Mkdir(filepath.Dir(backup), 0o755))
	require.NoError(t, os.WriteFile(resolv, []byte("nameserver 192.0.2.1\n"), 0o644))

	require.NoError(t, BackupResolvConf(resolv, backup))
	require.NoError(t, os.WriteFile(resolv, []byte("nameserver 198.51.100.7\n"), 0o644))

	require.NoError(t, RestoreResolvConf(backup, resolv))
	got, err := os.ReadFile(resolv)
	require.NoError(t, err)
	assert.Equal(t, "nameserver 192.0.2.1\n", string(got))
	_, err = os.Stat(backup)
	assert.True(t, os.IsNotExist(err), "backup still present after restore")

	// Restoring again has nothing to do.
	require.NoError(t, RestoreResolvConf(backup, resolv))
}

func TestBackupMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, BackupResolvConf(filepath.Join(dir, "nope"), filepath.Join(dir, "backup")))
}

func TestRequestNoLink(t *testing.T) {
	cl := make(chan string)
	err := Request(context.Background(), "createsta-nx0", DefaultConfig, cl)
	assert.Error(t, err)
	_, ok := <-cl
	assert.False(t, ok, "progress channel left open")
}
