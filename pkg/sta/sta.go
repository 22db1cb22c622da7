// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sta runs one station instance from setup to cleanup.
package sta

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/u-root/createsta/pkg/config"
	"github.com/u-root/createsta/pkg/control"
	"github.com/u-root/createsta/pkg/dhclient"
	"github.com/u-root/createsta/pkg/entropy"
	"github.com/u-root/createsta/pkg/instance"
	"github.com/u-root/createsta/pkg/lock"
	"github.com/u-root/createsta/pkg/netif"
	"github.com/u-root/createsta/pkg/proc"
	"github.com/u-root/createsta/pkg/wifi"
)

// Files in the instance directory.
const (
	SupplicantConf = "wpa_supplicant.conf"
	SupplicantPID  = "wpa_supplicant.pid"
	ResolvBackup   = "resolv.conf"
	HavegedPID     = "haveged.pid"
)

var (
	associatePoll  = time.Second
	associateTries = 30
)

// Link changes network interfaces. netif.Netlink implements it.
type Link interface {
	Down(name string) error
	Up(name string) error
	FlushAddrs(name string) error
	HardwareAddr(name string) (net.HardwareAddr, error)
	SetHardwareAddr(name string, mac net.HardwareAddr) error
	AddVirtual(phy, name string) error
	DelVirtual(name string) error
}

// Unmanager keeps a connection manager off an interface. *nm.Manager
// implements it.
type Unmanager interface {
	AddUnmanaged(ctx context.Context, iface string) error
	RemoveUnmanaged(iface string) error
}

// Deps ties the controller to the system. Nil fields get the real thing,
// except NM, which stays off when nil.
type Deps struct {
	Link Link
	NM   Unmanager

	Start      func(name string, args []string, pidFile string, out io.Writer) (*proc.Process, error)
	Phy        func(iface string) (string, error)
	Exists     func(iface string) bool
	Associated func(iface string) (bool, error)
	DHCP       func(ctx context.Context, iface string, dir *instance.Dir, out io.Writer) error
	Watchdog   func(ctx context.Context, fatal func(error) bool)
	Notify     func(state string) (bool, error)
	ResolvConf string
}

// Controller drives one instance through its States.
type Controller struct {
	cfg  *config.Config
	sup  *control.Supervisor
	deps Deps
	lock *lock.Mutex
	reg  *instance.Registry
	pid  int
	out  *io.PipeWriter

	mu    sync.Mutex
	state State

	// What setup changed, so cleanup undoes exactly that.
	dir         *instance.Dir
	iface       string
	virt        string
	virtCreated bool
	prepared    bool
	origMAC     net.HardwareAddr
	macChanged  bool
	resolvSaved bool
	supplicant  *proc.Process

	cleanupOnce sync.Once
	cleanupErr  error
}

// New returns a controller for cfg. Shutdown requests arrive through sup.
func New(cfg *config.Config, sup *control.Supervisor, deps Deps) *Controller {
	c := &Controller{
		cfg:  cfg,
		sup:  sup,
		lock: lock.New(cfg.TmpDir, instance.Prefix),
		reg:  &instance.Registry{Root: cfg.TmpDir},
		pid:  os.Getpid(),
		out:  logrus.StandardLogger().WriterLevel(logrus.DebugLevel),
	}
	if deps.Link == nil {
		deps.Link = netif.Netlink{}
	}
	if deps.Start == nil {
		deps.Start = proc.Start
	}
	if deps.Phy == nil {
		deps.Phy = netif.Phy
	}
	if deps.Exists == nil {
		deps.Exists = netif.Exists
	}
	if deps.Associated == nil {
		deps.Associated = wifi.Associated
	}
	if deps.DHCP == nil {
		deps.DHCP = dhcp(cfg.Backend())
	}
	if deps.Watchdog == nil {
		deps.Watchdog = c.watchdog
	}
	if deps.Notify == nil {
		deps.Notify = func(state string) (bool, error) { return daemon.SdNotify(false, state) }
	}
	if deps.ResolvConf == "" {
		deps.ResolvConf = dhclient.ResolvConf
	}
	c.deps = deps
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	logrus.Debugf("State %v", s)
}

// Interface returns the interface in use, once known.
func (c *Controller) Interface() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iface
}

// Dir returns the instance directory, once allocated.
func (c *Controller) Dir() *instance.Dir {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// Run sets the instance up, waits for a shutdown request and cleans up.
// It returns nil after a clean stop or interrupt.
func (c *Controller) Run() error {
	if err := c.setup(); err != nil {
		c.sup.Fatal(err)
	} else {
		c.run()
	}

	var result *multierror.Error
	if c.sup.Reason() == control.Fatal {
		result = multierror.Append(result, c.sup.Err())
	}
	if err := c.Cleanup(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c *Controller) setup() error {
	ctx := c.sup.Context()

	g, err := c.lock.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()
	c.setState(LockAcquired)

	if !c.cfg.Virt {
		pid, err := c.reg.PIDFromInterface(c.cfg.Interface)
		if err == nil {
			return errors.Errorf("%s is already used by instance %d", c.cfg.Interface, pid)
		}
		if !errors.Is(err, instance.ErrNotFound) {
			return err
		}
	}

	dir, err := c.reg.Create(c.cfg.Interface, c.pid)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.dir, c.iface = dir, c.cfg.Interface
	c.mu.Unlock()
	logrus.Infof("Instance directory %s", dir)
	c.setState(DirAllocated)

	if err := c.prepare(ctx); err != nil {
		return err
	}
	c.setState(InterfacePrepared)

	conf, err := c.supplicantConfig()
	if err != nil {
		return err
	}
	s := wifi.Supplicant{Interface: c.iface, Driver: c.cfg.Driver, Config: conf}
	p, err := c.deps.Start("wpa_supplicant", s.Args(), dir.Path(SupplicantPID), c.out)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.supplicant = p
	c.mu.Unlock()
	c.setState(Associating)
	return nil
}

func virtPrefix(iface string) string {
	if len(iface) > 9 {
		iface = iface[:9]
	}
	return iface + "sta"
}

func (c *Controller) prepare(ctx context.Context) error {
	iface := c.cfg.Interface
	if c.cfg.Virt {
		phy, err := c.deps.Phy(iface)
		if err != nil {
			return err
		}
		name, err := c.reg.AllocVirtualName(virtPrefix(iface), c.deps.Exists)
		if err != nil {
			return err
		}
		c.virt = name
		logrus.Infof("Creating virtual interface %s on %s", name, phy)
		if err := c.deps.Link.AddVirtual(phy, name); err != nil {
			return err
		}
		c.virtCreated = true
		if err := c.dir.SetInterface(name); err != nil {
			return err
		}
		iface = name
		c.mu.Lock()
		c.iface = name
		c.mu.Unlock()
	}

	if c.deps.NM != nil {
		if err := c.deps.NM.AddUnmanaged(ctx, iface); err != nil {
			return err
		}
	}

	c.prepared = true
	if err := c.deps.Link.Down(iface); err != nil {
		return err
	}
	if err := c.deps.Link.FlushAddrs(iface); err != nil {
		return err
	}
	mac, err := c.deps.Link.HardwareAddr(iface)
	if err != nil {
		return err
	}
	c.origMAC = mac
	if c.cfg.MAC != "" {
		mac, err := wifi.ParseMAC(c.cfg.MAC)
		if err != nil {
			return err
		}
		logrus.Infof("Changing %s MAC address to %s", iface, mac)
		c.macChanged = true
		if err := c.deps.Link.SetHardwareAddr(iface, mac); err != nil {
			return err
		}
	}
	return c.deps.Link.Up(iface)
}

func (c *Controller) supplicantConfig() (string, error) {
	if c.cfg.SupplicantConfig != "" {
		return c.cfg.SupplicantConfig, nil
	}
	n, err := c.cfg.Network()
	if err != nil {
		return "", err
	}
	b, err := wifi.GenerateConfig(n)
	if err != nil {
		return "", err
	}
	p := c.dir.Path(SupplicantConf)
	if err := os.WriteFile(p, b, 0o600); err != nil {
		return "", errors.Wrap(err, "write wpa_supplicant configuration")
	}
	logrus.Infof("Joining %q (%v)", n.SSID, n.Mode)
	return p, nil
}

func (c *Controller) run() {
	ctx := c.sup.Context()

	if !c.cfg.NoDHCP {
		c.waitAssociated(ctx)
		if err := c.startDHCP(ctx); err != nil {
			c.sup.Fatal(err)
			return
		}
	}

	wd := make(chan struct{})
	go func() {
		defer close(wd)
		c.deps.Watchdog(ctx, c.sup.Fatal)
	}()
	// The watchdog shares this process's lock count, so it has to be gone
	// before cleanup takes the lock.
	defer func() { <-wd }()

	c.setState(Running)
	logrus.Infof("%s is up", c.iface)
	if _, err := c.deps.Notify(daemon.SdNotifyReady); err != nil {
		logrus.Debugf("sd_notify: %v", err)
	}

	select {
	case <-ctx.Done():
	case err := <-c.supplicant.Done():
		if err == nil {
			err = errors.New("exited")
		}
		c.sup.Fatal(errors.Wrap(err, "wpa_supplicant"))
	}
}

func (c *Controller) waitAssociated(ctx context.Context) {
	for i := 0; i < associateTries; i++ {
		if ok, err := c.deps.Associated(c.iface); err == nil && ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(associatePoll):
		}
	}
	logrus.Warnf("%s is not associated yet, starting DHCP anyway", c.iface)
}

func (c *Controller) startDHCP(ctx context.Context) error {
	if err := dhclient.BackupResolvConf(c.deps.ResolvConf, c.dir.Path(ResolvBackup)); err != nil {
		return err
	}
	c.resolvSaved = true
	return c.deps.DHCP(ctx, c.iface, c.dir, c.out)
}

func dhcp(backend dhclient.Backend) func(context.Context, string, *instance.Dir, io.Writer) error {
	return func(ctx context.Context, iface string, dir *instance.Dir, out io.Writer) error {
		b, err := backend.Resolve()
		if err != nil {
			return err
		}
		if b == dhclient.External {
			_, err := dhclient.Start(iface, dir.String(), out)
			return err
		}
		cl := make(chan string)
		go func() {
			for msg := range cl {
				logrus.Infof("DHCP: %s", msg)
			}
		}()
		return dhclient.Request(ctx, iface, dhclient.DefaultConfig, cl)
	}
}

func (c *Controller) watchdog(ctx context.Context, fatal func(error) bool) {
	var common string
	if err := c.lock.Do(func() error {
		var err error
		common, err = c.reg.CommonDir()
		return err
	}); err != nil {
		fatal(err)
		return
	}
	w := &entropy.Watchdog{
		Lock:      c.lock,
		Threshold: entropy.DefaultThreshold,
		Interval:  entropy.DefaultInterval,
		PIDFile:   filepath.Join(common, HavegedPID),
	}
	w.Run(ctx, fatal)
}

// Cleanup undoes everything setup did. It runs once; later calls return
// the first result. Every step runs even if an earlier one fails.
func (c *Controller) Cleanup() error {
	c.cleanupOnce.Do(func() {
		c.cleanupErr = c.cleanup()
	})
	return c.cleanupErr
}

func (c *Controller) cleanup() error {
	c.setState(CleaningUp)
	if _, err := c.deps.Notify(daemon.SdNotifyStopping); err != nil {
		logrus.Debugf("sd_notify: %v", err)
	}
	defer c.out.Close()

	g, err := c.lock.Acquire()
	if err != nil {
		return errors.Wrap(err, "cleanup")
	}

	var result *multierror.Error
	step := func(what string, err error) {
		if err != nil {
			logrus.Errorf("Cleanup: %s: %v", what, err)
			result = multierror.Append(result, errors.Wrap(err, what))
		}
	}

	if c.dir != nil {
		step("kill children", proc.KillPIDFiles(c.dir.String(), instance.PIDFileName()))
		if c.resolvSaved {
			step("restore resolver", dhclient.RestoreResolvConf(c.dir.Path(ResolvBackup), c.deps.ResolvConf))
		}
		step("remove instance directory", c.dir.Remove())
	}

	if c.macChanged && c.origMAC != nil {
		step("link down", c.deps.Link.Down(c.iface))
		step("restore MAC address", c.deps.Link.SetHardwareAddr(c.iface, c.origMAC))
	}
	if c.deps.NM != nil && c.iface != "" {
		step("NetworkManager", c.deps.NM.RemoveUnmanaged(c.iface))
	}
	if c.virt != "" {
		if c.virtCreated {
			step("delete "+c.virt, c.deps.Link.DelVirtual(c.virt))
		}
		step("release "+c.virt, c.reg.ReleaseVirtualName(c.virt))
	} else if c.prepared {
		step("link down", c.deps.Link.Down(c.iface))
		step("link up", c.deps.Link.Up(c.iface))
	}

	step("reap stale instances", c.reg.ReapStale())
	others, err := c.reg.OthersRunning(c.pid)
	step("list instances", err)
	if err == nil && !others {
		step("stop haveged", c.stopHaveged())
		step("remove common directory", c.reg.RemoveCommonDir())
		step("remove lock file", c.lock.RemoveLockFile())
	}

	step("release lock", g.Release())
	step("close lock", c.lock.Close())

	c.dir, c.macChanged, c.prepared, c.virt, c.virtCreated, c.resolvSaved = nil, false, false, "", false, false
	c.setState(Terminated)
	return result.ErrorOrNil()
}

func (c *Controller) stopHaveged() error {
	pid, err := proc.ReadPIDFile(c.reg.CommonFile(HavegedPID))
	if err != nil {
		return nil
	}
	if !proc.Alive(pid) {
		return nil
	}
	logrus.Infof("Stopping haveged (pid %d)", pid)
	return proc.Kill(pid)
}
