// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The kernelflinger authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootpolicy"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/osutil"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/reset"
)

var (
	watchdogBootstatusPath = "/sys/class/watchdog/watchdog0/bootstatus"
	powerSupplyDir         = "/sys/class/power_supply"
)

// sysfsResetOracle derives the reset cause from the watchdog driver's
// boot status. Wake cause detection needs the PMC and is not exposed
// on generic kernels, so it reports not applicable.
type sysfsResetOracle struct{}

func platformResetOracle() reset.Oracle {
	return sysfsResetOracle{}
}

func (sysfsResetOracle) ResetSource() reset.Source {
	data, err := os.ReadFile(watchdogBootstatusPath)
	if err != nil {
		return reset.UnknownSource
	}
	status := strings.TrimSpace(string(data))
	if status != "" && status != "0" {
		return reset.KernelWatchdog
	}
	return reset.NotApplicable
}

func (sysfsResetOracle) WakeSource() reset.WakeSource {
	return reset.WakeNotApplicable
}

// newKeystoreVerifier loads the device keystore from the ESP. Without
// a keystore there is no verifier and every image verification denies.
func newKeystoreVerifier(espDir string) bootimg.Verifier {
	path := filepath.Join(espDir, "keystore")
	if !osutil.FileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Noticef("cannot read keystore: %v", err)
		return nil
	}
	keys, err := bootimg.DecodeKeystore(data)
	if err != nil {
		logger.Noticef("cannot parse keystore: %v", err)
		return nil
	}
	return &bootimg.RSAVerifier{Keys: keys}
}

// sysfsBattery reads the battery charge state from the power supply
// class. openBattery returns nil on boards without a battery.
type sysfsBattery struct{}

func (sysfsBattery) Capacity() (int, error) {
	_, capacity, err := batteryState()
	return capacity, err
}

func (sysfsBattery) ChargerConnected() bool {
	status, _, err := batteryState()
	if err != nil {
		return false
	}
	// "Not charging" still means external power is attached
	return status != "Discharging"
}

func openBattery() bootpolicy.Battery {
	if _, _, err := batteryState(); err != nil {
		return nil
	}
	return sysfsBattery{}
}

// monitorCharge holds the device in charging mode until the charger
// goes away or the battery is full, then lets the caller continue
// into a normal boot.
func monitorCharge() error {
	for {
		status, capacity, err := batteryState()
		if err != nil {
			return fmt.Errorf("cannot read battery state: %v", err)
		}
		logger.Noticef("charging: %s, %d%%", status, capacity)
		if status != "Charging" || capacity >= 100 {
			return nil
		}
		time.Sleep(30 * time.Second)
	}
}

func batteryState() (status string, capacity int, err error) {
	entries, err := os.ReadDir(powerSupplyDir)
	if err != nil {
		return "", 0, err
	}
	for _, e := range entries {
		dir := filepath.Join(powerSupplyDir, e.Name())
		typ, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil || strings.TrimSpace(string(typ)) != "Battery" {
			continue
		}
		st, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil {
			return "", 0, err
		}
		capData, err := os.ReadFile(filepath.Join(dir, "capacity"))
		if err != nil {
			return "", 0, err
		}
		capacity := 0
		fmt.Sscanf(strings.TrimSpace(string(capData)), "%d", &capacity)
		return strings.TrimSpace(string(st)), capacity, nil
	}
	return "", 0, fmt.Errorf("no battery found under %s", powerSupplyDir)
}

// execKernel stages the image's kernel and ramdisk through the kernel
// file-load interface and reboots into it.
func execKernel(img *bootimg.Image, cmdline string) error {
	dir, err := os.MkdirTemp("", "kernelflinger-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	kernelPath := filepath.Join(dir, "kernel")
	if err := osutil.AtomicWriteFile(kernelPath, img.Kernel(), 0600); err != nil {
		return err
	}
	kernelFd, err := unix.Open(kernelPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open staged kernel: %v", err)
	}
	defer unix.Close(kernelFd)

	initrdFd := -1
	flags := unix.KEXEC_FILE_NO_INITRAMFS
	if rd := img.Ramdisk(); len(rd) > 0 {
		initrdPath := filepath.Join(dir, "initrd")
		if err := osutil.AtomicWriteFile(initrdPath, rd, 0600); err != nil {
			return err
		}
		initrdFd, err = unix.Open(initrdPath, unix.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("cannot open staged ramdisk: %v", err)
		}
		defer unix.Close(initrdFd)
		flags = 0
	}

	if err := unix.KexecFileLoad(kernelFd, initrdFd, cmdline, flags); err != nil {
		return fmt.Errorf("cannot load kernel for execution: %v", err)
	}
	logger.Noticef("executing kernel")
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_KEXEC); err != nil {
		return fmt.Errorf("cannot execute loaded kernel: %v", err)
	}
	return nil
}

func powerOff() error {
	logger.Noticef("powering off")
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return fmt.Errorf("cannot power off: %v", err)
	}
	return nil
}

// chainloadEFI hands an EFI binary on the ESP to the firmware boot
// manager. Running this flow needs boot services, which are long gone
// once an OS kernel owns the machine, so it only validates the request
// here.
func chainloadEFI(espDir, path string) error {
	full := filepath.Join(espDir, path)
	if !osutil.FileExists(full) {
		return fmt.Errorf("cannot chainload %q: no such file on the ESP", path)
	}
	return fmt.Errorf("cannot chainload %q: firmware boot services are not available", path)
}

// bootStagedImage boots an image a previous loader stage left in
// memory. Without firmware services the address cannot be dereferenced
// safely from here.
func bootStagedImage(addr uint64) error {
	return fmt.Errorf("cannot boot staged image at %#x: firmware boot services are not available", addr)
}
