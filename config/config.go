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

// Package config holds the per-device build configuration of the boot
// loader. The configuration is baked into the image at build time and
// is never writable from the running system.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/osutil"
)

// Board describes the hardware identity reported on the kernel command
// line and over fastboot.
type Board struct {
	Brand      string `yaml:"brand"`
	Name       string `yaml:"name"`
	Device     string `yaml:"device"`
	Model      string `yaml:"model"`
	Bootloader string `yaml:"bootloader-version"`
	Serial     string `yaml:"serialno"`
	DiskBus    string `yaml:"disk-bus"`
}

// Device is the build-time configuration of the boot loader.
type Device struct {
	// AllowCmdlineOverride permits the command line replace, append
	// and prepend variables. Userdebug builds only.
	AllowCmdlineOverride bool `yaml:"allow-cmdline-override"`

	// ForbidUnlock disallows transitioning the device to the
	// unlocked state regardless of user confirmation.
	ForbidUnlock bool `yaml:"forbid-unlock"`

	// Engineering enables the engineering escape hatches such as
	// booting unsigned images from the system partition.
	Engineering bool `yaml:"engineering"`

	// MagicKeyToRecovery routes the magic key combo to recovery
	// instead of fastboot.
	MagicKeyToRecovery bool `yaml:"magic-key-to-recovery"`

	Board Board `yaml:"board"`
}

// Default is the configuration used when no config file is present:
// a locked-down user build.
func Default() *Device {
	return &Device{
		Board: Board{
			Brand:  "intel",
			Name:   "unknown",
			Device: "unknown",
			Model:  "unknown",
		},
	}
}

// Load reads the device configuration from path. A missing file yields
// the default configuration, not an error.
func Load(path string) (*Device, error) {
	if !osutil.FileExists(path) {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read device config: %v", err)
	}
	dev := Default()
	if err := yaml.Unmarshal(data, dev); err != nil {
		return nil, fmt.Errorf("cannot parse device config %q: %v", path, err)
	}
	return dev, nil
}
