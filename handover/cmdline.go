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

package handover

import (
	"fmt"
	"strings"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/config"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/targets"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/trust"
)

// BuildCommandLine assembles the kernel command line for a boot image:
// the image's embedded command line, optionally overridden on debug
// builds, followed by the platform parameters the OS expects for the
// given boot target.
func BuildCommandLine(store efivars.Store, dev *config.Device, img *bootimg.Image, target targets.BootTarget, state trust.BootState, bootReason string) string {
	base := img.Header.CmdlineString()

	if dev.AllowCmdlineOverride {
		if replace := efivars.GetString(store, efivars.CmdlineReplaceVar, efivars.LoaderGUID); replace != "" {
			logger.Noticef("kernel command line replaced from firmware variable")
			base = replace
		}
		if prepend := efivars.GetString(store, efivars.CmdlinePrependVar, efivars.LoaderGUID); prepend != "" {
			base = prepend + " " + base
		}
		if suffix := efivars.GetString(store, efivars.CmdlineAppendVar, efivars.LoaderGUID); suffix != "" {
			base = base + " " + suffix
		}
	}

	params := []string{base}
	add := func(format string, args ...interface{}) {
		params = append(params, fmt.Sprintf(format, args...))
	}

	if serial := SerialConsole(store); serial != "" {
		add("console=%s", serial)
	}
	add("androidboot.verifiedbootstate=%s", state)
	add("androidboot.bootreason=%s", bootReason)
	if target == targets.Charger {
		// the OS boots into the minimal charging UI instead of
		// the full system
		add("androidboot.mode=charger")
	}
	if dev.Board.Serial != "" {
		add("androidboot.serialno=%s", dev.Board.Serial)
		// the USB gadget stack reports the same serial to hosts
		add("g_ffs.iSerialNumber=%s", dev.Board.Serial)
	}
	if dev.Board.Bootloader != "" {
		add("androidboot.bootloader=%s", dev.Board.Bootloader)
	}
	if dev.Board.Brand != "" {
		add("androidboot.brand=%s", dev.Board.Brand)
	}
	if dev.Board.Name != "" {
		add("androidboot.name=%s", dev.Board.Name)
	}
	if dev.Board.Device != "" {
		add("androidboot.device=%s", dev.Board.Device)
	}
	if dev.Board.DiskBus != "" {
		add("androidboot.diskbus=%s", dev.Board.DiskBus)
	}
	return strings.Join(params, " ")
}

// SerialConsole returns the serial console device name from firmware
// configuration. Anything outside the expected character set falls
// back to tty0, the name cannot be allowed to smuggle extra kernel
// parameters.
func SerialConsole(store efivars.Store) string {
	name := efivars.GetString(store, efivars.SerialPortVar, efivars.LoaderGUID)
	if name == "" {
		return "tty0"
	}
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == ',':
		default:
			logger.Noticef("ignoring malformed serial port name %q", name)
			return "tty0"
		}
	}
	return name
}
