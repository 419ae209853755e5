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

// Package targets defines the boot targets the boot policy can select
// and the mapping between persisted target names and targets.
package targets

// BootTarget is the destination selected for this boot cycle. It is
// produced exactly once per boot by the decision engine and drives
// every later branch.
type BootTarget int

const (
	// NormalBoot boots the regular OS from the boot partition. It
	// doubles as the "no opinion" value inside the decision chain:
	// a check returning NormalBoot defers to the next check.
	NormalBoot BootTarget = iota
	// Recovery boots the recovery image from the recovery partition.
	Recovery
	// Fastboot enters the servicing (flashing) mode.
	Fastboot
	// Memory boots an image already loaded at a raw memory address.
	Memory
	// ESPEFIBinary chainloads an EFI application from the ESP.
	ESPEFIBinary
	// ESPBootImage boots a boot image file from the ESP.
	ESPBootImage
	// Charger enters off-mode charging.
	Charger
	// PowerOff halts the device.
	PowerOff
	// TDOS boots the diagnostic OS image.
	TDOS
	// ExitShell returns to the firmware shell (debug invocations only).
	ExitShell
	// UnknownTarget is the resolution failure value of FromName.
	UnknownTarget
)

// names maps persisted target names, as found in the BCB or the
// one-shot variable, to boot targets. "boot" and "bootloader" are the
// historical spellings the OS-side tooling writes.
var names = map[string]BootTarget{
	"normal":     NormalBoot,
	"boot":       NormalBoot,
	"recovery":   Recovery,
	"fastboot":   Fastboot,
	"bootloader": Fastboot,
	"charging":   Charger,
	"power_off":  PowerOff,
	"tdos":       TDOS,
}

// FromName resolves a persisted target name to a BootTarget, or
// UnknownTarget if the name is not recognized.
func FromName(name string) BootTarget {
	if t, ok := names[name]; ok {
		return t
	}
	return UnknownTarget
}

func (t BootTarget) String() string {
	switch t {
	case NormalBoot:
		return "normal boot"
	case Recovery:
		return "recovery"
	case Fastboot:
		return "fastboot"
	case Memory:
		return "memory"
	case ESPEFIBinary:
		return "EFI binary on ESP"
	case ESPBootImage:
		return "boot image on ESP"
	case Charger:
		return "charger"
	case PowerOff:
		return "power off"
	case TDOS:
		return "tdos"
	case ExitShell:
		return "exit to shell"
	}
	return "unknown"
}
