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

// Package reset models why the platform last reset and how it woke up,
// as reported by platform firmware.
package reset

// Source identifies the cause of the last platform reset.
type Source int

const (
	NotApplicable Source = iota
	OSInitiated
	ForcedWarmReset
	KernelWatchdog
	SecurityWatchdog
	SecurityInitiated
	PMCWatchdog
	EcWatchdog
	PlatformWatchdog
	UnknownSource
)

var sourceNames = map[Source]string{
	NotApplicable:     "not_applicable",
	OSInitiated:       "os_initiated",
	ForcedWarmReset:   "forced_warm_reset",
	KernelWatchdog:    "kernel_watchdog",
	SecurityWatchdog:  "security_watchdog",
	SecurityInitiated: "security_initiated",
	PMCWatchdog:       "pmc_watchdog",
	EcWatchdog:        "ec_watchdog",
	PlatformWatchdog:  "platform_watchdog",
	UnknownSource:     "unknown",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsWatchdog reports whether the reset was triggered by any of the
// platform watchdogs.
func (s Source) IsWatchdog() bool {
	switch s {
	case KernelWatchdog, SecurityWatchdog, PMCWatchdog, EcWatchdog, PlatformWatchdog:
		return true
	}
	return false
}

// WakeSource identifies what woke the platform from a powered-off
// state.
type WakeSource int

const (
	WakeNotApplicable WakeSource = iota
	WakeBatteryInserted
	WakeUSBCharger
	WakeACCharger
	WakePowerButton
	WakeUnknown
)

var wakeNames = map[WakeSource]string{
	WakeNotApplicable:   "not_applicable",
	WakeBatteryInserted: "battery_inserted",
	WakeUSBCharger:      "usb_charger_inserted",
	WakeACCharger:       "acdc_charger_inserted",
	WakePowerButton:     "power_button_pressed",
	WakeUnknown:         "unknown",
}

func (w WakeSource) String() string {
	if name, ok := wakeNames[w]; ok {
		return name
	}
	return "unknown"
}

// Oracle reports the platform reset and wake causes. On hardware it is
// backed by the PMC registers; tests provide canned values.
type Oracle interface {
	ResetSource() Source
	WakeSource() WakeSource
}

// Static is a trivial Oracle with fixed answers, suitable for platforms
// without a PMC interface and for tests.
type Static struct {
	Reset Source
	Wake  WakeSource
}

func (s Static) ResetSource() Source    { return s.Reset }
func (s Static) WakeSource() WakeSource { return s.Wake }
