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

package efivars

const (
	// LoaderEntryOneShotVar holds a boot target name consumed on
	// first read, whether or not it is understood.
	LoaderEntryOneShotVar = "LoaderEntryOneShot"

	// LoaderVersionVar reports the loader version to the OS.
	LoaderVersionVar = "LoaderVersion"

	// SerialPortVar configures the console= kernel parameter.
	SerialPortVar = "SerialPort"

	// MagicKeyTimeoutVar stores the maximum time in milliseconds to
	// wait for the magic key at startup.
	MagicKeyTimeoutVar = "MagicKeyTimeout"

	// HoldKeyStallTimeVar stores the time in milliseconds to wait
	// between two key events for a held key.
	HoldKeyStallTimeVar = "HoldKeyStallTime"

	// RebootReasonVar holds an OS-provided boot reason override,
	// deleted after one read.
	RebootReasonVar = "LoaderEntryRebootReason"

	// BootStateVar is the verified boot state reported to the OS
	// before the handover, per the verified boot requirements.
	BootStateVar = "BootState"

	// OffModeChargeVar enables entering charge mode instead of
	// booting when woken by a charger.
	OffModeChargeVar = "OffModeCharge"

	// MinBootChargeVar overrides the battery percentage below which
	// the OS must not be booted.
	MinBootChargeVar = "MinBootCharge"

	// CrashEventMenuVar enables the crash event menu shown after
	// repeated watchdog resets.
	CrashEventMenuVar = "CrashEventMenu"

	// OEMVarsUpdateVar flags that the OEM vars embedded in the boot
	// image may be stale and must be re-applied.
	OEMVarsUpdateVar = "UpdateOemVars"

	// DeviceStateVar persists the lock state of the device.
	DeviceStateVar = "OEMLock"

	// ProvisioningVar flags a device still in provisioning.
	ProvisioningVar = "Provisioning"

	// SecureBootVar is set by the firmware under GlobalGUID when
	// secure boot is enforced.
	SecureBootVar = "SecureBoot"

	// Debug-build only command line overrides.
	CmdlineReplaceVar = "ReplaceCmdline"
	CmdlineAppendVar  = "AppendCmdline"
	CmdlinePrependVar = "PrependCmdline"

	// Watchdog escalation bookkeeping.
	WatchdogCounterVar = "WatchdogCounter"
	WatchdogTimeRefVar = "WatchdogTimeRef"
)

// DeviceState is the provisioning/lock state of the device.
type DeviceState int

const (
	DeviceUnknown DeviceState = iota - 1
	DeviceLocked
	DeviceVerified
	DeviceUnlocked
)

func (s DeviceState) String() string {
	switch s {
	case DeviceLocked:
		return "locked"
	case DeviceVerified:
		return "verified"
	case DeviceUnlocked:
		return "unlocked"
	}
	return "unknown"
}

// GetDeviceState returns the persisted lock state. A missing or
// malformed variable means the device is still locked; strictest
// interpretation wins on corrupted state.
func GetDeviceState(st Store) DeviceState {
	data, _, err := st.Get(DeviceStateVar, FastbootGUID)
	if err != nil || len(data) != 1 {
		return DeviceLocked
	}
	switch data[0] {
	case 0:
		return DeviceLocked
	case 1:
		return DeviceVerified
	case 2:
		return DeviceUnlocked
	}
	return DeviceLocked
}

// SetDeviceState persists the lock state.
func SetDeviceState(st Store, state DeviceState) error {
	return st.Set(DeviceStateVar, FastbootGUID, DefaultAttrs, []byte{byte(state)})
}

// OffModeCharge returns whether off-mode charging is enabled; it
// defaults to enabled when unset.
func OffModeCharge(st Store) bool {
	return GetBool(st, OffModeChargeVar, FastbootGUID, true)
}

// CrashEventMenu returns whether the watchdog crash menu is enabled;
// it defaults to enabled when unset.
func CrashEventMenu(st Store) bool {
	return GetBool(st, CrashEventMenuVar, FastbootGUID, true)
}

// OEMVarsUpdate returns whether the OEM vars embedded in the boot
// image must be (re-)applied on the next normal boot.
func OEMVarsUpdate(st Store) bool {
	return GetBool(st, OEMVarsUpdateVar, FastbootGUID, false)
}

// SetOEMVarsUpdate arms or clears the OEM vars update flag.
func SetOEMVarsUpdate(st Store, update bool) error {
	return SetBool(st, OEMVarsUpdateVar, FastbootGUID, DefaultAttrs, update)
}

// Provisioning returns whether the device is still being provisioned.
func Provisioning(st Store) bool {
	return GetBool(st, ProvisioningVar, FastbootGUID, false)
}

// SecureBoot returns whether the firmware enforced secure boot for the
// current boot. The variable cannot prove enforcement, but its absence
// is a reliable sign that the chain of trust is broken, so a missing or
// malformed variable counts as disabled.
func SecureBoot(st Store) bool {
	return GetBool(st, SecureBootVar, GlobalGUID, false)
}
