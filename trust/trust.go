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

// Package trust tracks the verified boot state of the device and
// guards the transitions between the locked, unlocked and verified
// device states.
package trust

import (
	"errors"
	"fmt"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

// BootState is the verified boot color reported to the OS.
type BootState int

const (
	// Green: device locked, image verified against the OEM key.
	Green BootState = iota
	// Yellow: device locked, image verified against a user key.
	Yellow
	// Orange: device unlocked, no verification enforced.
	Orange
	// Red: device locked but the image failed verification.
	Red
)

var stateNames = map[BootState]string{
	Green:  "green",
	Yellow: "yellow",
	Orange: "orange",
	Red:    "red",
}

func (s BootState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrHalt is returned when the boot flow must stop entirely rather
// than fall back to another target.
var ErrHalt = errors.New("boot flow halted")

// Prompter asks the physically present user a yes/no question. It
// must not return affirmatively on timeout.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// Controller evaluates verification outcomes against the device state
// and drives the state transitions.
type Controller struct {
	store efivars.Store
	// prompter may be nil on headless devices; every confirmation
	// then denies.
	prompter Prompter
	// forbidUnlock pins the device in the locked state.
	forbidUnlock bool
}

// NewController returns a trust controller over the given variable
// store.
func NewController(store efivars.Store, prompter Prompter, forbidUnlock bool) *Controller {
	return &Controller{store: store, prompter: prompter, forbidUnlock: forbidUnlock}
}

// DeviceState returns the current device lock state.
func (ctl *Controller) DeviceState() efivars.DeviceState {
	return efivars.GetDeviceState(ctl.store)
}

// BootState computes the boot color from the firmware secure boot
// flag, the device state and the outcome of image verification.
// userKey is set when the image chain ends in a user installed
// keystore rather than the OEM key.
//
// With firmware secure boot disabled our own binary was never
// verified, so the image verification outcome proves nothing and the
// state degrades to orange no matter what. Devices still in
// provisioning are exempt, factory flows run before secure boot is
// turned on.
func (ctl *Controller) BootState(verified, userKey bool) BootState {
	if !efivars.SecureBoot(ctl.store) && !efivars.Provisioning(ctl.store) {
		logger.Noticef("uefi secure boot is disabled")
		return Orange
	}
	if ctl.DeviceState() == efivars.DeviceUnlocked {
		return Orange
	}
	switch {
	case !verified:
		return Red
	case userKey:
		return Yellow
	}
	return Green
}

// RecordBootState persists the boot color so the OS can report it.
func (ctl *Controller) RecordBootState(state BootState) error {
	err := efivars.SetString(ctl.store, efivars.BootStateVar, efivars.LoaderGUID, efivars.VolatileAttrs, state.String())
	if err != nil {
		return fmt.Errorf("cannot record boot state: %v", err)
	}
	return nil
}

// Unlock transitions the device to the unlocked state after user
// confirmation. Unlocking wipes user data at the OS level, hence the
// prompt is not skippable.
func (ctl *Controller) Unlock() error {
	if ctl.forbidUnlock {
		return fmt.Errorf("cannot unlock device: unlocking is disabled on this device")
	}
	if ctl.DeviceState() == efivars.DeviceUnlocked {
		return nil
	}
	ok, err := ctl.confirm("Unlock the bootloader? This will erase all user data.")
	if err != nil {
		return fmt.Errorf("cannot confirm unlock: %v", err)
	}
	if !ok {
		return fmt.Errorf("cannot unlock device: not confirmed by user")
	}
	logger.Noticef("device state change: %s -> %s", ctl.DeviceState(), efivars.DeviceUnlocked)
	return efivars.SetDeviceState(ctl.store, efivars.DeviceUnlocked)
}

// Lock returns the device to the locked state. No confirmation is
// required, locking only tightens the policy.
func (ctl *Controller) Lock() error {
	if ctl.DeviceState() == efivars.DeviceLocked {
		return nil
	}
	logger.Noticef("device state change: %s -> %s", ctl.DeviceState(), efivars.DeviceLocked)
	return efivars.SetDeviceState(ctl.store, efivars.DeviceLocked)
}

func (ctl *Controller) confirm(question string) (bool, error) {
	if ctl.prompter == nil {
		return false, nil
	}
	return ctl.prompter.Confirm(question)
}

// Enforce decides whether booting may proceed in the given state. Any
// state but green pauses for user acknowledgement when a prompter is
// available; the only remedy for a degraded state runs through
// fastboot, so a device where unlocking is disabled is warned and
// halted instead. Headless devices continue on yellow and orange, so
// that a user keystore does not brick them, but never boot red
// unattended.
func (ctl *Controller) Enforce(state BootState) error {
	switch state {
	case Green:
		return nil
	case Yellow, Orange, Red:
	default:
		return fmt.Errorf("internal error: unknown boot state %d", state)
	}
	if state == Red {
		logger.Noticef("image verification failed on a locked device")
	}
	if ctl.forbidUnlock {
		logger.Noticef("boot state is %s and unlocking is disabled, refusing to boot", state)
		ctl.confirm(fmt.Sprintf("Boot state is %s and this device cannot be unlocked. The system will halt.", state))
		return ErrHalt
	}
	if ctl.prompter == nil {
		if state == Red {
			return ErrHalt
		}
		return nil
	}
	ok, err := ctl.prompter.Confirm(fmt.Sprintf("Boot state is %s. Continue booting?", state))
	if err != nil {
		return fmt.Errorf("cannot confirm %s boot: %v", state, err)
	}
	if !ok {
		return ErrHalt
	}
	return nil
}
