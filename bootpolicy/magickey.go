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

package bootpolicy

import (
	"time"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

const (
	// defaultMagicKeyWait is how long after reset the magic key is
	// looked for.
	defaultMagicKeyWait = 200 * time.Millisecond

	// maxMagicKeyWait caps the configurable wait; a larger
	// persisted value is treated as corrupt and the default used,
	// an absurd wait here would look like a dead device.
	maxMagicKeyWait = 1000 * time.Millisecond

	// magicKeyHold is how long the key must stay down once seen.
	magicKeyHold = 2 * time.Second

	defaultHoldStall = time.Millisecond
)

// Keyboard samples the magic key state. The EFI driver polls the
// console; tests script the answers.
type Keyboard interface {
	// Pressed reports whether the magic key goes down within the
	// wait window.
	Pressed(wait time.Duration) (bool, error)
	// Held reports whether the key stays down for the whole hold
	// period, sampling every stall interval.
	Held(hold, stall time.Duration) (bool, error)
}

// DetectMagicKey watches for the magic key after reset: the key must
// appear within the (configurable) wait window and then stay held.
// A tap is not enough, accidental servicing mode on a device in a
// pocket is expensive to get out of.
func DetectMagicKey(store efivars.Store, kbd Keyboard) (bool, error) {
	wait := time.Duration(efivars.GetUint64(store, efivars.MagicKeyTimeoutVar, efivars.LoaderGUID, uint64(defaultMagicKeyWait/time.Millisecond))) * time.Millisecond
	if wait > maxMagicKeyWait {
		logger.Noticef("magic key timeout %v out of range, using default", wait)
		wait = defaultMagicKeyWait
	}
	stall := time.Duration(efivars.GetUint64(store, efivars.HoldKeyStallTimeVar, efivars.LoaderGUID, uint64(defaultHoldStall/time.Millisecond))) * time.Millisecond

	pressed, err := kbd.Pressed(wait)
	if err != nil || !pressed {
		return false, err
	}
	return kbd.Held(magicKeyHold, stall)
}
