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

// Package watchdog tracks consecutive watchdog-triggered resets and
// decides when the boot flow must escalate to recovery instead of
// retrying a kernel that keeps hanging.
package watchdog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/reset"
)

const (
	// CounterMax is the number of watchdog resets tolerated inside
	// the delay window before escalating.
	CounterMax = 2

	// Delay is the window after which accumulated watchdog resets
	// are considered stale and the counter restarts.
	Delay = 10 * time.Minute
)

var timeNow = time.Now

// Check inspects the reset cause and maintains the persistent watchdog
// counter. It returns true when the counter crossed CounterMax inside
// the delay window, meaning the caller should escalate instead of
// retrying the same kernel.
//
// Any reset that is not watchdog-triggered breaks the crash streak and
// clears the counter.
func Check(store efivars.Store, oracle reset.Oracle) (escalate bool, err error) {
	src := oracle.ResetSource()

	counter, ref, err := load(store)
	if err != nil {
		return false, err
	}

	if !src.IsWatchdog() {
		if counter != 0 {
			if err := Reset(store); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	logger.Noticef("watchdog reset detected: %s", src)

	now := timeNow()
	if counter > 0 && (now.Before(ref) || now.Sub(ref) > Delay) {
		// previous events are too old to count against this one
		logger.Debugf("watchdog counter stale, restarting at zero")
		counter = 0
	}
	if counter == 0 {
		// the window is anchored at the first reset of the streak
		ref = now
	}

	counter++
	if err := save(store, counter, ref); err != nil {
		return false, err
	}

	if counter > CounterMax {
		logger.Noticef("%d watchdog resets within %v, escalating to recovery", counter, Delay)
		if err := Reset(store); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// Reset clears the persistent counter, e.g. after the escalation has
// been acted upon or once userspace reports a healthy boot.
func Reset(store efivars.Store) error {
	if err := store.Delete(efivars.WatchdogCounterVar, efivars.LoaderGUID); err != nil && !efivars.IsNotFound(err) {
		return fmt.Errorf("cannot clear watchdog counter: %v", err)
	}
	if err := store.Delete(efivars.WatchdogTimeRefVar, efivars.LoaderGUID); err != nil && !efivars.IsNotFound(err) {
		return fmt.Errorf("cannot clear watchdog time reference: %v", err)
	}
	return nil
}

func load(store efivars.Store) (counter uint8, ref time.Time, err error) {
	data, _, err := store.Get(efivars.WatchdogCounterVar, efivars.LoaderGUID)
	if efivars.IsNotFound(err) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("cannot read watchdog counter: %v", err)
	}
	if len(data) != 1 {
		// malformed, start over
		return 0, time.Time{}, nil
	}
	counter = data[0]

	tdata, _, err := store.Get(efivars.WatchdogTimeRefVar, efivars.LoaderGUID)
	if efivars.IsNotFound(err) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("cannot read watchdog time reference: %v", err)
	}
	if len(tdata) != 8 {
		return 0, time.Time{}, nil
	}
	ref = time.Unix(int64(binary.LittleEndian.Uint64(tdata)), 0)
	return counter, ref, nil
}

func save(store efivars.Store, counter uint8, ref time.Time) error {
	if err := store.Set(efivars.WatchdogCounterVar, efivars.LoaderGUID, efivars.DefaultAttrs, []byte{counter}); err != nil {
		return fmt.Errorf("cannot store watchdog counter: %v", err)
	}
	tdata := make([]byte, 8)
	binary.LittleEndian.PutUint64(tdata, uint64(ref.Unix()))
	if err := store.Set(efivars.WatchdogTimeRefVar, efivars.LoaderGUID, efivars.DefaultAttrs, tdata); err != nil {
		return fmt.Errorf("cannot store watchdog time reference: %v", err)
	}
	return nil
}
