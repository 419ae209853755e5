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
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	"gopkg.in/tomb.v2"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootpolicy"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

// the magic key on Intel reference boards
const magicKeyCode = evdev.KEY_VOLUMEDOWN

// evdevKeyboard watches the magic key through the input event
// interface.
type evdevKeyboard struct {
	dev    *evdev.InputDevice
	events chan *evdev.InputEvent
	tomb   tomb.Tomb
}

// openKeyboard finds an input device carrying the magic key. Boards
// without one run without a keyboard and the magic key check is
// skipped.
func openKeyboard() bootpolicy.Keyboard {
	devices, err := evdev.ListInputDevices()
	if err != nil {
		logger.Debugf("cannot list input devices: %v", err)
		return nil
	}
	for _, dev := range devices {
		if !hasMagicKey(dev) {
			continue
		}
		logger.Debugf("magic key on input device %s (%s)", dev.Fn, dev.Name)
		k := &evdevKeyboard{dev: dev, events: make(chan *evdev.InputEvent, 16)}
		k.tomb.Go(k.pump)
		return k
	}
	return nil
}

func hasMagicKey(dev *evdev.InputDevice) bool {
	for capType, codes := range dev.Capabilities {
		if capType.Type != evdev.EV_KEY {
			continue
		}
		for _, code := range codes {
			if code.Code == magicKeyCode {
				return true
			}
		}
	}
	return false
}

func (k *evdevKeyboard) pump() error {
	defer close(k.events)
	for {
		ev, err := k.dev.ReadOne()
		if err != nil {
			return err
		}
		if ev.Type != evdev.EV_KEY || ev.Code != magicKeyCode {
			continue
		}
		if !k.tomb.Alive() {
			return tomb.ErrDying
		}
		select {
		case k.events <- ev:
		default:
			// an unread event is stale anyway
		}
	}
}

func (k *evdevKeyboard) Pressed(wait time.Duration) (bool, error) {
	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	for {
		select {
		case ev, ok := <-k.events:
			if !ok {
				return false, nil
			}
			if ev.Value != 0 {
				return true, nil
			}
		case <-timeout.C:
			return false, nil
		}
	}
}

func (k *evdevKeyboard) Held(hold, stall time.Duration) (bool, error) {
	timeout := time.NewTimer(hold)
	defer timeout.Stop()
	for {
		select {
		case ev, ok := <-k.events:
			if !ok {
				return false, nil
			}
			if ev.Value == 0 {
				// released before the hold elapsed
				return false, nil
			}
		case <-timeout.C:
			return true, nil
		}
	}
}
