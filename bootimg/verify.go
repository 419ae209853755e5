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

package bootimg

import (
	"errors"
	"fmt"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/strutil"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/targets"
)

// ErrAccessDenied marks a verification refusal, as opposed to an
// operational failure while verifying.
var ErrAccessDenied = errors.New("boot image verification denied")

// Verifier checks the signature appended to a boot image against the
// device keystore and returns the target label the image was signed
// for (e.g. "/boot").
type Verifier interface {
	VerifyBootImage(img *Image, keystore []byte) (label string, err error)
}

// expectedLabels returns the signature labels acceptable when booting
// img for the given target. The engineering flag widens the set for
// images loaded from the EFI system partition.
func expectedLabels(target targets.BootTarget, engineering bool) []string {
	switch target {
	case targets.NormalBoot:
		// some OTA tooling signs the recovery image with the
		// boot label and vice versa; tolerate the swap for
		// normal boots only
		return []string{"/boot", "/recovery"}
	case targets.Charger:
		return []string{"/boot"}
	case targets.Recovery:
		return []string{"/recovery"}
	case targets.ESPBootImage:
		if engineering {
			return []string{"/boot", "/fastboot"}
		}
		return []string{"/boot"}
	case targets.TDOS:
		return []string{"/tdos"}
	}
	return nil
}

// Validate verifies the image signature for the given boot target and
// confirms the signed label matches what that target may boot. A nil
// verifier mirrors a device without a keystore and always denies.
func Validate(v Verifier, img *Image, keystore []byte, target targets.BootTarget, engineering bool) error {
	expected := expectedLabels(target, engineering)
	if expected == nil {
		return fmt.Errorf("no image verification policy for target %q", target)
	}
	if v == nil {
		return ErrAccessDenied
	}
	label, err := v.VerifyBootImage(img, keystore)
	if err != nil {
		logger.Noticef("boot image verification failed for %q: %v", target, err)
		return ErrAccessDenied
	}
	if !strutil.ListContains(expected, label) {
		logger.Noticef("boot image signed for %q, expected one of %s", label, strutil.Quoted(expected))
		return ErrAccessDenied
	}
	return nil
}
