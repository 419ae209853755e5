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
	"bufio"
	"bytes"
	"fmt"
	"strings"

	efi "github.com/canonical/go-efilib"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

// OEMVarsMagic opens an OEM variable blob embedded in the second
// stage section of a boot image.
const OEMVarsMagic = "#OEMVARS\n"

// OEMVars returns the OEM variable blob carried by the image, or nil
// when the second stage section is absent or holds something else.
func (img *Image) OEMVars() []byte {
	second := img.Second()
	if !bytes.HasPrefix(second, []byte(OEMVarsMagic)) {
		return nil
	}
	return second
}

// ApplyOEMVars parses an OEM variable blob and stores each assignment.
// The format is line oriented:
//
//	#OEMVARS
//	# comment
//	GUID = 1ac80a82-4f0c-456b-9a99-debeb431fcc1
//	name value with spaces
//
// Assignments target the fastboot vendor GUID until a GUID directive
// switches it. A name without a value deletes the variable.
func ApplyOEMVars(store efivars.Store, data []byte) error {
	if !bytes.HasPrefix(data, []byte(OEMVarsMagic)) {
		return fmt.Errorf("cannot apply OEM variables: bad magic")
	}

	guid := efivars.FastbootGUID
	scanner := bufio.NewScanner(bytes.NewReader(data[len(OEMVarsMagic):]))
	lineno := 1
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "GUID"); ok && strings.HasPrefix(strings.TrimSpace(rest), "=") {
			val := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "="))
			g, err := efi.DecodeGUIDString(val)
			if err != nil {
				return fmt.Errorf("cannot apply OEM variables: invalid GUID on line %d: %v", lineno, err)
			}
			guid = g
			continue
		}
		name, value, _ := strings.Cut(line, " ")
		if value == "" {
			if err := store.Delete(name, guid); err != nil && !efivars.IsNotFound(err) {
				return fmt.Errorf("cannot delete OEM variable %q: %v", name, err)
			}
			continue
		}
		if err := store.Set(name, guid, efivars.DefaultAttrs, []byte(value)); err != nil {
			return fmt.Errorf("cannot set OEM variable %q: %v", name, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cannot apply OEM variables: %v", err)
	}
	logger.Debugf("OEM variables applied")
	return nil
}
