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

// Package efivars provides the persistent key-value variable store the
// boot policy runs against. Variables are namespaced by GUID; the real
// store is backed by efivarfs through go-efilib, tests and
// firmware-less runs use an in-memory store.
package efivars

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"
)

var (
	// LoaderGUID is the boot loader interface GUID introduced by
	// gummiboot; for compatibility we keep our loader variables in
	// the same namespace.
	LoaderGUID = efi.MakeGUID(0x4a67b082, 0x0a4c, 0x41cf, 0xb6c7, [...]uint8{0x44, 0x0b, 0x29, 0xbb, 0x8c, 0x4f})

	// FastbootGUID namespaces the variables shared with the fastboot
	// implementation.
	FastbootGUID = efi.MakeGUID(0x1ac80a82, 0x4f0c, 0x456b, 0x9a99, [...]uint8{0xde, 0xbe, 0xb4, 0x31, 0xfc, 0xc1})

	// GlobalGUID namespaces the architecturally defined variables
	// owned by the firmware itself.
	GlobalGUID = efi.GlobalVariable
)

// DefaultAttrs are the attributes used for variables that must survive
// a reset.
const DefaultAttrs = efi.AttributeNonVolatile | efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess

// VolatileAttrs are the attributes used for variables published for the
// current boot only.
const VolatileAttrs = efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess

// ErrNotFound is returned by Store.Get for variables that are not set.
var ErrNotFound = errors.New("variable not found")

// Store is a namespaced persistent key-value variable store.
//
// All access within a boot cycle is strictly sequential;
// implementations need not be safe for concurrent use.
type Store interface {
	// Get returns the raw contents and attributes of the variable.
	// A missing variable yields an error matching ErrNotFound.
	Get(name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error)
	// Set writes the variable with the given attributes.
	Set(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) error
	// Delete removes the variable. Deleting a variable that is not
	// set is not an error.
	Delete(name string, guid efi.GUID) error
}

// GetString returns the variable decoded as a string, or "" if the
// variable is not set. Historical tooling stored some variables as
// UTF-16; if the contents look like UTF-16LE they are converted.
func GetString(st Store, name string, guid efi.GUID) string {
	data, _, err := st.Get(name, guid)
	if err != nil {
		return ""
	}
	return DecodeString(data)
}

// DecodeString decodes variable contents that may be either 8-bit or
// UTF-16LE encoded, dropping any trailing NUL terminator.
func DecodeString(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// 16-bit contents holding ASCII have a NUL in every second byte
	if len(data) >= 2 && data[0] != 0 && data[1] == 0 && len(data)%2 == 0 {
		out := make([]byte, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			if data[i] == 0 && data[i+1] == 0 {
				break
			}
			if data[i+1] != 0 {
				// not really UTF-16 ASCII, give up
				return ""
			}
			out = append(out, data[i])
		}
		return string(out)
	}
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end])
}

// SetString writes the variable as an 8-bit NUL terminated string.
func SetString(st Store, name string, guid efi.GUID, attrs efi.VariableAttributes, value string) error {
	return st.Set(name, guid, attrs, append([]byte(value), 0))
}

// GetUint64 returns the variable parsed as a decimal string, falling
// back to the given default when the variable is absent or malformed.
func GetUint64(st Store, name string, guid efi.GUID, dflt uint64) uint64 {
	s := GetString(st, name, guid)
	if s == "" {
		return dflt
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return dflt
	}
	return v
}

// GetBool returns the variable interpreted as a boolean flag. A single
// byte 0/1 and the strings understood by strconv.ParseBool are
// accepted; anything else yields the default.
func GetBool(st Store, name string, guid efi.GUID, dflt bool) bool {
	data, _, err := st.Get(name, guid)
	if err != nil {
		return dflt
	}
	if len(data) == 1 {
		switch data[0] {
		case 0:
			return false
		case 1:
			return true
		}
	}
	b, err := strconv.ParseBool(DecodeString(data))
	if err != nil {
		return dflt
	}
	return b
}

// SetBool writes the variable as a single 0/1 byte.
func SetBool(st Store, name string, guid efi.GUID, attrs efi.VariableAttributes, value bool) error {
	b := byte(0)
	if value {
		b = 1
	}
	return st.Set(name, guid, attrs, []byte{b})
}

// GetUint64LE returns the variable decoded as raw little-endian bytes
// (up to 8), or the default when absent or oversized.
func GetUint64LE(st Store, name string, guid efi.GUID, dflt uint64) uint64 {
	data, _, err := st.Get(name, guid)
	if err != nil || len(data) == 0 || len(data) > 8 {
		return dflt
	}
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:])
}

// SetUint64LE writes the variable as 8 raw little-endian bytes.
func SetUint64LE(st Store, name string, guid efi.GUID, attrs efi.VariableAttributes, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return st.Set(name, guid, attrs, buf[:])
}

// IsNotFound reports whether err indicates a missing variable, from
// either store implementation.
func IsNotFound(err error) bool {
	return xerrors.Is(err, ErrNotFound) || xerrors.Is(err, efi.ErrVarNotExist)
}

func notFoundError(name string, guid efi.GUID) error {
	return fmt.Errorf("cannot read variable %s-%s: %w", name, guid, ErrNotFound)
}
