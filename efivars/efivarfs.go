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

import (
	"context"
	"fmt"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"
)

// mockable for tests
var (
	efiReadVariable  = efi.ReadVariable
	efiWriteVariable = efi.WriteVariable
)

type systemStore struct{}

// System returns a Store backed by the firmware variable services
// (efivarfs on Linux).
func System() Store {
	return systemStore{}
}

func (systemStore) Get(name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
	data, attrs, err := efiReadVariable(context.TODO(), name, guid)
	if err != nil {
		if xerrors.Is(err, efi.ErrVarNotExist) {
			return nil, 0, notFoundError(name, guid)
		}
		return nil, 0, fmt.Errorf("cannot read variable %s-%s: %v", name, guid, err)
	}
	return data, attrs, nil
}

func (systemStore) Set(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) error {
	if err := efiWriteVariable(context.TODO(), name, guid, attrs, data); err != nil {
		return fmt.Errorf("cannot write variable %s-%s: %v", name, guid, err)
	}
	return nil
}

func (systemStore) Delete(name string, guid efi.GUID) error {
	// per the UEFI spec writing a variable with no data deletes it
	err := efiWriteVariable(context.TODO(), name, guid, 0, nil)
	if err != nil && !xerrors.Is(err, efi.ErrVarNotExist) {
		return fmt.Errorf("cannot delete variable %s-%s: %v", name, guid, err)
	}
	return nil
}
