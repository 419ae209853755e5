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
	"encoding/json"
	"os"
	"sort"

	efi "github.com/canonical/go-efilib"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/osutil"
)

type memVar struct {
	Attrs efi.VariableAttributes `json:"attrs"`
	Data  []byte                 `json:"data"`
}

// MemStore is an in-memory Store. It backs tests and runs on systems
// without accessible firmware variable services; it can optionally be
// persisted to a state file between runs.
type MemStore struct {
	vars map[efi.VariableDescriptor]memVar
	path string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{vars: make(map[efi.VariableDescriptor]memVar)}
}

// OpenFileStore returns a MemStore persisted at path, loading any
// previously saved state. A missing state file yields an empty store.
func OpenFileStore(path string) (*MemStore, error) {
	m := NewMemStore()
	m.path = path

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	var saved map[string]memVar
	if err := json.Unmarshal(content, &saved); err != nil {
		return nil, err
	}
	for k, v := range saved {
		desc, err := parseDescriptor(k)
		if err != nil {
			return nil, err
		}
		m.vars[desc] = v
	}
	return m, nil
}

func (m *MemStore) Get(name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
	v, ok := m.vars[efi.VariableDescriptor{Name: name, GUID: guid}]
	if !ok {
		return nil, 0, notFoundError(name, guid)
	}
	data := make([]byte, len(v.Data))
	copy(data, v.Data)
	return data, v.Attrs, nil
}

func (m *MemStore) Set(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.vars[efi.VariableDescriptor{Name: name, GUID: guid}] = memVar{Attrs: attrs, Data: stored}
	return m.sync()
}

func (m *MemStore) Delete(name string, guid efi.GUID) error {
	delete(m.vars, efi.VariableDescriptor{Name: name, GUID: guid})
	return m.sync()
}

func (m *MemStore) sync() error {
	if m.path == "" {
		return nil
	}
	saved := make(map[string]memVar, len(m.vars))
	for desc, v := range m.vars {
		saved[formatDescriptor(desc)] = v
	}
	content, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	return osutil.AtomicWriteFile(m.path, content, 0600)
}

// Names returns the sorted names of all variables in the given
// namespace, mostly useful in tests.
func (m *MemStore) Names(guid efi.GUID) []string {
	var names []string
	for desc := range m.vars {
		if desc.GUID == guid {
			names = append(names, desc.Name)
		}
	}
	sort.Strings(names)
	return names
}

func formatDescriptor(desc efi.VariableDescriptor) string {
	return desc.Name + "-" + desc.GUID.String()
}

func parseDescriptor(s string) (efi.VariableDescriptor, error) {
	// the GUID is the fixed-size tail of the key
	const guidLen = 36
	if len(s) < guidLen+1 {
		return efi.VariableDescriptor{}, errMalformedKey(s)
	}
	name := s[:len(s)-guidLen-1]
	guid, err := efi.DecodeGUIDString(s[len(s)-guidLen:])
	if err != nil {
		return efi.VariableDescriptor{}, err
	}
	return efi.VariableDescriptor{Name: name, GUID: guid}, nil
}

type malformedKeyError string

func (e malformedKeyError) Error() string {
	return "malformed variable key " + string(e)
}

func errMalformedKey(s string) error {
	return malformedKeyError(s)
}
