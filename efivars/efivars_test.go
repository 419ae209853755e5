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

package efivars_test

import (
	"context"
	"path/filepath"
	"testing"

	efi "github.com/canonical/go-efilib"
	. "gopkg.in/check.v1"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
)

func Test(t *testing.T) { TestingT(t) }

type efivarsSuite struct {
	st *efivars.MemStore
}

var _ = Suite(&efivarsSuite{})

func (s *efivarsSuite) SetUpTest(c *C) {
	s.st = efivars.NewMemStore()
}

func (s *efivarsSuite) TestMemStoreRoundTrip(c *C) {
	_, _, err := s.st.Get("Foo", efivars.LoaderGUID)
	c.Check(efivars.IsNotFound(err), Equals, true)

	err = s.st.Set("Foo", efivars.LoaderGUID, efivars.DefaultAttrs, []byte{1, 2, 3})
	c.Assert(err, IsNil)

	data, attrs, err := s.st.Get("Foo", efivars.LoaderGUID)
	c.Assert(err, IsNil)
	c.Check(data, DeepEquals, []byte{1, 2, 3})
	c.Check(attrs, Equals, efivars.DefaultAttrs)

	// namespaces are separate
	_, _, err = s.st.Get("Foo", efivars.FastbootGUID)
	c.Check(efivars.IsNotFound(err), Equals, true)

	err = s.st.Delete("Foo", efivars.LoaderGUID)
	c.Assert(err, IsNil)
	_, _, err = s.st.Get("Foo", efivars.LoaderGUID)
	c.Check(efivars.IsNotFound(err), Equals, true)

	// deleting again is fine
	c.Check(s.st.Delete("Foo", efivars.LoaderGUID), IsNil)
}

func (s *efivarsSuite) TestFileStorePersists(c *C) {
	path := filepath.Join(c.MkDir(), "vars.json")

	st, err := efivars.OpenFileStore(path)
	c.Assert(err, IsNil)
	err = st.Set("Foo", efivars.LoaderGUID, efivars.DefaultAttrs, []byte("abc"))
	c.Assert(err, IsNil)
	err = st.Set("Bar", efivars.FastbootGUID, efivars.VolatileAttrs, []byte{7})
	c.Assert(err, IsNil)

	st2, err := efivars.OpenFileStore(path)
	c.Assert(err, IsNil)
	data, attrs, err := st2.Get("Foo", efivars.LoaderGUID)
	c.Assert(err, IsNil)
	c.Check(data, DeepEquals, []byte("abc"))
	c.Check(attrs, Equals, efivars.DefaultAttrs)
	c.Check(st2.Names(efivars.FastbootGUID), DeepEquals, []string{"Bar"})
}

func (s *efivarsSuite) TestDecodeString(c *C) {
	for _, t := range []struct {
		data []byte
		exp  string
	}{
		{nil, ""},
		{[]byte{}, ""},
		{[]byte("tty0"), "tty0"},
		{[]byte("tty0\x00"), "tty0"},
		// 16-bit historical encoding
		{[]byte{'t', 0, 't', 0, 'y', 0, '0', 0}, "tty0"},
		{[]byte{'t', 0, 't', 0, 'y', 0, '0', 0, 0, 0}, "tty0"},
		// genuinely 16-bit contents are rejected
		{[]byte{'t', 0, 0x42, 4}, ""},
	} {
		c.Check(efivars.DecodeString(t.data), Equals, t.exp, Commentf("%v", t.data))
	}
}

func (s *efivarsSuite) TestTypedGetters(c *C) {
	c.Check(efivars.GetUint64(s.st, "Timeout", efivars.LoaderGUID, 200), Equals, uint64(200))

	err := efivars.SetString(s.st, "Timeout", efivars.LoaderGUID, efivars.DefaultAttrs, "500")
	c.Assert(err, IsNil)
	c.Check(efivars.GetUint64(s.st, "Timeout", efivars.LoaderGUID, 200), Equals, uint64(500))

	err = efivars.SetString(s.st, "Timeout", efivars.LoaderGUID, efivars.DefaultAttrs, "junk")
	c.Assert(err, IsNil)
	c.Check(efivars.GetUint64(s.st, "Timeout", efivars.LoaderGUID, 200), Equals, uint64(200))

	c.Check(efivars.GetBool(s.st, "Flag", efivars.LoaderGUID, true), Equals, true)
	err = efivars.SetBool(s.st, "Flag", efivars.LoaderGUID, efivars.DefaultAttrs, false)
	c.Assert(err, IsNil)
	c.Check(efivars.GetBool(s.st, "Flag", efivars.LoaderGUID, true), Equals, false)

	c.Check(efivars.GetUint64LE(s.st, "Raw", efivars.LoaderGUID, 42), Equals, uint64(42))
	err = efivars.SetUint64LE(s.st, "Raw", efivars.LoaderGUID, efivars.DefaultAttrs, 0xdeadbeef)
	c.Assert(err, IsNil)
	c.Check(efivars.GetUint64LE(s.st, "Raw", efivars.LoaderGUID, 42), Equals, uint64(0xdeadbeef))
}

func (s *efivarsSuite) TestDeviceState(c *C) {
	c.Check(efivars.GetDeviceState(s.st), Equals, efivars.DeviceLocked)

	err := efivars.SetDeviceState(s.st, efivars.DeviceUnlocked)
	c.Assert(err, IsNil)
	c.Check(efivars.GetDeviceState(s.st), Equals, efivars.DeviceUnlocked)
	c.Check(efivars.GetDeviceState(s.st).String(), Equals, "unlocked")

	// garbage degrades to locked
	err = s.st.Set(efivars.DeviceStateVar, efivars.FastbootGUID, efivars.DefaultAttrs, []byte{9})
	c.Assert(err, IsNil)
	c.Check(efivars.GetDeviceState(s.st), Equals, efivars.DeviceLocked)
}

func (s *efivarsSuite) TestFlagsDefaults(c *C) {
	c.Check(efivars.OffModeCharge(s.st), Equals, true)
	c.Check(efivars.CrashEventMenu(s.st), Equals, true)
	c.Check(efivars.OEMVarsUpdate(s.st), Equals, false)
	c.Check(efivars.Provisioning(s.st), Equals, false)

	c.Assert(efivars.SetOEMVarsUpdate(s.st, true), IsNil)
	c.Check(efivars.OEMVarsUpdate(s.st), Equals, true)
}

func (s *efivarsSuite) TestSystemStoreMocked(c *C) {
	var readName string
	restore := efivars.MockEfiReadVariable(func(ctx context.Context, name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
		readName = name
		return []byte("val\x00"), efi.AttributeNonVolatile, nil
	})
	defer restore()

	var wroteData []byte
	restoreWrite := efivars.MockEfiWriteVariable(func(ctx context.Context, name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) error {
		wroteData = data
		return nil
	})
	defer restoreWrite()

	st := efivars.System()
	data, _, err := st.Get("Foo", efivars.LoaderGUID)
	c.Assert(err, IsNil)
	c.Check(readName, Equals, "Foo")
	c.Check(string(data), Equals, "val\x00")

	err = st.Set("Foo", efivars.LoaderGUID, efivars.DefaultAttrs, []byte("x"))
	c.Assert(err, IsNil)
	c.Check(wroteData, DeepEquals, []byte("x"))

	err = st.Delete("Foo", efivars.LoaderGUID)
	c.Assert(err, IsNil)
	c.Check(wroteData, IsNil)
}
