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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bcb"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/handover"
)

// Built-in smoke tests runnable from a debug shell with -U, for
// deployments where a full test harness cannot be carried along.
var selfTests = []struct {
	name string
	run  func() error
}{
	{"vars", selfTestVars},
	{"bcb", selfTestBCB},
	{"handover", selfTestHandover},
}

func runSelfTests(name string) error {
	ran, failed := 0, 0
	for _, t := range selfTests {
		if name != "all" && t.name != name {
			continue
		}
		ran++
		if err := t.run(); err != nil {
			failed++
			fmt.Fprintf(Stdout, "FAIL %s: %v\n", t.name, err)
			continue
		}
		fmt.Fprintf(Stdout, "PASS %s\n", t.name)
	}
	if ran == 0 {
		return fmt.Errorf("no self test named %q", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d self tests failed", failed, ran)
	}
	return nil
}

type memParts map[string][]byte

func (m memParts) ReadPartition(label string, data []byte) error {
	d, ok := m[label]
	if !ok {
		return fmt.Errorf("no partition with label %q", label)
	}
	copy(data, d)
	return nil
}

func (m memParts) WritePartition(label string, data []byte) error {
	m[label] = append([]byte(nil), data...)
	return nil
}

func selfTestVars() error {
	store := efivars.NewMemStore()
	if err := efivars.SetString(store, "SelfTest", efivars.LoaderGUID, efivars.DefaultAttrs, "ok"); err != nil {
		return err
	}
	if v := efivars.GetString(store, "SelfTest", efivars.LoaderGUID); v != "ok" {
		return fmt.Errorf("variable round trip returned %q", v)
	}
	return store.Delete("SelfTest", efivars.LoaderGUID)
}

func selfTestBCB() error {
	parts := memParts{bcb.MiscLabel: make([]byte, bcb.Size)}
	block, err := bcb.Read(parts)
	if err != nil {
		return err
	}
	block.SetCommand("bootonce-bootloader")
	if err := block.Write(parts); err != nil {
		return err
	}
	block, err = bcb.Read(parts)
	if err != nil {
		return err
	}
	name, oneshot := block.ConsumeCommand()
	if name != "bootloader" || !oneshot {
		return fmt.Errorf("control block returned command %q, oneshot %v", name, oneshot)
	}
	return nil
}

func selfTestHandover() error {
	const pageSize = 4096
	kernel := selfTestKernel()
	hdr := bootimg.Header{
		KernelSize: uint32(len(kernel)),
		PageSize:   pageSize,
	}
	copy(hdr.Magic[:], bootimg.Magic)
	copy(hdr.Cmdline[:], "console=tty0")

	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	pad := func() {
		if n := buf.Len() % pageSize; n != 0 {
			buf.Write(make([]byte, pageSize-n))
		}
	}
	pad()
	buf.Write(kernel)
	pad()

	img, err := bootimg.FromBuffer(buf.Bytes())
	if err != nil {
		return err
	}
	arena := handover.NewBufferArena(arenaBase, arenaSize)
	staged, err := handover.Prepare(arena, img, img.Header.CmdlineString())
	if err != nil {
		return err
	}
	if staged.Entry == 0 {
		return fmt.Errorf("staging produced no kernel entry point")
	}
	return nil
}

// selfTestKernel builds the smallest kernel image the boot protocol
// validation accepts: relocatable, protocol 2.12, EFI handover entry
// for both word sizes, preferred load address at 16MiB.
func selfTestKernel() []byte {
	const setupSects = 4
	buf := make([]byte, (setupSects+1)*512+4096)
	le := binary.LittleEndian
	buf[0x1f1] = setupSects
	le.PutUint16(buf[0x1fe:], 0xaa55)
	le.PutUint32(buf[0x202:], 0x53726448)
	le.PutUint16(buf[0x206:], 0x20c)
	buf[0x234] = 1
	le.PutUint16(buf[0x236:], (1<<2)|(1<<3))
	le.PutUint32(buf[0x238:], 2047)
	le.PutUint64(buf[0x258:], 0x1000000)
	le.PutUint32(buf[0x264:], 0x190)
	return buf
}
