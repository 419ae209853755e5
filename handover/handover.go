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

package handover

import (
	"fmt"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

const (
	// the real-mode command line must stay below 640K
	cmdlineMax = 0xa0000

	// the zero page handed to the kernel
	bootParamsSize = 16384
	bootParamsMax  = 0x3fffffff

	// amount of the image copied into the zero page: boot sector
	// plus the first setup sector, carrying the setup header
	setupCopySize = 2 * sectorSize

	// offset of the 64-bit EFI handover entry past the 32-bit one
	entry64Offset = 512
)

// true on amd64, false on 386
const is64Bit = uint64(^uintptr(0)) == ^uint64(0)

// Boot is a kernel fully staged in boot memory, ready to jump to.
type Boot struct {
	Params  *Region
	Kernel  *Region
	Cmdline *Region
	Ramdisk *Region

	// Entry is the EFI handover entry point to jump to.
	Entry uint64
}

// Jumper transfers control to a staged kernel. A return is always an
// error: a successful jump does not come back.
type Jumper interface {
	Execute(b *Boot) error
}

// Prepare stages the boot image into arena memory per the boot
// protocol: the protected-mode kernel at its preferred address (or
// relocated), the ramdisk below initrd_addr_max, the command line
// below 640K and a fresh boot params page carrying the patched setup
// header.
//
// The handover runs with boot services still up, so only kernels
// exposing an EFI handover entry point for our word size can be
// started, and only relocatable ones: a fixed load address cannot be
// guaranteed against the firmware memory map. Both are rejected up
// front, before any staging.
func Prepare(arena Arena, img *bootimg.Image, cmdline string) (*Boot, error) {
	kernel := img.Kernel()
	hdr, err := ParseSetupHeader(kernel)
	if err != nil {
		return nil, err
	}
	if !hdr.supportsEFIHandover(is64Bit) {
		return nil, fmt.Errorf("cannot stage kernel: no EFI handover entry point for this word size")
	}
	if hdr.RelocatableKernel == 0 {
		return nil, fmt.Errorf("cannot stage kernel: kernel is not relocatable")
	}

	cmdRegion, err := stageCmdline(arena, hdr, cmdline)
	if err != nil {
		return nil, err
	}

	params, err := arena.AllocateBelow(bootParamsMax, bootParamsSize, 4096)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate boot params: %v", err)
	}

	var ramdisk *Region
	if rd := img.Ramdisk(); len(rd) > 0 {
		max := uint64(hdr.InitrdAddrMax)
		if max == 0 {
			max = bootParamsMax
		}
		ramdisk, err = arena.AllocateBelow(max, uint64(len(rd)), 4096)
		if err != nil {
			return nil, fmt.Errorf("cannot allocate ramdisk: %v", err)
		}
		copy(ramdisk.Data, rd)
		hdr.RamdiskImage = uint32(ramdisk.Addr)
		hdr.RamdiskSize = uint32(len(rd))
	} else {
		hdr.RamdiskImage = 0
		hdr.RamdiskSize = 0
	}

	kernRegion, err := stageKernel(arena, hdr, kernel)
	if err != nil {
		return nil, err
	}

	hdr.TypeOfLoader = loaderID
	hdr.Code32Start = uint32(kernRegion.Addr)
	hdr.CmdLinePtr = uint32(cmdRegion.Addr)

	// the zero page starts from the image's own boot sectors so
	// that fields this loader does not manage keep their defaults
	copy(params.Data, kernel[:setupCopySize])
	hdr.writeTo(params.Data)

	b := &Boot{
		Params:  params,
		Kernel:  kernRegion,
		Cmdline: cmdRegion,
		Ramdisk: ramdisk,
		Entry:   kernRegion.Addr + uint64(hdr.HandoverOffset),
	}
	if is64Bit {
		b.Entry += entry64Offset
	}
	logger.Debugf("kernel staged at %#x, entry %#x", kernRegion.Addr, b.Entry)
	return b, nil
}

func stageCmdline(arena Arena, hdr *SetupHeader, cmdline string) (*Region, error) {
	max := uint64(hdr.CmdlineSize)
	if max == 0 {
		max = 255
	}
	if uint64(len(cmdline)) > max {
		return nil, fmt.Errorf("kernel command line too long: %d bytes, kernel accepts %d", len(cmdline), max)
	}
	r, err := arena.AllocateBelow(cmdlineMax-1, uint64(len(cmdline))+1, 16)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate kernel command line: %v", err)
	}
	copy(r.Data, cmdline)
	// NUL terminator is already in place, allocations are zeroed
	return r, nil
}

func stageKernel(arena Arena, hdr *SetupHeader, kernel []byte) (*Region, error) {
	if hdr.setupSize() >= len(kernel) {
		return nil, fmt.Errorf("cannot stage kernel: no protected-mode code past %d setup bytes", hdr.setupSize())
	}
	pm := kernel[hdr.setupSize():]
	size := uint64(hdr.InitSize)
	if size < uint64(len(pm)) {
		size = uint64(len(pm))
	}

	if r, err := arena.AllocateAt(hdr.PrefAddress, size); err == nil {
		copy(r.Data, pm)
		return r, nil
	}
	align := uint64(hdr.KernelAlignment)
	if align == 0 {
		align = 0x200000
	}
	r, err := arena.AllocateAny(size, align)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate kernel: %v", err)
	}
	copy(r.Data, pm)
	return r, nil
}
