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

// Package handover prepares a loaded kernel image for execution
// following the x86 Linux boot protocol: command line and ramdisk
// placement, boot params construction and entry point selection.
package handover

import (
	"encoding/binary"
	"fmt"
)

// setup header field offsets within the kernel image, from the boot
// protocol documentation
const (
	offSetupSects        = 0x1f1
	offBootFlag          = 0x1fe
	offHeader            = 0x202
	offVersion           = 0x206
	offTypeOfLoader      = 0x210
	offCode32Start       = 0x214
	offRamdiskImage      = 0x218
	offRamdiskSize       = 0x21c
	offCmdLinePtr        = 0x228
	offInitrdAddrMax     = 0x22c
	offKernelAlignment   = 0x230
	offRelocatableKernel = 0x234
	offXLoadFlags        = 0x236
	offCmdlineSize       = 0x238
	offPrefAddress       = 0x258
	offInitSize          = 0x260
	offHandoverOffset    = 0x264

	setupHeaderEnd = 0x268
)

const (
	bootFlagMagic = 0xaa55
	hdrSMagic     = 0x53726448 // "HdrS"
	minVersion    = 0x20c

	xlfEFIHandover32 = 1 << 2
	xlfEFIHandover64 = 1 << 3

	// loader ID written into type_of_loader
	loaderID = 0x1

	sectorSize = 512
)

// SetupHeader is the subset of the kernel setup header the boot flow
// reads and rewrites.
type SetupHeader struct {
	SetupSects        uint8
	BootFlag          uint16
	Header            uint32
	Version           uint16
	TypeOfLoader      uint8
	Code32Start       uint32
	RamdiskImage      uint32
	RamdiskSize       uint32
	CmdLinePtr        uint32
	InitrdAddrMax     uint32
	KernelAlignment   uint32
	RelocatableKernel uint8
	XLoadFlags        uint16
	CmdlineSize       uint32
	PrefAddress       uint64
	InitSize          uint32
	HandoverOffset    uint32
}

// ParseSetupHeader decodes and validates the setup header found at the
// start of a bzImage.
func ParseSetupHeader(kernel []byte) (*SetupHeader, error) {
	if len(kernel) < setupHeaderEnd {
		return nil, fmt.Errorf("cannot parse kernel setup header: image too short")
	}
	le := binary.LittleEndian
	hdr := &SetupHeader{
		SetupSects:        kernel[offSetupSects],
		BootFlag:          le.Uint16(kernel[offBootFlag:]),
		Header:            le.Uint32(kernel[offHeader:]),
		Version:           le.Uint16(kernel[offVersion:]),
		TypeOfLoader:      kernel[offTypeOfLoader],
		Code32Start:       le.Uint32(kernel[offCode32Start:]),
		RamdiskImage:      le.Uint32(kernel[offRamdiskImage:]),
		RamdiskSize:       le.Uint32(kernel[offRamdiskSize:]),
		CmdLinePtr:        le.Uint32(kernel[offCmdLinePtr:]),
		InitrdAddrMax:     le.Uint32(kernel[offInitrdAddrMax:]),
		KernelAlignment:   le.Uint32(kernel[offKernelAlignment:]),
		RelocatableKernel: kernel[offRelocatableKernel],
		XLoadFlags:        le.Uint16(kernel[offXLoadFlags:]),
		CmdlineSize:       le.Uint32(kernel[offCmdlineSize:]),
		PrefAddress:       le.Uint64(kernel[offPrefAddress:]),
		InitSize:          le.Uint32(kernel[offInitSize:]),
		HandoverOffset:    le.Uint32(kernel[offHandoverOffset:]),
	}
	if hdr.BootFlag != bootFlagMagic {
		return nil, fmt.Errorf("cannot parse kernel setup header: bad boot flag %#x", hdr.BootFlag)
	}
	if hdr.Header != hdrSMagic {
		return nil, fmt.Errorf("cannot parse kernel setup header: bad header magic %#x", hdr.Header)
	}
	if hdr.Version < minVersion {
		return nil, fmt.Errorf("unsupported kernel boot protocol version %#x, need at least %#x", hdr.Version, uint(minVersion))
	}
	return hdr, nil
}

// writeTo serializes the rewritable fields back into a buffer laid out
// like the kernel image, typically the boot params page.
func (h *SetupHeader) writeTo(buf []byte) {
	le := binary.LittleEndian
	buf[offSetupSects] = h.SetupSects
	le.PutUint16(buf[offBootFlag:], h.BootFlag)
	le.PutUint32(buf[offHeader:], h.Header)
	le.PutUint16(buf[offVersion:], h.Version)
	buf[offTypeOfLoader] = h.TypeOfLoader
	le.PutUint32(buf[offCode32Start:], h.Code32Start)
	le.PutUint32(buf[offRamdiskImage:], h.RamdiskImage)
	le.PutUint32(buf[offRamdiskSize:], h.RamdiskSize)
	le.PutUint32(buf[offCmdLinePtr:], h.CmdLinePtr)
	le.PutUint32(buf[offInitrdAddrMax:], h.InitrdAddrMax)
	le.PutUint32(buf[offKernelAlignment:], h.KernelAlignment)
	buf[offRelocatableKernel] = h.RelocatableKernel
	le.PutUint16(buf[offXLoadFlags:], h.XLoadFlags)
	le.PutUint32(buf[offCmdlineSize:], h.CmdlineSize)
	le.PutUint64(buf[offPrefAddress:], h.PrefAddress)
	le.PutUint32(buf[offInitSize:], h.InitSize)
	le.PutUint32(buf[offHandoverOffset:], h.HandoverOffset)
}

// setupSize is the byte length of the real-mode setup code, header
// included. A zero sector count means 4 per the boot protocol.
func (h *SetupHeader) setupSize() int {
	sects := int(h.SetupSects)
	if sects == 0 {
		sects = 4
	}
	return (sects + 1) * sectorSize
}

// supportsEFIHandover reports whether the kernel exposes an EFI
// handover entry point for the current word size.
func (h *SetupHeader) supportsEFIHandover(is64 bool) bool {
	if is64 {
		return h.XLoadFlags&xlfEFIHandover64 != 0
	}
	return h.XLoadFlags&xlfEFIHandover32 != 0
}
