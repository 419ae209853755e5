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

// Package bootimg loads, validates and verifies Android boot images
// from block device partitions or filesystem paths.
package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// Magic opens every boot image header.
	Magic = "ANDROID!"

	magicSize        = 8
	nameSize         = 16
	cmdlineSize      = 512
	extraCmdlineSize = 1024
	idSize           = 8

	// SignatureMaxSize bounds the boot signature blob appended
	// after the image sections.
	SignatureMaxSize = 4096

	headerSize = 1632
)

// Header is the fixed layout boot image header, version 0.
type Header struct {
	Magic        [magicSize]byte
	KernelSize   uint32
	KernelAddr   uint32
	RamdiskSize  uint32
	RamdiskAddr  uint32
	SecondSize   uint32
	SecondAddr   uint32
	TagsAddr     uint32
	PageSize     uint32
	Unused       [2]uint32
	Name         [nameSize]byte
	Cmdline      [cmdlineSize]byte
	ID           [idSize]uint32
	ExtraCmdline [extraCmdlineSize]byte
}

// Image is a boot image held fully in memory, header included.
type Image struct {
	Header Header
	Data   []byte
}

func cToGoString(c []byte) string {
	if end := bytes.IndexByte(c, 0); end >= 0 {
		return string(c[:end])
	}
	return string(c)
}

// DecodeHeader parses and sanity checks a boot image header from the
// start of data.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("cannot decode boot image header: %d bytes is too short", len(data))
	}
	var hdr Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("cannot decode boot image header: %v", err)
	}
	if string(hdr.Magic[:]) != Magic {
		return nil, fmt.Errorf("cannot decode boot image header: bad magic %q", cToGoString(hdr.Magic[:]))
	}
	if hdr.PageSize == 0 || hdr.PageSize&(hdr.PageSize-1) != 0 || hdr.PageSize < headerSize {
		return nil, fmt.Errorf("cannot decode boot image header: invalid page size %d", hdr.PageSize)
	}
	if hdr.KernelSize == 0 {
		return nil, fmt.Errorf("cannot decode boot image header: no kernel")
	}
	return &hdr, nil
}

// pageAlign rounds sz up to the image page size.
func (h *Header) pageAlign(sz uint32) uint64 {
	mask := uint64(h.PageSize) - 1
	return (uint64(sz) + mask) &^ mask
}

// Size is the page aligned size of the image sections, header
// included, without any trailing signature.
func (h *Header) Size() uint64 {
	return uint64(h.PageSize) +
		h.pageAlign(h.KernelSize) +
		h.pageAlign(h.RamdiskSize) +
		h.pageAlign(h.SecondSize)
}

// TotalWithSignature is the size to load so that an appended boot
// signature is captured as well.
func (h *Header) TotalWithSignature() uint64 {
	return h.Size() + SignatureMaxSize
}

// Cmdline returns the command line stored in the image, with the extra
// command line field appended the way the OS build tools split it.
func (h *Header) CmdlineString() string {
	cmdline := cToGoString(h.Cmdline[:])
	extra := cToGoString(h.ExtraCmdline[:])
	if extra != "" {
		return cmdline + extra
	}
	return cmdline
}

// NameString returns the product name field.
func (h *Header) NameString() string {
	return cToGoString(h.Name[:])
}

// FromBuffer interprets an in-memory buffer as a complete boot image.
// The buffer must contain at least the sections the header declares.
func FromBuffer(data []byte) (*Image, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < hdr.Size() {
		return nil, fmt.Errorf("cannot load boot image: truncated at %d bytes, expected %d", len(data), hdr.Size())
	}
	return &Image{Header: *hdr, Data: data}, nil
}

// Kernel returns the kernel section.
func (img *Image) Kernel() []byte {
	off := uint64(img.Header.PageSize)
	return img.Data[off : off+uint64(img.Header.KernelSize)]
}

// Ramdisk returns the ramdisk section; nil when the image carries none.
func (img *Image) Ramdisk() []byte {
	if img.Header.RamdiskSize == 0 {
		return nil
	}
	off := uint64(img.Header.PageSize) + img.Header.pageAlign(img.Header.KernelSize)
	return img.Data[off : off+uint64(img.Header.RamdiskSize)]
}

// Second returns the second stage section; nil when absent.
func (img *Image) Second() []byte {
	if img.Header.SecondSize == 0 {
		return nil
	}
	off := uint64(img.Header.PageSize) +
		img.Header.pageAlign(img.Header.KernelSize) +
		img.Header.pageAlign(img.Header.RamdiskSize)
	return img.Data[off : off+uint64(img.Header.SecondSize)]
}
