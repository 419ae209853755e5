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
	"fmt"
	"os"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
)

// PartitionReader reads byte ranges out of a partition resolved by
// label.
type PartitionReader interface {
	ReadPartitionAt(label string, offset int64, data []byte) error
	PartitionSize(label string) (int64, error)
}

// LoadFromPartition reads a boot image off the named partition. The
// header is read first so that only the declared size plus the
// signature area is transferred, not the whole partition.
func LoadFromPartition(parts PartitionReader, label string) (*Image, error) {
	hbuf := make([]byte, headerSize)
	if err := parts.ReadPartitionAt(label, 0, hbuf); err != nil {
		return nil, fmt.Errorf("cannot read boot image header from partition %q: %v", label, err)
	}
	hdr, err := DecodeHeader(hbuf)
	if err != nil {
		return nil, fmt.Errorf("partition %q: %v", label, err)
	}

	total := hdr.TotalWithSignature()
	if psize, err := parts.PartitionSize(label); err == nil && uint64(psize) < total {
		total = uint64(psize) // no room for a full signature blob
	}
	if total < hdr.Size() {
		return nil, fmt.Errorf("cannot load boot image: partition %q smaller than image", label)
	}

	data := make([]byte, total)
	if err := parts.ReadPartitionAt(label, 0, data); err != nil {
		return nil, fmt.Errorf("cannot read boot image from partition %q: %v", label, err)
	}
	return &Image{Header: *hdr, Data: data}, nil
}

// LoadFromFile reads a boot image from the filesystem, typically the
// EFI system partition. With remove set, the file is deleted after a
// successful load so that a dropped-in one-shot image cannot wedge the
// device in a boot loop.
func LoadFromFile(path string, remove bool) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read boot image file: %v", err)
	}
	img, err := FromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("file %q: %v", path, err)
	}
	if remove {
		if err := os.Remove(path); err != nil {
			logger.Noticef("cannot remove one-shot boot image %q: %v", path, err)
		}
	}
	return img, nil
}
