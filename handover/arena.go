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
)

// Region is a placed allocation: an address in the boot address space
// and the backing buffer to fill before the jump.
type Region struct {
	Addr uint64
	Data []byte
}

// Arena allocates regions of boot memory with the placement
// constraints the boot protocol imposes. On hardware it maps to the
// firmware page allocator; tests use BufferArena.
type Arena interface {
	// AllocateAny places a region anywhere, honoring align.
	AllocateAny(size, align uint64) (*Region, error)
	// AllocateBelow places a region so that it ends at or below
	// max.
	AllocateBelow(max, size, align uint64) (*Region, error)
	// AllocateAt places a region at a fixed address.
	AllocateAt(addr, size uint64) (*Region, error)
}

// BufferArena is an in-memory Arena over a flat address range. It is
// a plain bump allocator: allocations are carved off the low end so
// that below-constraints are easy to honor.
type BufferArena struct {
	base  uint64
	limit uint64
	next  uint64

	// reserved tracks AllocateAt regions so overlapping fixed
	// placements fail loudly.
	reserved []*Region
}

// NewBufferArena returns an arena covering [base, base+size).
func NewBufferArena(base, size uint64) *BufferArena {
	return &BufferArena{base: base, limit: base + size, next: base}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (a *BufferArena) overlapsReserved(addr, size uint64) bool {
	for _, r := range a.reserved {
		if addr < r.Addr+uint64(len(r.Data)) && r.Addr < addr+size {
			return true
		}
	}
	return false
}

func (a *BufferArena) allocate(addr, size uint64) (*Region, error) {
	if addr < a.base || addr+size > a.limit {
		return nil, fmt.Errorf("cannot allocate %d bytes at %#x: out of arena range", size, addr)
	}
	if a.overlapsReserved(addr, size) {
		return nil, fmt.Errorf("cannot allocate %d bytes at %#x: region in use", size, addr)
	}
	r := &Region{Addr: addr, Data: make([]byte, size)}
	a.reserved = append(a.reserved, r)
	return r, nil
}

func (a *BufferArena) AllocateAny(size, align uint64) (*Region, error) {
	addr := alignUp(a.next, align)
	for a.overlapsReserved(addr, size) {
		addr = alignUp(addr+1, align)
	}
	r, err := a.allocate(addr, size)
	if err != nil {
		return nil, err
	}
	a.next = addr + size
	return r, nil
}

func (a *BufferArena) AllocateBelow(max, size, align uint64) (*Region, error) {
	addr := alignUp(a.next, align)
	for a.overlapsReserved(addr, size) {
		addr = alignUp(addr+1, align)
	}
	if addr+size > max+1 {
		return nil, fmt.Errorf("cannot allocate %d bytes below %#x", size, max)
	}
	r, err := a.allocate(addr, size)
	if err != nil {
		return nil, err
	}
	a.next = addr + size
	return r, nil
}

func (a *BufferArena) AllocateAt(addr, size uint64) (*Region, error) {
	r, err := a.allocate(addr, size)
	if err != nil {
		return nil, err
	}
	if end := addr + size; end > a.next {
		a.next = end
	}
	return r, nil
}
