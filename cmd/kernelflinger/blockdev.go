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
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// blockParts resolves partitions by GPT label through the kernel's
// by-partlabel symlinks and serves whole-record and ranged access on
// them.
type blockParts struct {
	dir string
}

func (p *blockParts) devPath(label string) string {
	return filepath.Join(p.dir, label)
}

func (p *blockParts) ReadPartition(label string, data []byte) error {
	f, err := os.Open(p.devPath(label))
	if err != nil {
		return fmt.Errorf("cannot open partition %q: %v", label, err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, data); err != nil {
		return fmt.Errorf("cannot read partition %q: %v", label, err)
	}
	return nil
}

func (p *blockParts) WritePartition(label string, data []byte) error {
	f, err := os.OpenFile(p.devPath(label), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open partition %q for writing: %v", label, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("cannot write partition %q: %v", label, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("cannot sync partition %q: %v", label, err)
	}
	return nil
}

func (p *blockParts) ReadPartitionAt(label string, offset int64, data []byte) error {
	f, err := os.Open(p.devPath(label))
	if err != nil {
		return fmt.Errorf("cannot open partition %q: %v", label, err)
	}
	defer f.Close()
	if _, err := f.ReadAt(data, offset); err != nil {
		return fmt.Errorf("cannot read partition %q at %d: %v", label, offset, err)
	}
	return nil
}

func (p *blockParts) PartitionSize(label string) (int64, error) {
	f, err := os.Open(p.devPath(label))
	if err != nil {
		return 0, fmt.Errorf("cannot open partition %q: %v", label, err)
	}
	defer f.Close()
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("cannot size partition %q: %v", label, err)
	}
	return size, nil
}
