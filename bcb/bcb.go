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

// Package bcb reads and writes the bootloader control block, the small
// fixed-layout record the OS uses to hand one-shot or persistent boot
// commands to the bootloader.
package bcb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// MiscLabel is the label of the reserved partition holding the BCB.
const MiscLabel = "misc"

const (
	commandSize = 32
	statusSize  = 32

	// Size is the on-disk size of the control block.
	Size = commandSize + statusSize
)

// command prefixes written by the OS-side tooling
const (
	persistentPrefix = "boot-"
	oneshotPrefix    = "bootonce-"
)

// PartitionReadWriter reads and writes whole fixed-size records on a
// partition resolved by label. Reads and writes are synchronous and
// either fully succeed or fail; no partial completion is surfaced.
type PartitionReadWriter interface {
	ReadPartition(label string, data []byte) error
	WritePartition(label string, data []byte) error
}

// bootloaderMessage is the raw on-disk layout. Both fields are NUL
// terminated ASCII; the status field is owned by the bootloader and
// never trusted from a previous session.
type bootloaderMessage struct {
	Command [commandSize]byte
	Status  [statusSize]byte
}

// BCB is a decoded bootloader control block.
type BCB struct {
	raw bootloaderMessage
}

// cToGoString converts a NUL terminated byte array into a string; an
// unterminated array is treated as corrupt and yields "".
func cToGoString(c []byte) string {
	if end := bytes.IndexByte(c, 0); end >= 0 {
		return string(c[:end])
	}
	return ""
}

// copyString copies s into b, always NUL terminating and truncating as
// needed.
func copyString(b []byte, s string) {
	sl := len(s)
	bs := len(b)
	if bs > sl {
		copy(b[:], s)
		b[sl] = 0
	} else {
		copy(b[:bs-1], s)
		b[bs-1] = 0
	}
}

// Read loads the control block from the misc partition. The in-memory
// fields are forcibly terminated so that a corrupt record cannot leak
// unbounded data into command parsing.
func Read(p PartitionReadWriter) (*BCB, error) {
	buf := make([]byte, Size)
	if err := p.ReadPartition(MiscLabel, buf); err != nil {
		return nil, fmt.Errorf("cannot read bootloader control block: %v", err)
	}

	b := &BCB{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &b.raw); err != nil {
		return nil, fmt.Errorf("cannot decode bootloader control block: %v", err)
	}
	b.raw.Command[commandSize-1] = 0
	b.raw.Status[statusSize-1] = 0
	return b, nil
}

// Write stores the control block back on the misc partition.
func (b *BCB) Write(p PartitionReadWriter) error {
	buf := bytes.NewBuffer(nil)
	buf.Grow(Size)
	if err := binary.Write(buf, binary.LittleEndian, &b.raw); err != nil {
		return fmt.Errorf("cannot encode bootloader control block: %v", err)
	}
	if err := p.WritePartition(MiscLabel, buf.Bytes()); err != nil {
		return fmt.Errorf("cannot write bootloader control block: %v", err)
	}
	return nil
}

// Command returns the command field.
func (b *BCB) Command() string {
	return cToGoString(b.raw.Command[:])
}

// SetCommand sets the command field.
func (b *BCB) SetCommand(cmd string) {
	copyString(b.raw.Command[:], cmd)
}

// Status returns the status field.
func (b *BCB) Status() string {
	return cToGoString(b.raw.Status[:])
}

// ClearStatus erases the status field. The bootloader owns this field
// and clears it on every read so stale OS data cannot be misread next
// session.
func (b *BCB) ClearStatus() {
	b.raw.Status[0] = 0
}

// ConsumeCommand interprets the command field. For a "bootonce-"
// command the field is cleared in the record, so writing it back
// erases it on disk; "boot-" commands are left in place. The returned
// name is empty when no boot command is pending.
func (b *BCB) ConsumeCommand() (name string, oneshot bool) {
	cmd := b.Command()
	switch {
	case strings.HasPrefix(cmd, persistentPrefix):
		return cmd[len(persistentPrefix):], false
	case strings.HasPrefix(cmd, oneshotPrefix):
		b.raw.Command[0] = 0
		return cmd[len(oneshotPrefix):], true
	}
	return "", false
}
