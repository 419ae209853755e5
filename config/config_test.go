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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/config"
)

func Test(t *testing.T) { TestingT(t) }

type configSuite struct{}

var _ = Suite(&configSuite{})

func (s *configSuite) TestMissingFileDefaults(c *C) {
	dev, err := config.Load(filepath.Join(c.MkDir(), "no-such.yaml"))
	c.Assert(err, IsNil)
	c.Check(dev.AllowCmdlineOverride, Equals, false)
	c.Check(dev.Engineering, Equals, false)
	c.Check(dev.Board.Brand, Equals, "intel")
}

func (s *configSuite) TestLoad(c *C) {
	path := filepath.Join(c.MkDir(), "device.yaml")
	err := os.WriteFile(path, []byte(`
allow-cmdline-override: true
engineering: true
magic-key-to-recovery: true
board:
  brand: acme
  name: sparrow
  device: sparrow_64
  model: Sparrow X
  bootloader-version: "2.10"
  serialno: SN0042
  disk-bus: pci0000:00/0000:00:1c.0
`), 0644)
	c.Assert(err, IsNil)

	dev, err := config.Load(path)
	c.Assert(err, IsNil)
	c.Check(dev.AllowCmdlineOverride, Equals, true)
	c.Check(dev.Engineering, Equals, true)
	c.Check(dev.MagicKeyToRecovery, Equals, true)
	c.Check(dev.ForbidUnlock, Equals, false)
	c.Check(dev.Board, DeepEquals, config.Board{
		Brand:      "acme",
		Name:       "sparrow",
		Device:     "sparrow_64",
		Model:      "Sparrow X",
		Bootloader: "2.10",
		Serial:     "SN0042",
		DiskBus:    "pci0000:00/0000:00:1c.0",
	})
}

func (s *configSuite) TestLoadBadYAML(c *C) {
	path := filepath.Join(c.MkDir(), "device.yaml")
	err := os.WriteFile(path, []byte("\t:not yaml"), 0644)
	c.Assert(err, IsNil)

	_, err = config.Load(path)
	c.Assert(err, ErrorMatches, `cannot parse device config ".*": .*`)
}
