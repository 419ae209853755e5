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

package trust_test

import (
	"fmt"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/trust"
)

func Test(t *testing.T) { TestingT(t) }

type trustSuite struct {
	store *efivars.MemStore
}

var _ = Suite(&trustSuite{})

func (s *trustSuite) SetUpTest(c *C) {
	s.store = efivars.NewMemStore()
}

// cannedPrompter answers every question the same way.
type cannedPrompter struct {
	answer    bool
	err       error
	questions []string
}

func (p *cannedPrompter) Confirm(question string) (bool, error) {
	p.questions = append(p.questions, question)
	return p.answer, p.err
}

func (s *trustSuite) setSecureBoot(c *C, on bool) {
	c.Assert(efivars.SetBool(s.store, efivars.SecureBootVar, efivars.GlobalGUID, efivars.VolatileAttrs, on), IsNil)
}

func (s *trustSuite) TestBootStateMatrix(c *C) {
	s.setSecureBoot(c, true)
	ctl := trust.NewController(s.store, nil, false)

	// fresh device defaults to locked
	c.Check(ctl.BootState(true, false), Equals, trust.Green)
	c.Check(ctl.BootState(true, true), Equals, trust.Yellow)
	c.Check(ctl.BootState(false, false), Equals, trust.Red)

	c.Assert(efivars.SetDeviceState(s.store, efivars.DeviceUnlocked), IsNil)
	c.Check(ctl.BootState(false, false), Equals, trust.Orange)
	c.Check(ctl.BootState(true, false), Equals, trust.Orange)
}

func (s *trustSuite) TestBootStateSecureBootOff(c *C) {
	ctl := trust.NewController(s.store, nil, false)

	// without the firmware flag the verification outcome is
	// meaningless, even a clean OEM-key chain stays orange
	c.Check(ctl.BootState(true, false), Equals, trust.Orange)
	c.Check(ctl.BootState(false, false), Equals, trust.Orange)

	s.setSecureBoot(c, false)
	c.Check(ctl.BootState(true, false), Equals, trust.Orange)
}

func (s *trustSuite) TestBootStateProvisioningExemption(c *C) {
	c.Assert(efivars.SetBool(s.store, efivars.ProvisioningVar, efivars.FastbootGUID, efivars.DefaultAttrs, true), IsNil)
	ctl := trust.NewController(s.store, nil, false)

	// factory flows run before secure boot is enabled
	c.Check(ctl.BootState(true, false), Equals, trust.Green)
	c.Check(ctl.BootState(false, false), Equals, trust.Red)
}

func (s *trustSuite) TestRecordBootState(c *C) {
	ctl := trust.NewController(s.store, nil, false)
	c.Assert(ctl.RecordBootState(trust.Yellow), IsNil)
	c.Check(efivars.GetString(s.store, efivars.BootStateVar, efivars.LoaderGUID), Equals, "yellow")
}

func (s *trustSuite) TestUnlockConfirmed(c *C) {
	p := &cannedPrompter{answer: true}
	ctl := trust.NewController(s.store, p, false)
	c.Assert(ctl.Unlock(), IsNil)
	c.Check(ctl.DeviceState(), Equals, efivars.DeviceUnlocked)
	c.Check(p.questions, HasLen, 1)
	c.Check(p.questions[0], Matches, ".*erase all user data.*")
}

func (s *trustSuite) TestUnlockDenied(c *C) {
	p := &cannedPrompter{answer: false}
	ctl := trust.NewController(s.store, p, false)
	c.Assert(ctl.Unlock(), ErrorMatches, "cannot unlock device: not confirmed by user")
	c.Check(ctl.DeviceState(), Equals, efivars.DeviceLocked)
}

func (s *trustSuite) TestUnlockForbidden(c *C) {
	p := &cannedPrompter{answer: true}
	ctl := trust.NewController(s.store, p, true)
	c.Assert(ctl.Unlock(), ErrorMatches, "cannot unlock device: unlocking is disabled on this device")
	// the user was never even asked
	c.Check(p.questions, HasLen, 0)
}

func (s *trustSuite) TestUnlockHeadlessDenies(c *C) {
	ctl := trust.NewController(s.store, nil, false)
	c.Assert(ctl.Unlock(), ErrorMatches, "cannot unlock device: not confirmed by user")
}

func (s *trustSuite) TestUnlockAlreadyUnlocked(c *C) {
	c.Assert(efivars.SetDeviceState(s.store, efivars.DeviceUnlocked), IsNil)
	p := &cannedPrompter{answer: false}
	ctl := trust.NewController(s.store, p, false)
	c.Assert(ctl.Unlock(), IsNil)
	c.Check(p.questions, HasLen, 0)
}

func (s *trustSuite) TestLock(c *C) {
	c.Assert(efivars.SetDeviceState(s.store, efivars.DeviceUnlocked), IsNil)
	ctl := trust.NewController(s.store, nil, false)
	c.Assert(ctl.Lock(), IsNil)
	c.Check(ctl.DeviceState(), Equals, efivars.DeviceLocked)
}

func (s *trustSuite) TestEnforceGreen(c *C) {
	ctl := trust.NewController(s.store, nil, false)
	c.Check(ctl.Enforce(trust.Green), IsNil)
}

func (s *trustSuite) TestEnforceRedAcknowledged(c *C) {
	p := &cannedPrompter{answer: true}
	ctl := trust.NewController(s.store, p, false)
	c.Check(ctl.Enforce(trust.Red), IsNil)
	c.Check(p.questions, HasLen, 1)
	c.Check(p.questions[0], Matches, "Boot state is red.*")
}

func (s *trustSuite) TestEnforceRedDeniedHalts(c *C) {
	ctl := trust.NewController(s.store, &cannedPrompter{answer: false}, false)
	c.Check(ctl.Enforce(trust.Red), Equals, trust.ErrHalt)
}

func (s *trustSuite) TestEnforceHeadlessRedHalts(c *C) {
	ctl := trust.NewController(s.store, nil, false)
	c.Check(ctl.Enforce(trust.Red), Equals, trust.ErrHalt)
}

func (s *trustSuite) TestEnforceForbidUnlockHalts(c *C) {
	// when unlocking is disabled there is no way out of a degraded
	// state, the warning is shown but never overrides the halt
	for _, state := range []trust.BootState{trust.Yellow, trust.Orange, trust.Red} {
		p := &cannedPrompter{answer: true}
		ctl := trust.NewController(s.store, p, true)
		c.Check(ctl.Enforce(state), Equals, trust.ErrHalt)
		c.Check(p.questions, HasLen, 1)
		c.Check(p.questions[0], Matches, ".*cannot be unlocked.*")
	}
}

func (s *trustSuite) TestEnforceYellowPrompts(c *C) {
	p := &cannedPrompter{answer: true}
	ctl := trust.NewController(s.store, p, false)
	c.Check(ctl.Enforce(trust.Yellow), IsNil)
	c.Check(p.questions, HasLen, 1)

	p.answer = false
	c.Check(ctl.Enforce(trust.Orange), Equals, trust.ErrHalt)
}

func (s *trustSuite) TestEnforceHeadlessYellowContinues(c *C) {
	ctl := trust.NewController(s.store, nil, false)
	c.Check(ctl.Enforce(trust.Yellow), IsNil)
	c.Check(ctl.Enforce(trust.Orange), IsNil)
}

func (s *trustSuite) TestEnforcePromptError(c *C) {
	p := &cannedPrompter{err: fmt.Errorf("console gone")}
	ctl := trust.NewController(s.store, p, false)
	c.Check(ctl.Enforce(trust.Yellow), ErrorMatches, "cannot confirm yellow boot: console gone")
}
