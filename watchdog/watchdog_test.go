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

package watchdog_test

import (
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/reset"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/watchdog"
)

func Test(t *testing.T) { TestingT(t) }

type watchdogSuite struct {
	store *efivars.MemStore
	now   time.Time

	restoreNow func()
}

var _ = Suite(&watchdogSuite{})

func (s *watchdogSuite) SetUpTest(c *C) {
	s.store = efivars.NewMemStore()
	s.now = time.Unix(1700000000, 0)
	s.restoreNow = watchdog.MockTimeNow(func() time.Time {
		return s.now
	})
}

func (s *watchdogSuite) TearDownTest(c *C) {
	s.restoreNow()
}

func (s *watchdogSuite) TestNonWatchdogLeavesNoCounter(c *C) {
	escalate, err := watchdog.Check(s.store, reset.Static{Reset: reset.OSInitiated})
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, false)
	// counter was not even created
	_, _, err = s.store.Get(efivars.WatchdogCounterVar, efivars.LoaderGUID)
	c.Check(efivars.IsNotFound(err), Equals, true)
}

func (s *watchdogSuite) TestNonWatchdogBreaksStreak(c *C) {
	oracle := reset.Static{Reset: reset.KernelWatchdog}
	for i := 0; i < watchdog.CounterMax; i++ {
		_, err := watchdog.Check(s.store, oracle)
		c.Assert(err, IsNil)
	}

	// an ordinary reboot in between clears the crash history
	_, err := watchdog.Check(s.store, reset.Static{Reset: reset.OSInitiated})
	c.Assert(err, IsNil)
	_, _, err = s.store.Get(efivars.WatchdogCounterVar, efivars.LoaderGUID)
	c.Check(efivars.IsNotFound(err), Equals, true)

	escalate, err := watchdog.Check(s.store, oracle)
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, false)
}

func (s *watchdogSuite) TestWindowAnchoredAtFirstReset(c *C) {
	oracle := reset.Static{Reset: reset.KernelWatchdog}
	// each reset fits in a window with its predecessor, but the
	// window starts at the first reset of a streak, so a slow
	// trickle never escalates
	for i := 0; i < 3; i++ {
		escalate, err := watchdog.Check(s.store, oracle)
		c.Assert(err, IsNil)
		c.Check(escalate, Equals, false, Commentf("reset %d", i+1))
		s.now = s.now.Add(9 * time.Minute)
	}
}

func (s *watchdogSuite) TestEscalatesAfterMax(c *C) {
	oracle := reset.Static{Reset: reset.KernelWatchdog}
	for i := 0; i < watchdog.CounterMax; i++ {
		escalate, err := watchdog.Check(s.store, oracle)
		c.Assert(err, IsNil)
		c.Check(escalate, Equals, false, Commentf("reset %d", i+1))
		s.now = s.now.Add(time.Minute)
	}
	escalate, err := watchdog.Check(s.store, oracle)
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, true)
}

func (s *watchdogSuite) TestEscalationClearsCounter(c *C) {
	oracle := reset.Static{Reset: reset.SecurityWatchdog}
	for i := 0; i < watchdog.CounterMax; i++ {
		_, err := watchdog.Check(s.store, oracle)
		c.Assert(err, IsNil)
	}
	escalate, err := watchdog.Check(s.store, oracle)
	c.Assert(err, IsNil)
	c.Assert(escalate, Equals, true)

	// the cycle starts over
	escalate, err = watchdog.Check(s.store, oracle)
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, false)
}

func (s *watchdogSuite) TestStaleCounterRestarts(c *C) {
	oracle := reset.Static{Reset: reset.PMCWatchdog}
	for i := 0; i < watchdog.CounterMax; i++ {
		_, err := watchdog.Check(s.store, oracle)
		c.Assert(err, IsNil)
	}

	// past the delay window the history no longer counts
	s.now = s.now.Add(watchdog.Delay + time.Second)
	escalate, err := watchdog.Check(s.store, oracle)
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, false)
}

func (s *watchdogSuite) TestMalformedCounterRestarts(c *C) {
	err := s.store.Set(efivars.WatchdogCounterVar, efivars.LoaderGUID, efivars.DefaultAttrs, []byte{1, 2, 3})
	c.Assert(err, IsNil)

	escalate, err := watchdog.Check(s.store, reset.Static{Reset: reset.EcWatchdog})
	c.Assert(err, IsNil)
	c.Check(escalate, Equals, false)

	data, _, err := s.store.Get(efivars.WatchdogCounterVar, efivars.LoaderGUID)
	c.Assert(err, IsNil)
	c.Check(data, DeepEquals, []byte{1})
}

func (s *watchdogSuite) TestResetIdempotent(c *C) {
	c.Assert(watchdog.Reset(s.store), IsNil)
	c.Assert(watchdog.Reset(s.store), IsNil)
}
