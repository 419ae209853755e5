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

// Package bootpolicy decides where a boot cycle goes. It runs a fixed
// chain of checks over the request sources (watchdog history,
// invocation arguments, ESP sentinel file, magic key, firmware
// variables, the bootloader control block and the battery state) and
// selects the first target any of them demands.
package bootpolicy

import (
	"path/filepath"
	"strings"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bcb"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/config"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/osutil"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/reset"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/strutil"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/targets"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/watchdog"
)

// fastbootSentinel is the file on the ESP whose presence forces
// servicing mode, used on boards without usable key input.
const fastbootSentinel = "force_fastboot"

// Args are the invocation arguments of the boot loader binary that
// influence target selection. Debug invocations only, a production
// boot path passes the zero value.
type Args struct {
	// Fastboot forces servicing mode.
	Fastboot bool
	// MemoryAddr boots an image already staged at this address.
	MemoryAddr uint64
	// EFIImage chainloads an EFI binary from this ESP path.
	EFIImage string
}

// Battery reports the charge state of the board's battery, when one
// exists.
type Battery interface {
	// Capacity is the current charge in percent.
	Capacity() (int, error)
	// ChargerConnected reports whether external power is attached.
	ChargerConnected() bool
}

// CrashMenu lets the physically present user pick the boot target
// after the watchdog escalates a crash loop.
type CrashMenu interface {
	// ChooseTarget returns the user's choice; NormalBoot hands the
	// decision back to the rest of the chain.
	ChooseTarget() (targets.BootTarget, error)
}

// Context carries everything the decision chain reads. Nil
// collaborators disable the checks that need them.
type Context struct {
	Store    efivars.Store
	Parts    bcb.PartitionReadWriter
	Keyboard Keyboard
	Reset    reset.Oracle
	Battery  Battery
	Crash    CrashMenu
	Config   *config.Device
	Args     Args

	// ESPDir is where the EFI system partition is mounted.
	ESPDir string

	rebootReason     string
	rebootReasonRead bool
}

// Decision is the outcome of the chain.
type Decision struct {
	Target targets.BootTarget

	// Path is the ESP-relative binary path for ESPEFIBinary.
	Path string
	// Addr is the staged image address for Memory.
	Addr uint64
	// OneShot marks a decision that must not repeat next cycle.
	OneShot bool
}

type check struct {
	name string
	run  func(ctx *Context) (*Decision, error)
}

// the order is load bearing: earlier sources outrank later ones
var checks = []check{
	{"watchdog", checkWatchdog},
	{"command line", checkArgs},
	{"fastboot sentinel", checkSentinel},
	{"magic key", checkMagicKey},
	{"battery insertion", checkBatteryInserted},
	{"bootloader control block", checkBCB},
	{"one-shot variable", checkOneShot},
	{"reboot reason", checkRebootReason},
	{"battery level", checkBatteryLevel},
	{"charger insertion", checkChargerInserted},
}

// Decide runs the decision chain and returns the selected target. A
// failing check is logged and skipped: a broken request source must
// degrade to a normal boot, not wedge the device.
func Decide(ctx *Context) *Decision {
	for _, ck := range checks {
		d, err := ck.run(ctx)
		if err != nil {
			logger.Noticef("boot target check %q failed: %v", ck.name, err)
			continue
		}
		if d != nil && d.Target != targets.NormalBoot {
			logger.Noticef("boot target %q selected by %s check", d.Target, ck.name)
			return d
		}
	}
	return &Decision{Target: targets.NormalBoot}
}

func checkArgs(ctx *Context) (*Decision, error) {
	switch {
	case ctx.Args.Fastboot:
		return &Decision{Target: targets.Fastboot}, nil
	case ctx.Args.MemoryAddr != 0:
		return &Decision{Target: targets.Memory, Addr: ctx.Args.MemoryAddr}, nil
	case ctx.Args.EFIImage != "":
		return &Decision{Target: targets.ESPEFIBinary, Path: ctx.Args.EFIImage}, nil
	}
	return nil, nil
}

func checkSentinel(ctx *Context) (*Decision, error) {
	if ctx.ESPDir == "" {
		return nil, nil
	}
	if osutil.FileExists(filepath.Join(ctx.ESPDir, fastbootSentinel)) {
		return &Decision{Target: targets.Fastboot}, nil
	}
	return nil, nil
}

func checkMagicKey(ctx *Context) (*Decision, error) {
	if ctx.Keyboard == nil {
		return nil, nil
	}
	held, err := DetectMagicKey(ctx.Store, ctx.Keyboard)
	if err != nil || !held {
		return nil, err
	}
	if ctx.Config != nil && ctx.Config.MagicKeyToRecovery {
		return &Decision{Target: targets.Recovery}, nil
	}
	return &Decision{Target: targets.Fastboot}, nil
}

func checkWatchdog(ctx *Context) (*Decision, error) {
	if ctx.Reset == nil {
		return nil, nil
	}
	// with the crash menu disabled the crash streak is not even
	// tracked, boards opt out of the whole mechanism this way
	if !efivars.CrashEventMenu(ctx.Store) {
		return nil, nil
	}
	escalate, err := watchdog.Check(ctx.Store, ctx.Reset)
	if err != nil {
		return nil, err
	}
	if !escalate {
		return nil, nil
	}
	if ctx.Crash != nil {
		target, err := ctx.Crash.ChooseTarget()
		if err != nil {
			return nil, err
		}
		if target == targets.NormalBoot {
			return nil, nil
		}
		return &Decision{Target: target}, nil
	}
	// nobody to ask, recovery is where crash loops get serviced
	return &Decision{Target: targets.Recovery}, nil
}

func checkRebootReason(ctx *Context) (*Decision, error) {
	reason := ctx.RebootReason()
	if reason == "" {
		return nil, nil
	}
	target := targets.FromName(reason)
	if target == targets.UnknownTarget {
		// reasons like "shutdown" or vendor strings carry no
		// target request
		return nil, nil
	}
	return &Decision{Target: target, OneShot: true}, nil
}

func checkOneShot(ctx *Context) (*Decision, error) {
	data, _, err := ctx.Store.Get(efivars.LoaderEntryOneShotVar, efivars.LoaderGUID)
	if efivars.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	name := efivars.DecodeString(data)
	// one-shot by contract: gone before anything can act on it
	if err := ctx.Store.Delete(efivars.LoaderEntryOneShotVar, efivars.LoaderGUID); err != nil {
		return nil, err
	}
	target := targets.FromName(name)
	if target == targets.UnknownTarget {
		logger.Noticef("ignoring unknown one-shot boot target %q", name)
		return nil, nil
	}
	if target == targets.Charger && !efivars.OffModeCharge(ctx.Store) {
		target = targets.PowerOff
	}
	return &Decision{Target: target, OneShot: true}, nil
}

func checkBCB(ctx *Context) (*Decision, error) {
	if ctx.Parts == nil {
		return nil, nil
	}
	block, err := bcb.Read(ctx.Parts)
	if err != nil {
		return nil, err
	}
	// the status field belongs to the loader, drop any stale data
	block.ClearStatus()
	name, oneshot := block.ConsumeCommand()
	// the record is rewritten before the command is acted on so a
	// crash cannot replay a one-shot request
	if err := block.Write(ctx.Parts); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}
	if strings.HasPrefix(name, `\`) || strings.HasPrefix(name, "/") {
		return bcbPathDecision(ctx, name, oneshot)
	}
	target := targets.FromName(name)
	if target == targets.UnknownTarget {
		logger.Noticef("ignoring unknown control block boot target %q", name)
		return nil, nil
	}
	return &Decision{Target: target, OneShot: oneshot}, nil
}

// bcbPathDecision resolves an explicit ESP path from the control
// block. The extension picks the boot flow: a .efi binary is
// chainloaded, anything else is loaded as a boot image.
func bcbPathDecision(ctx *Context, path string, oneshot bool) (*Decision, error) {
	rel := strings.TrimLeft(strings.ReplaceAll(path, `\`, "/"), "/")
	if len(rel) <= 4 {
		logger.Noticef("malformed control block file path %q", path)
		return nil, nil
	}
	if ctx.ESPDir == "" || !osutil.FileExists(filepath.Join(ctx.ESPDir, rel)) {
		logger.Noticef("control block file %q does not exist", path)
		return nil, nil
	}
	if strings.HasSuffix(rel, ".efi") || strings.HasSuffix(rel, ".EFI") {
		return &Decision{Target: targets.ESPEFIBinary, Path: rel, OneShot: oneshot}, nil
	}
	return &Decision{Target: targets.ESPBootImage, Path: rel, OneShot: oneshot}, nil
}

func checkBatteryInserted(ctx *Context) (*Decision, error) {
	if ctx.Reset == nil || ctx.Reset.WakeSource() != reset.WakeBatteryInserted {
		return nil, nil
	}
	// a battery insertion is not a request to boot the OS
	return &Decision{Target: targets.PowerOff}, nil
}

// defaultMinBootCharge is the battery percentage below which the OS is
// not booted unless the board overrides the threshold.
const defaultMinBootCharge = 3

func checkBatteryLevel(ctx *Context) (*Decision, error) {
	if ctx.Battery == nil {
		return nil, nil
	}
	level, err := ctx.Battery.Capacity()
	if err != nil {
		return nil, err
	}
	threshold := efivars.GetUint64(ctx.Store, efivars.MinBootChargeVar, efivars.FastbootGUID, defaultMinBootCharge)
	if level >= 0 && uint64(level) >= threshold {
		return nil, nil
	}
	if !ctx.Battery.ChargerConnected() {
		logger.Noticef("battery at %d%% with no charger attached, powering off", level)
		return &Decision{Target: targets.PowerOff}, nil
	}
	logger.Noticef("battery at %d%%, charging before boot", level)
	return &Decision{Target: targets.Charger}, nil
}

func checkChargerInserted(ctx *Context) (*Decision, error) {
	if ctx.Reset == nil {
		return nil, nil
	}
	switch ctx.Reset.WakeSource() {
	case reset.WakeUSBCharger, reset.WakeACCharger:
	default:
		return nil, nil
	}
	if efivars.OffModeCharge(ctx.Store) {
		return &Decision{Target: targets.Charger}, nil
	}
	return nil, nil
}

// RebootReason returns the reboot reason handed over by the OS,
// reading the firmware variable at most once per boot. The variable is
// deleted on first read; a reason is only ever acted upon once.
func (ctx *Context) RebootReason() string {
	if ctx.rebootReasonRead {
		return ctx.rebootReason
	}
	ctx.rebootReasonRead = true

	data, _, err := ctx.Store.Get(efivars.RebootReasonVar, efivars.LoaderGUID)
	if err != nil {
		if !efivars.IsNotFound(err) {
			logger.Noticef("cannot read reboot reason: %v", err)
		}
		return ""
	}
	reason := efivars.DecodeString(data)
	if err := ctx.Store.Delete(efivars.RebootReasonVar, efivars.LoaderGUID); err != nil {
		logger.Noticef("cannot clear reboot reason: %v", err)
	}
	if !strutil.IsAlnumOrUnderscore(reason) {
		logger.Noticef("ignoring malformed reboot reason %q", reason)
		return ""
	}
	ctx.rebootReason = reason
	return reason
}

// BootReason is the androidboot.bootreason value for this cycle: a
// watchdog reset outranks whatever the OS left behind.
func (ctx *Context) BootReason() string {
	if ctx.Reset != nil && ctx.Reset.ResetSource().IsWatchdog() {
		return "watchdog"
	}
	if reason := ctx.RebootReason(); reason != "" {
		return reason
	}
	return "unknown"
}
