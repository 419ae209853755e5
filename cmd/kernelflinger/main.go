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
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootpolicy"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/config"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/efivars"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/handover"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/logger"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/targets"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/trust"
)

// loaderVersion is reported through the LoaderVersion variable.
const loaderVersion = "kernelflinger-2.10"

type options struct {
	Fastboot   bool   `short:"f" long:"fastboot" description:"Enter servicing (fastboot) mode"`
	MemoryAddr uint64 `short:"a" long:"address" description:"Boot an image already staged at this memory address"`
	SelfTest   string `short:"U" long:"self-test" optional:"true" optional-value:"all" value-name:"NAME" description:"Run built-in self tests and exit"`
	EFIImage   string `long:"efi-image" description:"Chainload an EFI binary from the ESP"`

	ESPDir   string `long:"esp" description:"Mount point of the EFI system partition" default:"/boot/efi"`
	Config   string `long:"config" description:"Device configuration file" default:"/etc/kernelflinger/device.yaml"`
	VarsFile string `long:"no-efivars" description:"Use a file backed variable store instead of efivarfs" value-name:"FILE"`
	DryRun   bool   `short:"n" long:"dry-run" description:"Decide and stage, do not jump"`
	PartDir  string `long:"partdir" description:"Directory of partition device nodes" default:"/dev/disk/by-partlabel"`
}

// the boot memory window handed to the staging arena: conventional
// memory for the command line up through the low gigabyte the rest of
// the boot protocol structures must live in
const (
	arenaBase = 0x8000
	arenaSize = 0x3fff8000
)

// fatalPause keeps a diagnostic readable on the console before the
// device halts or init takes over again.
const fatalPause = 5 * time.Second

func main() {
	logger.SimpleSetup()
	if err := run(os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			fmt.Fprintln(Stdout, err)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		time.Sleep(fatalPause)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	if opts.SelfTest != "" {
		return runSelfTests(opts.SelfTest)
	}

	dev, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	var store efivars.Store
	if opts.VarsFile != "" {
		store, err = efivars.OpenFileStore(opts.VarsFile)
		if err != nil {
			return err
		}
	} else {
		store = efivars.System()
	}

	if err := efivars.SetString(store, efivars.LoaderVersionVar, efivars.LoaderGUID, efivars.VolatileAttrs, loaderVersion); err != nil {
		logger.Noticef("cannot publish loader version: %v", err)
	}

	parts := &blockParts{dir: opts.PartDir}
	ctx := &bootpolicy.Context{
		Store:    store,
		Parts:    parts,
		Keyboard: openKeyboard(),
		Reset:    platformResetOracle(),
		Battery:  openBattery(),
		Crash:    newConsoleCrashMenu(),
		Config:   dev,
		ESPDir:   opts.ESPDir,
		Args: bootpolicy.Args{
			Fastboot:   opts.Fastboot,
			MemoryAddr: opts.MemoryAddr,
			EFIImage:   opts.EFIImage,
		},
	}

	decision := bootpolicy.Decide(ctx)
	logger.Noticef("boot target: %s", decision.Target)

	prompter := newConsolePrompter()
	ctl := trust.NewController(store, prompter, dev.ForbidUnlock)

	b := &booter{
		opts:     &opts,
		dev:      dev,
		store:    store,
		parts:    parts,
		ctx:      ctx,
		ctl:      ctl,
		verifier: newKeystoreVerifier(opts.ESPDir),
	}
	return b.boot(decision)
}

type booter struct {
	opts     *options
	dev      *config.Device
	store    efivars.Store
	parts    *blockParts
	ctx      *bootpolicy.Context
	ctl      *trust.Controller
	verifier bootimg.Verifier
}

func (b *booter) boot(decision *bootpolicy.Decision) error {
	switch decision.Target {
	case targets.NormalBoot:
		return b.bootPartition("boot", targets.NormalBoot)
	case targets.Recovery:
		return b.bootPartition("recovery", targets.Recovery)
	case targets.Charger:
		if err := monitorCharge(); err != nil {
			return err
		}
		return b.bootPartition("boot", targets.Charger)
	case targets.Fastboot:
		return b.bootFile(filepath.Join(b.opts.ESPDir, "fastboot.img"), targets.ESPBootImage, false)
	case targets.TDOS:
		return b.bootFile(filepath.Join(b.opts.ESPDir, "tdos.img"), targets.TDOS, false)
	case targets.ESPBootImage:
		return b.bootFile(filepath.Join(b.opts.ESPDir, decision.Path), targets.ESPBootImage, decision.OneShot)
	case targets.ESPEFIBinary:
		return chainloadEFI(b.opts.ESPDir, decision.Path)
	case targets.Memory:
		return bootStagedImage(decision.Addr)
	case targets.PowerOff:
		return powerOff()
	case targets.ExitShell:
		return nil
	}
	return fmt.Errorf("internal error: no boot flow for target %q", decision.Target)
}

func (b *booter) bootPartition(label string, target targets.BootTarget) error {
	img, err := bootimg.LoadFromPartition(b.parts, label)
	if err != nil {
		return err
	}
	return b.bootImage(img, target)
}

func (b *booter) bootFile(path string, target targets.BootTarget, remove bool) error {
	img, err := bootimg.LoadFromFile(path, remove)
	if err != nil {
		return err
	}
	return b.bootImage(img, target)
}

func (b *booter) bootImage(img *bootimg.Image, target targets.BootTarget) error {
	verified := true
	if err := bootimg.Validate(b.verifier, img, nil, target, b.dev.Engineering); err != nil {
		if err != bootimg.ErrAccessDenied {
			return err
		}
		verified = false
	}
	state := b.ctl.BootState(verified, false)
	if err := b.ctl.Enforce(state); err != nil {
		return err
	}
	if err := b.ctl.RecordBootState(state); err != nil {
		logger.Noticef("%v", err)
	}

	if oem := img.OEMVars(); oem != nil {
		switch {
		case target == targets.Recovery || target == targets.ESPBootImage:
			// servicing images carry authoritative OEM vars;
			// re-arm the flag so the next OS boot refreshes its
			// own copy too
			if err := bootimg.ApplyOEMVars(b.store, oem); err != nil {
				logger.Noticef("%v", err)
			} else if err := efivars.SetOEMVarsUpdate(b.store, true); err != nil {
				logger.Noticef("%v", err)
			}
		case efivars.OEMVarsUpdate(b.store):
			if err := bootimg.ApplyOEMVars(b.store, oem); err != nil {
				logger.Noticef("%v", err)
			} else if err := efivars.SetOEMVarsUpdate(b.store, false); err != nil {
				logger.Noticef("%v", err)
			}
		}
	}

	cmdline := handover.BuildCommandLine(b.store, b.dev, img, target, state, b.ctx.BootReason())

	// staging through the arena validates placement before the
	// actual kexec takes over
	arena := handover.NewBufferArena(arenaBase, arenaSize)
	staged, err := handover.Prepare(arena, img, cmdline)
	if err != nil {
		return err
	}
	logger.Debugf("kernel entry at %#x", staged.Entry)

	if b.opts.DryRun {
		fmt.Fprintf(Stdout, "target staged: entry %#x cmdline %q\n", staged.Entry, cmdline)
		return nil
	}
	return execKernel(img, cmdline)
}
