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
	"bufio"
	"fmt"
	"strings"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootpolicy"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/targets"
	"github.com/avoidik/hardware-intel-efi-kernelflinger/trust"
)

// consolePrompter asks yes/no questions on the boot console. Anything
// but an explicit yes denies.
type consolePrompter struct {
	in *bufio.Scanner
}

func newConsolePrompter() trust.Prompter {
	return &consolePrompter{in: bufio.NewScanner(Stdin)}
}

func (p *consolePrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(Stdout, "%s [y/N] ", question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(p.in.Text()))
	return answer == "y" || answer == "yes", nil
}

// consoleCrashMenu asks on the boot console where to go after a crash
// loop. Recovery is the default: an unattended crash-looping device
// must end up somewhere serviceable.
type consoleCrashMenu struct {
	in *bufio.Scanner
}

func newConsoleCrashMenu() bootpolicy.CrashMenu {
	return &consoleCrashMenu{in: bufio.NewScanner(Stdin)}
}

func (m *consoleCrashMenu) ChooseTarget() (targets.BootTarget, error) {
	fmt.Fprintf(Stdout, "The OS crashed repeatedly. Boot target: [r]ecovery, [f]astboot, [n]ormal boot, [p]ower off? [R] ")
	if !m.in.Scan() {
		if err := m.in.Err(); err != nil {
			return targets.Recovery, err
		}
		return targets.Recovery, nil
	}
	switch strings.ToLower(strings.TrimSpace(m.in.Text())) {
	case "f", "fastboot":
		return targets.Fastboot, nil
	case "n", "normal":
		return targets.NormalBoot, nil
	case "p", "poweroff", "power off":
		return targets.PowerOff, nil
	}
	return targets.Recovery, nil
}
