// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package rtsched

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var linuxPolicies = [...]uint32{
	PolicyFIFO: unix.SCHED_FIFO,
	PolicyRR:   unix.SCHED_RR,
}

// Apply sets the calling thread's scheduling class, priority, and
// affinity. PolicyOther leaves the inherited class and nice value
// alone. Raising to a real-time class needs CAP_SYS_NICE or an
// RLIMIT_RTPRIO allowance; the EPERM is returned wrapped.
func Apply(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	if settings.Policy != PolicyOther {
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   linuxPolicies[settings.Policy],
			Priority: uint32(settings.Priority),
		}
		if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
			return fmt.Errorf("sched_setattr %s: %w", settings, err)
		}
	}

	if len(settings.CPUs) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range settings.CPUs {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("sched_setaffinity %v: %w", settings.CPUs, err)
		}
	}
	return nil
}

// Current reports the calling thread's scheduling settings.
func Current() (Settings, error) {
	attr, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		return Settings{}, fmt.Errorf("sched_getattr: %w", err)
	}
	settings := Settings{Priority: int(attr.Priority)}
	switch attr.Policy {
	case unix.SCHED_FIFO:
		settings.Policy = PolicyFIFO
	case unix.SCHED_RR:
		settings.Policy = PolicyRR
	default:
		settings.Policy = PolicyOther
	}

	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return Settings{}, fmt.Errorf("sched_getaffinity: %w", err)
	}
	for cpu := range 1024 {
		if set.IsSet(cpu) {
			settings.CPUs = append(settings.CPUs, cpu)
		}
	}
	return settings, nil
}
