// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rtsched applies scheduling class, priority, and CPU affinity
// to the calling OS thread.
//
// Real-time placement is a deployment decision: the control loop and
// its workers usually run SCHED_FIFO pinned to isolated CPUs, and the
// telemetry consumer runs at a lower priority (or SCHED_OTHER) on a
// housekeeping CPU. Callers lock their goroutine to its thread with
// runtime.LockOSThread before calling [Apply]; settings applied to an
// unlocked goroutine land on whatever thread it happened to be on.
package rtsched

import (
	"errors"
	"fmt"
	"strings"
)

// Policy is a Linux scheduling class.
type Policy uint8

const (
	// PolicyOther is the default time-sharing class (SCHED_OTHER).
	PolicyOther Policy = iota
	// PolicyFIFO is real-time first-in first-out (SCHED_FIFO).
	PolicyFIFO
	// PolicyRR is real-time round-robin (SCHED_RR).
	PolicyRR
)

func (p Policy) String() string {
	switch p {
	case PolicyOther:
		return "other"
	case PolicyFIFO:
		return "fifo"
	case PolicyRR:
		return "rr"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy accepts "other" (or ""), "fifo", and "rr".
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "other", "normal":
		return PolicyOther, nil
	case "fifo":
		return PolicyFIFO, nil
	case "rr", "round_robin":
		return PolicyRR, nil
	default:
		return 0, fmt.Errorf("unknown scheduling policy %q (want other, fifo, or rr)", name)
	}
}

// Settings describes the placement for one thread.
type Settings struct {
	Policy Policy

	// Priority is the real-time priority, 1-99, for fifo and rr. Must
	// be zero for other.
	Priority int

	// CPUs restricts the thread to these CPU numbers. Empty leaves the
	// inherited mask untouched.
	CPUs []int
}

// IsDefault reports whether applying s would change nothing.
func (s Settings) IsDefault() bool {
	return s.Policy == PolicyOther && s.Priority == 0 && len(s.CPUs) == 0
}

// Validate checks priority range and CPU numbers.
func (s Settings) Validate() error {
	var errs []error
	switch s.Policy {
	case PolicyOther:
		if s.Priority != 0 {
			errs = append(errs, fmt.Errorf("priority %d not allowed with policy other", s.Priority))
		}
	case PolicyFIFO, PolicyRR:
		if s.Priority < 1 || s.Priority > 99 {
			errs = append(errs, fmt.Errorf("priority %d out of range 1-99 for policy %s", s.Priority, s.Policy))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid policy %d", uint8(s.Policy)))
	}
	for _, cpu := range s.CPUs {
		if cpu < 0 || cpu >= 1024 {
			errs = append(errs, fmt.Errorf("cpu %d out of range", cpu))
		}
	}
	return errors.Join(errs...)
}

func (s Settings) String() string {
	if len(s.CPUs) == 0 {
		return fmt.Sprintf("%s/%d", s.Policy, s.Priority)
	}
	return fmt.Sprintf("%s/%d cpus=%v", s.Policy, s.Priority, s.CPUs)
}
