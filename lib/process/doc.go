// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the exit helpers for rtlog binaries' main
// functions. These are ordinary startup and shutdown errors; faults
// detected while the control loop runs go through lib/fatal, which
// writes a dump file and exits with status 255.
package process
