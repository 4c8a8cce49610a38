// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package rtsched

import "errors"

// ErrUnsupported is returned by Apply for non-default settings on
// platforms without Linux scheduling classes.
var ErrUnsupported = errors.New("rtsched: thread scheduling control is only supported on linux")

// Apply validates settings; anything beyond the default placement is
// unsupported.
func Apply(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.IsDefault() {
		return nil
	}
	return ErrUnsupported
}

// Current always reports the default placement.
func Current() (Settings, error) {
	return Settings{}, nil
}
