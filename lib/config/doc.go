// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the rtlog pipeline configuration.
//
// Configuration comes from a single YAML file named by the
// RTLOG_CONFIG environment variable or a --config flag. There is no
// search path and no environment override of individual values: what
// is in the file (on top of [Default]) is what runs.
//
// Path-valued fields support ${VAR} and ${VAR:-default} expansion.
// ${RTLOG_ROOT} refers to the configured root directory.
//
// The file may carry development and production sections that
// override log and scheduling settings for that environment; a
// production deployment typically enables SCHED_FIFO for producers
// there while development runs everything as SCHED_OTHER.
package config
