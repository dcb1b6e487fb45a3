// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package monitoring implements the system monitoring reading pipeline.
//
// A monitoring session starts from reading definitions loaded into a
// Repository from XML or YAML configuration. A Catalog expands the user's
// request (group tokens such as "CPU" or "MEMORY", plus process monitoring
// requests) into concrete definitions, which are handed to Engine.Init.
//
// The Engine turns definitions into stateful reading instances. Static
// readings (system wide) are created once during Init. Dynamic readings are
// bound to operating system processes: before every poll a ProcessMatcher
// scans the live process list, matches start commands against the configured
// patterns and the Engine creates or retires per-process instances.
//
// Every poll returns a flat, ordered list of (reading id, value) pairs:
// static readings first, then per-process readings, then the parent process
// aggregates that sum up all processes matched under one parent name.
//
// Rate based readings compensate for native counter wraparound before any
// delta is computed and truncate results to two decimal digits so a reported
// value is never higher than the real one. A reading that cannot be produced
// in a cycle reports -1 instead of failing the whole poll.
package monitoring
