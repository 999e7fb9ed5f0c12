// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux && 386
// +build linux,386

package uapi

// EventData is the record delivered on the event request fd for each
// detected edge.
type EventData struct {
	// The best estimate of the time the event was detected, in
	// nanoseconds of CLOCK_MONOTONIC.
	Timestamp uint64

	// The type of edge detected, EventRisingEdgeID or EventFallingEdgeID.
	ID uint32

	// no trailing pad on i386.
}
