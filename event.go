// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/rust-embedded/gpio-cdev/uapi"
	"golang.org/x/sys/unix"
)

// LineEventType indicates the type of change to the line active state.
//
// Note that for active low lines a physical falling edge produces a
// rising edge event.
type LineEventType int

const (
	_ LineEventType = iota

	// LineEventRisingEdge indicates an inactive to active transition.
	LineEventRisingEdge

	// LineEventFallingEdge indicates an active to inactive transition.
	LineEventFallingEdge
)

// LineEvent represents an edge detected on a monitored line.
type LineEvent struct {
	// Timestamp indicates the time the edge was detected.
	//
	// The timestamp is nanoseconds of a monotonic clock, with
	// best-effort resolution. It is intended for measuring intervals
	// between events, not for wall-clock time.
	Timestamp time.Duration

	// The type of transition.
	Type LineEventType
}

// LineEventHandle controls a single requested line with edge event
// monitoring enabled.
//
// Events are queued by the kernel as edges are detected, and consumed
// one record at a time by NextEvent. Once the handle is closed
// monitoring cannot be resumed on it - a new request is required.
type LineEventHandle struct {
	handle
	events EventFlag
}

// Offset returns the offset of the line within the chip.
func (h *LineEventHandle) Offset() int {
	return h.offsets[0]
}

// EventFlags returns the edges the handle was requested to report.
func (h *LineEventHandle) EventFlags() EventFlag {
	return h.events
}

// Value returns the current logical value of the line.
//
// Reading the value is a separate ioctl on the same descriptor and does
// not disturb the pending event queue, so is legal at any time.
func (h *LineEventHandle) Value() (int, error) {
	hd, err := h.getValues()
	if err != nil {
		return 0, err
	}
	return int(hd[0]), nil
}

// NextEvent blocks until the kernel delivers the next queued event
// record, and returns the decoded event.
//
// Events are delivered strictly in kernel queue order. If the consumer
// is slower than edge arrival the kernel's own queueing policy decides
// what is dropped - what is delivered here is exactly what the kernel
// delivers.
//
// Returns ErrEventReadClosed if the descriptor is closed while the read
// is pending.
func (h *LineEventHandle) NextEvent() (LineEvent, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return LineEvent{}, ErrClosed
	}
	fd := h.fd
	h.mu.Unlock()
	// read outside the lock so Value remains callable while blocked.
	return readEvent(fd)
}

// eventRecordSize is the size of one kernel event record on this
// platform.
var eventRecordSize = binary.Size(uapi.EventData{})

// readEvent reads and decodes one event record from the fd.
//
// This is the one decoding routine shared by the blocking and streamed
// event paths.
func readEvent(fd uintptr) (LineEvent, error) {
	ed, err := uapi.ReadEvent(fd)
	if err != nil {
		return LineEvent{}, mapEventReadError(err)
	}
	return LineEvent{
		Timestamp: time.Duration(ed.Timestamp),
		Type:      LineEventType(ed.ID),
	}, nil
}

func mapEventReadError(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// fewer bytes than one record indicates an ABI mismatch.
		return ProtocolError{Want: eventRecordSize}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, unix.EBADF) {
		return ErrEventReadClosed
	}
	return newIoctlError(IoctlEventRead, err)
}
