// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"fmt"
	"sync"

	"github.com/rust-embedded/gpio-cdev/uapi"
	"golang.org/x/sys/unix"
)

// handle holds the kernel-issued fd common to all requested line types.
type handle struct {
	fd      uintptr
	offsets []int
	flags   RequestFlag

	// mu covers closed - the fields above are immutable.
	mu     sync.Mutex
	closed bool
}

// Close releases the handle, and with it the kernel's hold on the
// lines.
//
// Once closed the lines may be requested again, by this process or any
// other. The configured state of the lines is lost.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return unix.Close(int(h.fd))
}

// Flags returns the request flags the handle was requested with.
//
// The flags are fixed for the lifetime of the handle.
func (h *handle) Flags() RequestFlag {
	return h.flags
}

// getValues reads the logical values of all lines in the handle with a
// single ioctl.
func (h *handle) getValues() (uapi.HandleData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var hd uapi.HandleData
	if h.closed {
		return hd, ErrClosed
	}
	if err := uapi.GetLineValues(h.fd, &hd); err != nil {
		return hd, newIoctlError(IoctlGetLineValues, err)
	}
	return hd, nil
}

// setValues writes the logical values of all lines in the handle with a
// single ioctl.
func (h *handle) setValues(hd uapi.HandleData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return newIoctlError(IoctlSetLineValues, uapi.SetLineValues(h.fd, hd))
}

// LineHandle controls a single requested line.
//
// The line is held exclusively until the handle is closed.
type LineHandle struct {
	handle
}

// Offset returns the offset of the line within the chip.
func (h *LineHandle) Offset() int {
	return h.offsets[0]
}

// Value returns the current logical value of the line.
//
// The value is 0 or 1, after any active low inversion applied by the
// kernel.
func (h *LineHandle) Value() (int, error) {
	hd, err := h.getValues()
	if err != nil {
		return 0, err
	}
	return int(hd[0]), nil
}

// SetValue sets the logical value of the line.
//
// Setting the value of an input fails with the EPERM the kernel
// reports.
func (h *LineHandle) SetValue(value int) error {
	var hd uapi.HandleData
	if value != 0 {
		hd[0] = 1
	}
	return h.setValues(hd)
}

// LinesHandle controls a collection of requested lines through a single
// descriptor.
//
// The lines are held exclusively until the handle is closed.
type LinesHandle struct {
	handle
}

// Offsets returns the offsets of the lines within the chip, in request
// order.
func (h *LinesHandle) Offsets() []int {
	return append([]int(nil), h.offsets...)
}

// Values returns the current logical values of all lines in the handle,
// in request order, read with a single ioctl regardless of the number
// of lines.
func (h *LinesHandle) Values() ([]int, error) {
	hd, err := h.getValues()
	if err != nil {
		return nil, err
	}
	values := make([]int, len(h.offsets))
	for i := range values {
		values[i] = int(hd[i])
	}
	return values, nil
}

// SetValues sets the logical values of all lines in the handle with a
// single ioctl, so the lines change state atomically.
//
// The values must contain exactly one value per line, in request order.
// A mismatched length fails without changing any line.
func (h *LinesHandle) SetValues(values []int) error {
	if len(values) != len(h.offsets) {
		return InvalidArgumentError{
			Reason: fmt.Sprintf("%d values for %d lines", len(values), len(h.offsets))}
	}
	var hd uapi.HandleData
	for i, v := range values {
		if v != 0 {
			hd[i] = 1
		}
	}
	return h.setValues(hd)
}
