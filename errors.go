// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed indicates the chip or handle has already been closed.
	ErrClosed = errors.New("already closed")

	// ErrInvalidOffset indicates a line offset is out of range for the
	// chip, or repeated within a single request.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrNotCharacterDevice indicates the device is not a GPIO character
	// device.
	ErrNotCharacterDevice = errors.New("not a GPIO character device")

	// ErrEventReadClosed indicates the event descriptor was closed while
	// a read was pending on it.
	ErrEventReadClosed = errors.New("event descriptor closed")
)

// InvalidArgumentError indicates a request violated a caller-side
// contract, such as conflicting request flags, a mismatched values
// length, or an oversized consumer label.
//
// The request is rejected before any ioctl is issued.
type InvalidArgumentError struct {
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Reason)
}

// IoctlKind identifies the ioctl that produced an IoctlError.
type IoctlKind int

const (
	// IoctlChipInfo is the chip info query.
	IoctlChipInfo IoctlKind = iota

	// IoctlLineInfo is the line info query.
	IoctlLineInfo

	// IoctlLineHandle is the line handle request.
	IoctlLineHandle

	// IoctlLineEvent is the line event request.
	IoctlLineEvent

	// IoctlGetLineValues is the handle value read.
	IoctlGetLineValues

	// IoctlSetLineValues is the handle value write.
	IoctlSetLineValues

	// IoctlWatchLineInfo sets a line info watch.
	IoctlWatchLineInfo

	// IoctlUnwatchLineInfo clears a line info watch.
	IoctlUnwatchLineInfo

	// IoctlEventRead is the event record read. It is a plain descriptor
	// read rather than an ioctl, but its failures are reported in the
	// same form.
	IoctlEventRead
)

func (k IoctlKind) String() string {
	switch k {
	case IoctlChipInfo:
		return "chip info"
	case IoctlLineInfo:
		return "line info"
	case IoctlLineHandle:
		return "line handle"
	case IoctlLineEvent:
		return "line event"
	case IoctlGetLineValues:
		return "get line values"
	case IoctlSetLineValues:
		return "set line values"
	case IoctlWatchLineInfo:
		return "watch line info"
	case IoctlUnwatchLineInfo:
		return "unwatch line info"
	case IoctlEventRead:
		return "event read"
	}
	return "unknown"
}

// IoctlError indicates a kernel-reported failure of a particular ioctl.
//
// The error is returned to the caller as is - operations are never
// retried as line state changes must remain visible to the caller.
// Unwrap returns the underlying errno, so errors.Is can be used to test
// for specific codes such as unix.EBUSY.
type IoctlError struct {
	Kind  IoctlKind
	Errno unix.Errno
}

func (e IoctlError) Error() string {
	return fmt.Sprintf("%s ioctl: %s", e.Kind, e.Errno)
}

func (e IoctlError) Unwrap() error {
	return e.Errno
}

// newIoctlError wraps an errno returned by the uapi layer, identifying
// the originating ioctl.
func newIoctlError(kind IoctlKind, err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return IoctlError{Kind: kind, Errno: errno}
	}
	return err
}

// ProtocolError indicates an event record read returned fewer bytes
// than one record.
//
// This implies a mismatch with the kernel ABI and is fatal - the read
// is not retried.
type ProtocolError struct {
	Want int
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("short event record: expected %d bytes", e.Want)
}
