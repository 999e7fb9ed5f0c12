// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

// Package uapi contains the Linux GPIO character device ABI.
//
// This is the v1 uAPI, as defined in <linux/gpio.h> from Linux v4.8,
// with the bias flags added in v5.5 and the line info watch ioctls
// added in v5.7. All kernel struct layouts and ioctl encodings are
// contained in this package - nothing outside it may assume anything
// about the wire format.
package uapi

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// nameSize is the size of the name and consumer label buffers,
// including the terminating NUL.
const nameSize = 32

// HandlesMax is the maximum number of lines that can be requested in a
// single handle request.
const HandlesMax = 64

// ChipInfo contains the details of a GPIO chip.
//
// Returned by the chip info ioctl on the chip fd.
type ChipInfo struct {
	// The system name of the chip.
	Name [nameSize]byte

	// An identifying label added by the device driver.
	Label [nameSize]byte

	// The number of lines provided by the chip.
	Lines uint32
}

// LineInfo contains the details of a single line of a GPIO chip.
type LineInfo struct {
	// The offset of the line within the chip.
	Offset uint32

	// The current state of the line.
	Flags LineFlag

	// The system name of the line.
	Name [nameSize]byte

	// The label provided by the consumer holding the line, if any.
	Consumer [nameSize]byte
}

// LineFlag contains the state flags reported in LineInfo.
type LineFlag uint32

const (
	// LineFlagUsed indicates that the line is in use.
	//
	// It may be held by this process, another process, or hogged by the
	// kernel itself. It cannot be requested until this flag clears.
	LineFlagUsed LineFlag = 1 << iota

	// LineFlagIsOut indicates that the line is an output.
	LineFlagIsOut

	// LineFlagActiveLow indicates that the line active state corresponds
	// to a physical low.
	LineFlagActiveLow

	// LineFlagOpenDrain indicates that the line is an open drain output -
	// driven low and floating high.
	LineFlagOpenDrain

	// LineFlagOpenSource indicates that the line is an open source output -
	// driven high and floating low.
	LineFlagOpenSource

	// LineFlagPullUp indicates that the internal pull-up is enabled.
	LineFlagPullUp

	// LineFlagPullDown indicates that the internal pull-down is enabled.
	LineFlagPullDown

	// LineFlagBiasDisable indicates that the internal bias is disabled.
	LineFlagBiasDisable
)

// IsUsed returns true if the line is in use.
func (f LineFlag) IsUsed() bool {
	return f&LineFlagUsed != 0
}

// IsOut returns true if the line is an output.
func (f LineFlag) IsOut() bool {
	return f&LineFlagIsOut != 0
}

// IsActiveLow returns true if the line is active low.
func (f LineFlag) IsActiveLow() bool {
	return f&LineFlagActiveLow != 0
}

// IsOpenDrain returns true if the line is an open drain output.
func (f LineFlag) IsOpenDrain() bool {
	return f&LineFlagOpenDrain != 0
}

// IsOpenSource returns true if the line is an open source output.
func (f LineFlag) IsOpenSource() bool {
	return f&LineFlagOpenSource != 0
}

// IsPullUp returns true if the line has pull-up enabled.
func (f LineFlag) IsPullUp() bool {
	return f&LineFlagPullUp != 0
}

// IsPullDown returns true if the line has pull-down enabled.
func (f LineFlag) IsPullDown() bool {
	return f&LineFlagPullDown != 0
}

// IsBiasDisable returns true if the line has bias disabled.
func (f LineFlag) IsBiasDisable() bool {
	return f&LineFlagBiasDisable != 0
}

// HandleRequest is a request for control of a set of lines.
//
// The lines must all belong to the same chip.
// On success the kernel writes the fd for the new handle into Fd.
type HandleRequest struct {
	// The offsets of the lines to be requested.
	Offsets [HandlesMax]uint32

	// The flags applied to all lines in the request.
	Flags HandleFlag

	// The initial values for output lines, ignored for inputs.
	DefaultValues [HandlesMax]uint8

	// A label identifying the requester, applied to all lines.
	Consumer [nameSize]byte

	// The number of lines being requested.
	Lines uint32

	// The fd of the requested handle, set by the kernel on success.
	Fd int32
}

// HandleFlag contains the request flags for a handle or event request.
type HandleFlag uint32

const (
	// HandleRequestInput requests the lines as inputs.
	HandleRequestInput HandleFlag = 1 << iota

	// HandleRequestOutput requests the lines as outputs.
	HandleRequestOutput

	// HandleRequestActiveLow requests the lines be active low.
	HandleRequestActiveLow

	// HandleRequestOpenDrain requests the lines be open drain outputs.
	//
	// Requires the lines be requested as outputs, and is incompatible
	// with open source.
	HandleRequestOpenDrain

	// HandleRequestOpenSource requests the lines be open source outputs.
	//
	// Requires the lines be requested as outputs, and is incompatible
	// with open drain.
	HandleRequestOpenSource

	// HandleRequestPullUp requests the lines have pull-up enabled.
	HandleRequestPullUp

	// HandleRequestPullDown requests the lines have pull-down enabled.
	HandleRequestPullDown

	// HandleRequestBiasDisable requests the lines have bias disabled.
	HandleRequestBiasDisable
)

// IsInput returns true if the lines are requested as inputs.
func (f HandleFlag) IsInput() bool {
	return f&HandleRequestInput != 0
}

// IsOutput returns true if the lines are requested as outputs.
func (f HandleFlag) IsOutput() bool {
	return f&HandleRequestOutput != 0
}

// IsActiveLow returns true if the lines are requested active low.
func (f HandleFlag) IsActiveLow() bool {
	return f&HandleRequestActiveLow != 0
}

// IsOpenDrain returns true if the lines are requested as open drain.
func (f HandleFlag) IsOpenDrain() bool {
	return f&HandleRequestOpenDrain != 0
}

// IsOpenSource returns true if the lines are requested as open source.
func (f HandleFlag) IsOpenSource() bool {
	return f&HandleRequestOpenSource != 0
}

// IsPullUp returns true if the lines are requested with pull-up enabled.
func (f HandleFlag) IsPullUp() bool {
	return f&HandleRequestPullUp != 0
}

// IsPullDown returns true if the lines are requested with pull-down enabled.
func (f HandleFlag) IsPullDown() bool {
	return f&HandleRequestPullDown != 0
}

// IsBiasDisable returns true if the lines are requested with bias disabled.
func (f HandleFlag) IsBiasDisable() bool {
	return f&HandleRequestBiasDisable != 0
}

// HandleData contains the logical value for each line of a handle.
//
// Zero is inactive and one is active, after any active low inversion
// applied by the kernel.
type HandleData [HandlesMax]uint8

// EventRequest is a request for control of a single line with edge
// event reporting enabled.
//
// On success the kernel writes the fd for the new event handle into Fd.
type EventRequest struct {
	// The offset of the line to be requested.
	Offset uint32

	// The handle flags applied to the line.
	HandleFlags HandleFlag

	// The edges to be reported.
	EventFlags EventFlag

	// A label identifying the requester.
	Consumer [nameSize]byte

	// The fd of the requested line, set by the kernel on success.
	Fd int32
}

// EventFlag selects the edges reported by an event request.
type EventFlag uint32

const (
	// EventRequestRisingEdge requests events on transitions from an
	// inactive to an active state.
	//
	// For active low lines this is a physical falling edge.
	EventRequestRisingEdge EventFlag = 1 << iota

	// EventRequestFallingEdge requests events on transitions from an
	// active to an inactive state.
	//
	// For active low lines this is a physical rising edge.
	EventRequestFallingEdge

	// EventRequestBothEdges requests events on transitions in either
	// direction.
	EventRequestBothEdges = EventRequestRisingEdge | EventRequestFallingEdge
)

// IsRisingEdge returns true if rising edge events are requested.
func (f EventFlag) IsRisingEdge() bool {
	return f&EventRequestRisingEdge != 0
}

// IsFallingEdge returns true if falling edge events are requested.
func (f EventFlag) IsFallingEdge() bool {
	return f&EventRequestFallingEdge != 0
}

// IsBothEdges returns true if both rising and falling edge events are
// requested.
func (f EventFlag) IsBothEdges() bool {
	return f&EventRequestBothEdges == EventRequestBothEdges
}

// Edge types reported in EventData.ID.
const (
	// EventRisingEdgeID identifies a transition to the active state.
	EventRisingEdgeID uint32 = 0x01

	// EventFallingEdgeID identifies a transition to the inactive state.
	EventFallingEdgeID uint32 = 0x02
)

// LineInfoChanged contains the details of a change to the info of a
// watched line.
//
// Read from the chip fd when a watched line is requested, released or
// reconfigured.
type LineInfoChanged struct {
	// The updated line info.
	Info LineInfo

	// The time the change occurred, in nanoseconds.
	Timestamp uint64

	// The type of change.
	Type ChangeType

	// reserved for future use.
	_ [5]uint32
}

// ChangeType indicates the type of change that has occurred to a line.
type ChangeType uint32

const (
	_ ChangeType = iota

	// LineChangedRequested indicates the line has been requested.
	LineChangedRequested

	// LineChangedReleased indicates the line has been released.
	LineChangedReleased

	// LineChangedConfig indicates the line configuration has changed.
	LineChangedConfig
)

// ioctl command codes, computed in init as the encoding includes the
// struct sizes.
type ioctl uintptr

var (
	getChipInfoIoctl     ioctl
	getLineInfoIoctl     ioctl
	getLineHandleIoctl   ioctl
	getLineEventIoctl    ioctl
	getLineValuesIoctl   ioctl
	setLineValuesIoctl   ioctl
	watchLineInfoIoctl   ioctl
	unwatchLineInfoIoctl ioctl
)

func init() {
	var (
		ci ChipInfo
		li LineInfo
		hr HandleRequest
		er EventRequest
		hd HandleData
	)
	getChipInfoIoctl = ior(0xB4, 0x01, unsafe.Sizeof(ci))
	getLineInfoIoctl = iorw(0xB4, 0x02, unsafe.Sizeof(li))
	getLineHandleIoctl = iorw(0xB4, 0x03, unsafe.Sizeof(hr))
	getLineEventIoctl = iorw(0xB4, 0x04, unsafe.Sizeof(er))
	getLineValuesIoctl = iorw(0xB4, 0x08, unsafe.Sizeof(hd))
	setLineValuesIoctl = iorw(0xB4, 0x09, unsafe.Sizeof(hd))
	watchLineInfoIoctl = iorw(0xB4, 0x0b, unsafe.Sizeof(li))
	unwatchLineInfoIoctl = iorw(0xB4, 0x0c, unsafe.Sizeof(li.Offset))
}

// GetChipInfo returns the ChipInfo for the GPIO character device.
//
// The fd is an open GPIO character device.
func GetChipInfo(fd uintptr) (ChipInfo, error) {
	var ci ChipInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(getChipInfoIoctl),
		uintptr(unsafe.Pointer(&ci)))
	if errno != 0 {
		return ci, errno
	}
	return ci, nil
}

// GetLineInfo returns the LineInfo for one line of the GPIO character
// device.
//
// The fd is an open GPIO character device.
// The offset is zero based.
func GetLineInfo(fd uintptr, offset int) (LineInfo, error) {
	li := LineInfo{Offset: uint32(offset)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(getLineInfoIoctl),
		uintptr(unsafe.Pointer(&li)))
	if errno != 0 {
		return LineInfo{}, errno
	}
	return li, nil
}

// GetLineHandle requests a set of lines from the GPIO character device,
// without event reporting.
//
// The fd is an open GPIO character device.
// The lines must not already be requested.
// On success the fd for the handle is returned in request.Fd.
func GetLineHandle(fd uintptr, request *HandleRequest) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(getLineHandleIoctl),
		uintptr(unsafe.Pointer(request)))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetLineEvent requests a line from the GPIO character device with edge
// event reporting enabled.
//
// The fd is an open GPIO character device.
// The line must be an input and must not already be requested.
// On success the fd for the line is returned in request.Fd.
func GetLineEvent(fd uintptr, request *EventRequest) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(getLineEventIoctl),
		uintptr(unsafe.Pointer(request)))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetLineValues returns the values of a set of requested lines.
//
// The fd is a requested handle, as returned by GetLineHandle or
// GetLineEvent.
func GetLineValues(fd uintptr, values *HandleData) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(getLineValuesIoctl),
		uintptr(unsafe.Pointer(&values[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// SetLineValues sets the values of a set of requested lines.
//
// The fd is a requested handle, as returned by GetLineHandle.
// All lines in the handle are set in the one call.
func SetLineValues(fd uintptr, values HandleData) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(setLineValuesIoctl),
		uintptr(unsafe.Pointer(&values[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// WatchLineInfo sets a watch on the info of a line.
//
// The watch is set on the line indicated by info.Offset. On success the
// current line info is written into info.
//
// Requires Linux v5.7 or later.
func WatchLineInfo(fd uintptr, info *LineInfo) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(watchLineInfoIoctl),
		uintptr(unsafe.Pointer(info)))
	if errno != 0 {
		return errno
	}
	return nil
}

// UnwatchLineInfo clears a watch on the info of a line.
//
// Requires Linux v5.7 or later.
func UnwatchLineInfo(fd uintptr, offset uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		fd,
		uintptr(unwatchLineInfoIoctl),
		uintptr(unsafe.Pointer(&offset)))
	if errno != 0 {
		return errno
	}
	return nil
}

type fdReader int

func (fd fdReader) Read(b []byte) (int, error) {
	return unix.Read(int(fd), b[:])
}

// ReadEvent reads a single edge event record from a requested line.
//
// The fd is a requested line, as returned by GetLineEvent.
//
// The read blocks until a record is available.
func ReadEvent(fd uintptr) (EventData, error) {
	var ed EventData
	err := binary.Read(fdReader(fd), nativeEndian, &ed)
	return ed, err
}

// ReadLineInfoChanged reads a line info changed record from a chip.
//
// The fd is an open GPIO character device with at least one line info
// watch active.
//
// The read blocks until a record is available, so should only be called
// when the fd is known to be ready to read.
func ReadLineInfoChanged(fd uintptr) (LineInfoChanged, error) {
	var lic LineInfoChanged
	err := binary.Read(fdReader(fd), nativeEndian, &lic)
	return lic, err
}

// BytesToString converts the NUL terminated strings stored in the
// kernel name and label buffers into Go strings.
func BytesToString(a []byte) string {
	n := bytes.IndexByte(a, 0)
	if n == -1 {
		return string(a)
	}
	return string(a[:n])
}
