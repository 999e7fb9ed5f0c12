// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"fmt"

	"github.com/rust-embedded/gpio-cdev/uapi"
)

// consumerMax is the longest consumer label the kernel accepts - the
// label buffer is 32 bytes including the NUL terminator.
const consumerMax = 31

// RequestFlag contains the options for a line request.
//
// Exactly one of RequestInput and RequestOutput must be set.
type RequestFlag uint32

const (
	// RequestInput requests the line as an input.
	RequestInput RequestFlag = 1 << iota

	// RequestOutput requests the line as an output.
	RequestOutput

	// RequestActiveLow requests the line be active low, inverting the
	// mapping between the physical level and the logical value.
	RequestActiveLow

	// RequestOpenDrain requests the line be an open drain output.
	//
	// Requires RequestOutput and is incompatible with RequestOpenSource.
	RequestOpenDrain

	// RequestOpenSource requests the line be an open source output.
	//
	// Requires RequestOutput and is incompatible with RequestOpenDrain.
	RequestOpenSource

	// RequestBiasDisable requests the line have bias disabled.
	//
	// Requires Linux v5.5 or later.
	RequestBiasDisable

	// RequestBiasPullUp requests the line have pull-up enabled.
	//
	// Requires Linux v5.5 or later.
	RequestBiasPullUp

	// RequestBiasPullDown requests the line have pull-down enabled.
	//
	// Requires Linux v5.5 or later.
	RequestBiasPullDown
)

// validate checks the compatibility invariants on the flags.
//
// It is shared by the single line, multi-line and event request paths
// so the rules cannot diverge between them.
func (f RequestFlag) validate() error {
	in := f&RequestInput != 0
	out := f&RequestOutput != 0
	if in == out {
		return InvalidArgumentError{Reason: "exactly one of input and output must be set"}
	}
	drain := f&RequestOpenDrain != 0
	source := f&RequestOpenSource != 0
	if drain && source {
		return InvalidArgumentError{Reason: "open drain and open source are incompatible"}
	}
	if in && (drain || source) {
		return InvalidArgumentError{Reason: "open drain and open source require output"}
	}
	bias := 0
	for _, b := range []RequestFlag{RequestBiasDisable, RequestBiasPullUp, RequestBiasPullDown} {
		if f&b != 0 {
			bias++
		}
	}
	if bias > 1 {
		return InvalidArgumentError{Reason: "conflicting bias flags"}
	}
	return nil
}

func (f RequestFlag) toHandleFlags() uapi.HandleFlag {
	var flags uapi.HandleFlag
	if f&RequestInput != 0 {
		flags |= uapi.HandleRequestInput
	}
	if f&RequestOutput != 0 {
		flags |= uapi.HandleRequestOutput
	}
	if f&RequestActiveLow != 0 {
		flags |= uapi.HandleRequestActiveLow
	}
	if f&RequestOpenDrain != 0 {
		flags |= uapi.HandleRequestOpenDrain
	}
	if f&RequestOpenSource != 0 {
		flags |= uapi.HandleRequestOpenSource
	}
	if f&RequestBiasDisable != 0 {
		flags |= uapi.HandleRequestBiasDisable
	}
	if f&RequestBiasPullUp != 0 {
		flags |= uapi.HandleRequestPullUp
	}
	if f&RequestBiasPullDown != 0 {
		flags |= uapi.HandleRequestPullDown
	}
	return flags
}

// EventFlag selects the edges reported by an event request.
type EventFlag uint32

const (
	// RisingEdge requests events on transitions from inactive to active.
	RisingEdge EventFlag = 1 << iota

	// FallingEdge requests events on transitions from active to inactive.
	FallingEdge

	// BothEdges requests events on transitions in either direction.
	BothEdges = RisingEdge | FallingEdge
)

func (f EventFlag) toEventFlags() uapi.EventFlag {
	var flags uapi.EventFlag
	if f&RisingEdge != 0 {
		flags |= uapi.EventRequestRisingEdge
	}
	if f&FallingEdge != 0 {
		flags |= uapi.EventRequestFallingEdge
	}
	return flags
}

// checkConsumer rejects consumer labels that do not fit the kernel
// label buffer, rather than silently truncating them.
func checkConsumer(consumer string) error {
	if len(consumer) > consumerMax {
		return InvalidArgumentError{
			Reason: fmt.Sprintf("consumer label exceeds %d bytes", consumerMax)}
	}
	return nil
}

// Line is a reference to a single line on a chip.
//
// Holding a Line does not reserve the line - it costs no syscalls and
// carries no kernel state. The line is reserved by Request or
// RequestEvents. A Line borrows the chip fd and must not be used after
// the chip is closed.
type Line struct {
	chip   *Chip
	offset int
}

// Offset returns the offset of the line within the chip.
func (l *Line) Offset() int {
	return l.offset
}

// Info returns the publicly available information for the line.
//
// The kernel is queried on every call so the result reflects any
// changes made by other processes since the last query.
func (l *Line) Info() (LineInfo, error) {
	return l.chip.LineInfo(l.offset)
}

// Request reserves the line for exclusive use and returns a handle to
// it.
//
// The defaultValue is the initial logical value for an output line, and
// is ignored for inputs. The consumer label is advisory - it is
// reported to other processes reading the line info.
//
// The line remains reserved until the handle is closed.
func (l *Line) Request(flags RequestFlag, defaultValue int, consumer string) (*LineHandle, error) {
	var defaults []int
	if flags&RequestOutput != 0 {
		defaults = []int{defaultValue}
	}
	fd, err := l.chip.requestHandle([]int{l.offset}, flags, defaults, consumer)
	if err != nil {
		return nil, err
	}
	return &LineHandle{handle: handle{fd: fd, offsets: []int{l.offset}, flags: flags}}, nil
}

// RequestEvents reserves the line for input and enables edge event
// monitoring on it.
//
// The flags must request an input, and events must select at least one
// edge.
func (l *Line) RequestEvents(flags RequestFlag, events EventFlag, consumer string) (*LineEventHandle, error) {
	if err := flags.validate(); err != nil {
		return nil, err
	}
	if flags&RequestOutput != 0 {
		return nil, InvalidArgumentError{Reason: "event request requires input"}
	}
	if events&BothEdges == 0 {
		return nil, InvalidArgumentError{Reason: "no edges selected"}
	}
	if err := checkConsumer(consumer); err != nil {
		return nil, err
	}
	c := l.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	er := uapi.EventRequest{
		Offset:      uint32(l.offset),
		HandleFlags: flags.toHandleFlags(),
		EventFlags:  events.toEventFlags(),
	}
	copy(er.Consumer[:len(er.Consumer)-1], consumer)
	if err := uapi.GetLineEvent(c.f.Fd(), &er); err != nil {
		return nil, newIoctlError(IoctlLineEvent, err)
	}
	return &LineEventHandle{
		handle: handle{fd: uintptr(er.Fd), offsets: []int{l.offset}, flags: flags},
		events: events,
	}, nil
}

// Lines is a reference to a collection of lines on a chip.
//
// Holding a Lines does not reserve the lines - they are reserved by
// Request. A Lines borrows the chip fd and must not be used after the
// chip is closed.
type Lines struct {
	chip    *Chip
	offsets []int
}

// Offsets returns the offsets of the lines within the chip, in request
// order.
func (ll *Lines) Offsets() []int {
	return append([]int(nil), ll.offsets...)
}

// Request reserves the collection of lines for exclusive use and
// returns a handle controlling all of them through one descriptor.
//
// For outputs the defaultValues provide the initial logical values, one
// per line in offset order, and must match the number of lines exactly.
// For inputs defaultValues must be empty.
//
// The request is atomic - either all lines are reserved or none are.
func (ll *Lines) Request(flags RequestFlag, defaultValues []int, consumer string) (*LinesHandle, error) {
	fd, err := ll.chip.requestHandle(ll.offsets, flags, defaultValues, consumer)
	if err != nil {
		return nil, err
	}
	offsets := append([]int(nil), ll.offsets...)
	return &LinesHandle{handle: handle{fd: fd, offsets: offsets, flags: flags}}, nil
}

// requestHandle issues a handle request for the offsets and returns the
// fd of the new handle.
//
// The offsets are assumed to already be range checked and distinct.
func (c *Chip) requestHandle(offsets []int, flags RequestFlag, defaults []int, consumer string) (uintptr, error) {
	if err := flags.validate(); err != nil {
		return 0, err
	}
	if flags&RequestOutput != 0 {
		if len(defaults) != len(offsets) {
			return 0, InvalidArgumentError{
				Reason: fmt.Sprintf("%d default values for %d lines", len(defaults), len(offsets))}
		}
	} else if len(defaults) != 0 {
		return 0, InvalidArgumentError{Reason: "default values require output"}
	}
	if err := checkConsumer(consumer); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	hr := uapi.HandleRequest{
		Lines: uint32(len(offsets)),
		Flags: flags.toHandleFlags(),
	}
	copy(hr.Consumer[:len(hr.Consumer)-1], consumer)
	for i, o := range offsets {
		hr.Offsets[i] = uint32(o)
	}
	for i, v := range defaults {
		hr.DefaultValues[i] = uint8(v)
	}
	if err := uapi.GetLineHandle(c.f.Fd(), &hr); err != nil {
		return 0, newIoctlError(IoctlLineHandle, err)
	}
	return uintptr(hr.Fd), nil
}
