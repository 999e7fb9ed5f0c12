// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

// Package gpiocdev provides access to GPIO lines on Linux platforms
// using the GPIO character device (/dev/gpiochipN), the replacement for
// the deprecated sysfs interface.
//
// Supports:
//   - Line read and write (logical, after any active low inversion)
//   - Line direction (input/output)
//   - Line drive (push-pull/open-drain/open-source)
//   - Line bias (pull-up/pull-down/disabled)
//   - Line level (active-high/active-low)
//   - Edge event monitoring (rising/falling/both), blocking or streamed
//   - Collections of lines for atomic reads and writes on multiple lines
//
// Example of use:
//
//	c, err := gpiocdev.OpenChip("/dev/gpiochip0")
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//	l, err := c.Line(4)
//	if err != nil {
//		panic(err)
//	}
//	h, err := l.Request(gpiocdev.RequestOutput, 0, "blinker")
//	if err != nil {
//		panic(err)
//	}
//	defer h.Close()
//	for v := 0; ; v ^= 1 {
//		h.SetValue(v)
//		<-time.After(time.Second)
//	}
package gpiocdev

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rust-embedded/gpio-cdev/uapi"
	"golang.org/x/sys/unix"
)

// Chip represents a single GPIO chip that controls a set of lines.
type Chip struct {
	f *os.File

	// The system name for this chip.
	Name string

	// A more individual label for the chip, or "unknown" if the driver
	// provides none.
	Label string

	// The number of lines on this chip.
	lines int

	// mu covers the attributes below it.
	mu sync.Mutex

	// watcher for line info changes.
	iw *infoWatcher

	// handlers for info changes on watched lines, keyed by offset.
	ich map[int]InfoChangeHandler

	// indicates the chip has been closed.
	closed bool
}

// OpenChip opens the GPIO character device at the given path.
//
// Returns ErrNotCharacterDevice if the path does not refer to a GPIO
// character device.
func OpenChip(path string) (*Chip, error) {
	if err := isChip(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		// only happens if the device is removed or locked since the
		// isChip call.
		return nil, err
	}
	ci, err := uapi.GetChipInfo(f.Fd())
	if err != nil {
		f.Close()
		return nil, newIoctlError(IoctlChipInfo, err)
	}
	c := Chip{
		f:     f,
		Name:  uapi.BytesToString(ci.Name[:]),
		Label: uapi.BytesToString(ci.Label[:]),
		lines: int(ci.Lines),
	}
	if len(c.Label) == 0 {
		c.Label = "unknown"
	}
	return &c, nil
}

// Close releases the Chip.
//
// Handles requested from the chip remain valid after it is closed - the
// kernel associates them with the chip driver, not the chip fd - and
// must be closed independently.
func (c *Chip) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if c.iw != nil {
		c.iw.close()
	}
	return c.f.Close()
}

// NumLines returns the number of lines on the chip.
func (c *Chip) NumLines() int {
	return c.lines
}

// LineInfo returns the publicly available information for the line.
//
// The info is queried from the kernel on every call, never cached, as
// another process can request or release the line at any time.
func (c *Chip) LineInfo(offset int) (info LineInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		err = ErrClosed
		return
	}
	if offset < 0 || offset >= c.lines {
		err = ErrInvalidOffset
		return
	}
	li, err := uapi.GetLineInfo(c.f.Fd(), offset)
	if err != nil {
		err = newIoctlError(IoctlLineInfo, err)
		return
	}
	return newLineInfo(li), nil
}

// Line returns a reference to the line at the given offset.
//
// The reference borrows the chip fd for info queries and requests, so
// must not be used after the chip is closed.
func (c *Chip) Line(offset int) (*Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if offset < 0 || offset >= c.lines {
		return nil, ErrInvalidOffset
	}
	return &Line{chip: c, offset: offset}, nil
}

// Lines returns a reference to the collection of lines at the given
// offsets.
//
// The offsets must be distinct and within range for the chip - the
// kernel does not support repeating an offset within one request.
func (c *Chip) Lines(offsets ...int) (*Lines, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if len(offsets) == 0 {
		return nil, InvalidArgumentError{Reason: "no offsets"}
	}
	if len(offsets) > uapi.HandlesMax {
		return nil, InvalidArgumentError{
			Reason: fmt.Sprintf("at most %d lines per request", uapi.HandlesMax)}
	}
	seen := make(map[int]bool, len(offsets))
	for _, o := range offsets {
		if o < 0 || o >= c.lines || seen[o] {
			return nil, ErrInvalidOffset
		}
		seen[o] = true
	}
	return &Lines{chip: c, offsets: append([]int(nil), offsets...)}, nil
}

// AllLines returns a reference to the collection of all lines on the
// chip, in offset order.
func (c *Chip) AllLines() (*Lines, error) {
	offsets := make([]int, c.lines)
	for i := range offsets {
		offsets[i] = i
	}
	return c.Lines(offsets...)
}

// LineDirection indicates the direction of a line.
type LineDirection int

const (
	// LineDirectionInput indicates the line is an input.
	LineDirectionInput LineDirection = iota

	// LineDirectionOutput indicates the line is an output.
	LineDirectionOutput
)

// LineDrive indicates the drive of an output line.
type LineDrive int

const (
	// LineDrivePushPull indicates the line is driven in both directions.
	LineDrivePushPull LineDrive = iota

	// LineDriveOpenDrain indicates the line is an open drain output.
	LineDriveOpenDrain

	// LineDriveOpenSource indicates the line is an open source output.
	LineDriveOpenSource
)

// LineBias indicates the bias applied to a line.
type LineBias int

const (
	// LineBiasUnknown indicates the line bias is unknown.
	LineBiasUnknown LineBias = iota

	// LineBiasDisabled indicates the line bias is disabled.
	LineBiasDisabled

	// LineBiasPullUp indicates the line has pull-up enabled.
	LineBiasPullUp

	// LineBiasPullDown indicates the line has pull-down enabled.
	LineBiasPullDown
)

// LineInfo is a snapshot of the publicly available information for a
// line, captured at the time of the query.
type LineInfo struct {
	// The line offset within the chip.
	Offset int

	// The system name for the line.
	Name string

	// A string identifying the current holder of the line, if held.
	Consumer string

	// The line is in use, by the kernel or by a request.
	Used bool

	// The line active state corresponds to a physical low.
	ActiveLow bool

	// The line direction.
	Direction LineDirection

	// The line drive, for outputs.
	Drive LineDrive

	// The line bias.
	Bias LineBias
}

func newLineInfo(li uapi.LineInfo) LineInfo {
	info := LineInfo{
		Offset:    int(li.Offset),
		Name:      uapi.BytesToString(li.Name[:]),
		Consumer:  uapi.BytesToString(li.Consumer[:]),
		Used:      li.Flags.IsUsed(),
		ActiveLow: li.Flags.IsActiveLow(),
	}
	if li.Flags.IsOut() {
		info.Direction = LineDirectionOutput
		if li.Flags.IsOpenDrain() {
			info.Drive = LineDriveOpenDrain
		} else if li.Flags.IsOpenSource() {
			info.Drive = LineDriveOpenSource
		}
	}
	if li.Flags.IsPullUp() {
		info.Bias = LineBiasPullUp
	} else if li.Flags.IsPullDown() {
		info.Bias = LineBiasPullDown
	} else if li.Flags.IsBiasDisable() {
		info.Bias = LineBiasDisabled
	}
	return info
}

// LineInfoChangeEvent represents a change in the info of a line.
type LineInfoChangeEvent struct {
	// Info is the updated line info.
	Info LineInfo

	// Timestamp indicates the time the change was detected.
	//
	// The timestamp is intended for measuring intervals between events,
	// and is not guaranteed to be based on a particular clock.
	Timestamp time.Duration

	// The type of change.
	Type LineInfoChangeType
}

// LineInfoChangeType indicates the type of change to the line info.
type LineInfoChangeType int

const (
	_ LineInfoChangeType = iota

	// LineRequested indicates the line has been requested.
	LineRequested

	// LineReleased indicates the line has been released.
	LineReleased

	// LineReconfigured indicates the line configuration has changed.
	LineReconfigured
)

// InfoChangeHandler is a receiver for line info change events.
type InfoChangeHandler func(LineInfoChangeEvent)

// creates the iw and ich
//
// Assumes c is locked.
func (c *Chip) createInfoWatcher() error {
	iw, err := newInfoWatcher(int(c.f.Fd()),
		func(lic LineInfoChangeEvent) {
			c.mu.Lock()
			ich := c.ich[lic.Info.Offset]
			c.mu.Unlock() // handler called outside lock
			if ich != nil {
				ich(lic)
			}
		})
	if err != nil {
		return err
	}
	c.iw = iw
	c.ich = map[int]InfoChangeHandler{}
	return nil
}

// WatchLineInfo enables watching changes to the info of the line.
//
// Changes are reported via the handler. Repeated calls replace the
// handler for the offset.
//
// Requires Linux v5.7 or later.
func (c *Chip) WatchLineInfo(offset int, lich InfoChangeHandler) (info LineInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		err = ErrClosed
		return
	}
	if offset < 0 || offset >= c.lines {
		err = ErrInvalidOffset
		return
	}
	if c.iw == nil {
		if err = c.createInfoWatcher(); err != nil {
			return
		}
	}
	li := uapi.LineInfo{Offset: uint32(offset)}
	if err = uapi.WatchLineInfo(c.f.Fd(), &li); err != nil {
		err = newIoctlError(IoctlWatchLineInfo, err)
		return
	}
	c.ich[offset] = lich
	return newLineInfo(li), nil
}

// UnwatchLineInfo disables watching changes to the info of the line.
//
// Requires Linux v5.7 or later.
func (c *Chip) UnwatchLineInfo(offset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.ich, offset)
	return newIoctlError(IoctlUnwatchLineInfo, uapi.UnwatchLineInfo(c.f.Fd(), uint32(offset)))
}

// isChip checks that the named device is an accessible GPIO character
// device.
func isChip(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return ErrNotCharacterDevice
	}
	sysfspath := fmt.Sprintf("/sys/bus/gpio/devices/%s/dev", fi.Name())
	sysfsf, err := os.Open(sysfspath)
	if err != nil {
		return ErrNotCharacterDevice
	}
	var sysfsdev [16]byte
	n, err := sysfsf.Read(sysfsdev[:])
	sysfsf.Close()
	if err != nil || n <= 0 {
		return ErrNotCharacterDevice
	}
	var stat unix.Stat_t
	if err = unix.Lstat(path, &stat); err != nil {
		return err
	}
	devstr := fmt.Sprintf("%d:%d", unix.Major(uint64(stat.Rdev)), unix.Minor(uint64(stat.Rdev)))
	sysstr := string(sysfsdev[:n-1])
	if devstr != sysstr {
		return ErrNotCharacterDevice
	}
	return nil
}
