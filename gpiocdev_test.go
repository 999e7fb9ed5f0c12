// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	gpiocdev "github.com/rust-embedded/gpio-cdev"
	"github.com/rust-embedded/gpio-cdev/mockup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var mock *mockup.Mockup

func TestMain(m *testing.M) {
	mock, _ = mockup.New([]int{4, 8}, false)
	rc := m.Run()
	if mock != nil {
		mock.Close()
	}
	os.Exit(rc)
}

// mockupChip skips the test if the gpio-mockup module could not be
// loaded, e.g. when not running as root.
func mockupChip(t *testing.T, num int) *mockup.Chip {
	t.Helper()
	if mock == nil {
		t.Skip("gpio-mockup unavailable")
	}
	c, err := mock.Chip(num)
	require.Nil(t, err)
	return c
}

func getChip(t *testing.T, num int) (*gpiocdev.Chip, *mockup.Chip) {
	t.Helper()
	mc := mockupChip(t, num)
	c, err := gpiocdev.OpenChip(mc.DevPath)
	require.Nil(t, err)
	require.NotNil(t, c)
	t.Cleanup(func() { c.Close() })
	return c, mc
}

func TestOpenChip(t *testing.T) {
	// nonexistent
	c, err := gpiocdev.OpenChip("/dev/gpiochip48965")
	assert.NotNil(t, err)
	assert.Nil(t, c)

	// not a gpio device
	c, err = gpiocdev.OpenChip("/dev/null")
	assert.Equal(t, gpiocdev.ErrNotCharacterDevice, err)
	assert.Nil(t, c)

	f, err := os.CreateTemp("", "gpiocdev-test-")
	require.Nil(t, err)
	f.Close()
	defer os.Remove(f.Name())
	c, err = gpiocdev.OpenChip(f.Name())
	assert.Equal(t, gpiocdev.ErrNotCharacterDevice, err)
	assert.Nil(t, c)

	mc := mockupChip(t, 0)
	c, err = gpiocdev.OpenChip(mc.DevPath)
	require.Nil(t, err)
	require.NotNil(t, c)
	assert.Equal(t, mc.Name, c.Name)
	assert.Equal(t, mc.Label, c.Label)
	assert.Equal(t, mc.Lines, c.NumLines())
	assert.Nil(t, c.Close())
	assert.Equal(t, gpiocdev.ErrClosed, c.Close())
}

func TestChipLineInfo(t *testing.T) {
	c, _ := getChip(t, 0)

	// out of range
	_, err := c.LineInfo(c.NumLines())
	assert.Equal(t, gpiocdev.ErrInvalidOffset, err)
	_, err = c.LineInfo(-1)
	assert.Equal(t, gpiocdev.ErrInvalidOffset, err)

	// unrequested line
	info, err := c.LineInfo(1)
	require.Nil(t, err)
	assert.Equal(t, 1, info.Offset)
	assert.Equal(t, "", info.Consumer)
	assert.False(t, info.Used)
	assert.Equal(t, gpiocdev.LineDirectionInput, info.Direction)

	// requested line reflects the request
	l, err := c.Line(1)
	require.Nil(t, err)
	h, err := l.Request(gpiocdev.RequestOutput|gpiocdev.RequestActiveLow, 0, "TestChipLineInfo")
	require.Nil(t, err)
	info, err = c.LineInfo(1)
	require.Nil(t, err)
	assert.True(t, info.Used)
	assert.True(t, info.ActiveLow)
	assert.Equal(t, "TestChipLineInfo", info.Consumer)
	assert.Equal(t, gpiocdev.LineDirectionOutput, info.Direction)
	assert.Nil(t, h.Close())

	// released again
	info, err = c.LineInfo(1)
	require.Nil(t, err)
	assert.False(t, info.Used)

	// closed chip
	require.Nil(t, c.Close())
	_, err = c.LineInfo(1)
	assert.Equal(t, gpiocdev.ErrClosed, err)
}

func TestChipLines(t *testing.T) {
	c, _ := getChip(t, 1)

	_, err := c.Lines()
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	_, err = c.Lines(1, 3, 1)
	assert.Equal(t, gpiocdev.ErrInvalidOffset, err)

	_, err = c.Lines(1, c.NumLines())
	assert.Equal(t, gpiocdev.ErrInvalidOffset, err)

	ll, err := c.Lines(3, 1, 4)
	require.Nil(t, err)
	assert.Equal(t, []int{3, 1, 4}, ll.Offsets())

	ll, err = c.AllLines()
	require.Nil(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, ll.Offsets())

	require.Nil(t, c.Close())
	_, err = c.Lines(1, 2)
	assert.Equal(t, gpiocdev.ErrClosed, err)
}

func TestLineRequest(t *testing.T) {
	c, _ := getChip(t, 0)
	l, err := c.Line(2)
	require.Nil(t, err)

	// conflicting flags rejected before reaching the kernel
	_, err = l.Request(gpiocdev.RequestInput|gpiocdev.RequestOutput, 0, "")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)
	_, err = l.Request(gpiocdev.RequestInput|gpiocdev.RequestOpenDrain, 0, "")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	// oversized consumer label rejected, not truncated
	_, err = l.Request(gpiocdev.RequestInput, 0, strings.Repeat("x", 32))
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	h, err := l.Request(gpiocdev.RequestInput, 0, "TestLineRequest")
	require.Nil(t, err)
	assert.Equal(t, 2, h.Offset())
	assert.Equal(t, gpiocdev.RequestInput, h.Flags())

	// busy while held
	_, err = l.Request(gpiocdev.RequestInput, 0, "TestLineRequest")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, unix.EBUSY))
	var ie gpiocdev.IoctlError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, gpiocdev.IoctlLineHandle, ie.Kind)

	require.Nil(t, h.Close())
	assert.Equal(t, gpiocdev.ErrClosed, h.Close())

	// free once released
	h, err = l.Request(gpiocdev.RequestInput, 0, "TestLineRequest")
	require.Nil(t, err)
	assert.Nil(t, h.Close())
}

func TestLineValue(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(0)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(0, 0))
	h, err := l.Request(gpiocdev.RequestInput, 0, "TestLineValue")
	require.Nil(t, err)
	defer h.Close()

	v, err := h.Value()
	require.Nil(t, err)
	assert.Equal(t, 0, v)

	require.Nil(t, mc.SetValue(0, 1))
	v, err = h.Value()
	require.Nil(t, err)
	assert.Equal(t, 1, v)
}

func TestLineValueActiveLow(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(1)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(1, 1))
	h, err := l.Request(gpiocdev.RequestInput|gpiocdev.RequestActiveLow, 0, "TestLineValueActiveLow")
	require.Nil(t, err)
	defer h.Close()

	v, err := h.Value()
	require.Nil(t, err)
	assert.Equal(t, 0, v)

	require.Nil(t, mc.SetValue(1, 0))
	v, err = h.Value()
	require.Nil(t, err)
	assert.Equal(t, 1, v)
}

func TestLineSetValue(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(3)
	require.Nil(t, err)

	h, err := l.Request(gpiocdev.RequestOutput, 1, "TestLineSetValue")
	require.Nil(t, err)
	defer h.Close()

	// default value applied at request time
	v, err := mc.Value(3)
	require.Nil(t, err)
	assert.Equal(t, 1, v)

	require.Nil(t, h.SetValue(0))
	v, err = mc.Value(3)
	require.Nil(t, err)
	assert.Equal(t, 0, v)

	require.Nil(t, h.SetValue(1))
	v, err = mc.Value(3)
	require.Nil(t, err)
	assert.Equal(t, 1, v)
}

func TestLineSetValueInput(t *testing.T) {
	c, _ := getChip(t, 0)
	l, err := c.Line(2)
	require.Nil(t, err)

	h, err := l.Request(gpiocdev.RequestInput, 0, "TestLineSetValueInput")
	require.Nil(t, err)
	defer h.Close()

	err = h.SetValue(1)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, unix.EPERM))
}

func TestLinesRequest(t *testing.T) {
	c, mc := getChip(t, 1)
	ll, err := c.Lines(0, 2, 5)
	require.Nil(t, err)

	// output defaults must match the number of lines
	_, err = ll.Request(gpiocdev.RequestOutput, []int{1, 0}, "TestLinesRequest")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	// defaults are meaningless for inputs
	_, err = ll.Request(gpiocdev.RequestInput, []int{1, 0, 1}, "TestLinesRequest")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	h, err := ll.Request(gpiocdev.RequestOutput, []int{1, 0, 1}, "TestLinesRequest")
	require.Nil(t, err)
	defer h.Close()
	assert.Equal(t, []int{0, 2, 5}, h.Offsets())

	for i, o := range []int{0, 2, 5} {
		v, err := mc.Value(o)
		require.Nil(t, err)
		assert.Equal(t, []int{1, 0, 1}[i], v, "line %d", o)
	}

	// all held by the one descriptor
	l, err := c.Line(2)
	require.Nil(t, err)
	_, err = l.Request(gpiocdev.RequestInput, 0, "TestLinesRequest")
	assert.True(t, errors.Is(err, unix.EBUSY))
}

func TestLinesValues(t *testing.T) {
	c, mc := getChip(t, 1)
	ll, err := c.Lines(1, 3, 6)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(1, 1))
	require.Nil(t, mc.SetValue(3, 0))
	require.Nil(t, mc.SetValue(6, 1))

	h, err := ll.Request(gpiocdev.RequestInput, nil, "TestLinesValues")
	require.Nil(t, err)
	defer h.Close()

	vv, err := h.Values()
	require.Nil(t, err)
	assert.Equal(t, []int{1, 0, 1}, vv)

	require.Nil(t, mc.SetValue(3, 1))
	vv, err = h.Values()
	require.Nil(t, err)
	assert.Equal(t, []int{1, 1, 1}, vv)
}

func TestLinesSetValues(t *testing.T) {
	c, mc := getChip(t, 1)
	ll, err := c.Lines(4, 7)
	require.Nil(t, err)

	h, err := ll.Request(gpiocdev.RequestOutput, []int{0, 0}, "TestLinesSetValues")
	require.Nil(t, err)
	defer h.Close()

	err = h.SetValues([]int{1})
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)
	err = h.SetValues([]int{1, 0, 1})
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	require.Nil(t, h.SetValues([]int{1, 0}))
	v, err := mc.Value(4)
	require.Nil(t, err)
	assert.Equal(t, 1, v)
	v, err = mc.Value(7)
	require.Nil(t, err)
	assert.Equal(t, 0, v)

	require.Nil(t, h.SetValues([]int{0, 1}))
	vv, err := h.Values()
	require.Nil(t, err)
	assert.Equal(t, []int{0, 1}, vv)
}

func TestRequestEvents(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(0)
	require.Nil(t, err)

	// output cannot monitor edges
	_, err = l.RequestEvents(gpiocdev.RequestOutput, gpiocdev.BothEdges, "TestRequestEvents")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	// at least one edge must be selected
	_, err = l.RequestEvents(gpiocdev.RequestInput, 0, "TestRequestEvents")
	assert.IsType(t, gpiocdev.InvalidArgumentError{}, err)

	require.Nil(t, mc.SetValue(0, 0))
	h, err := l.RequestEvents(gpiocdev.RequestInput, gpiocdev.BothEdges, "TestRequestEvents")
	require.Nil(t, err)
	assert.Equal(t, 0, h.Offset())
	assert.Equal(t, gpiocdev.BothEdges, h.EventFlags())

	// the line is held like any other request
	_, err = l.Request(gpiocdev.RequestInput, 0, "TestRequestEvents")
	assert.True(t, errors.Is(err, unix.EBUSY))

	// the value remains readable while monitoring
	v, err := h.Value()
	require.Nil(t, err)
	assert.Equal(t, 0, v)

	require.Nil(t, h.Close())
	assert.Equal(t, gpiocdev.ErrClosed, h.Close())
	_, err = h.NextEvent()
	assert.Equal(t, gpiocdev.ErrClosed, err)
}

func TestNextEvent(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(1)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(1, 0))
	h, err := l.RequestEvents(gpiocdev.RequestInput, gpiocdev.BothEdges, "TestNextEvent")
	require.Nil(t, err)
	defer h.Close()

	// queue a rising and a falling edge, then drain in order
	require.Nil(t, mc.SetValue(1, 1))
	require.Nil(t, mc.SetValue(1, 0))

	evt, err := h.NextEvent()
	require.Nil(t, err)
	assert.Equal(t, gpiocdev.LineEventRisingEdge, evt.Type)
	assert.NotZero(t, evt.Timestamp)

	evt2, err := h.NextEvent()
	require.Nil(t, err)
	assert.Equal(t, gpiocdev.LineEventFallingEdge, evt2.Type)
	assert.GreaterOrEqual(t, int64(evt2.Timestamp), int64(evt.Timestamp))
}

func TestNextEventFallingOnly(t *testing.T) {
	c, mc := getChip(t, 0)
	l, err := c.Line(2)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(2, 0))
	h, err := l.RequestEvents(gpiocdev.RequestInput, gpiocdev.FallingEdge, "TestNextEventFallingOnly")
	require.Nil(t, err)
	defer h.Close()

	// the rising edge is filtered by the kernel
	require.Nil(t, mc.SetValue(2, 1))
	require.Nil(t, mc.SetValue(2, 0))

	evt, err := h.NextEvent()
	require.Nil(t, err)
	assert.Equal(t, gpiocdev.LineEventFallingEdge, evt.Type)
}

func TestEventStream(t *testing.T) {
	c, mc := getChip(t, 1)
	l, err := c.Line(3)
	require.Nil(t, err)

	require.Nil(t, mc.SetValue(3, 0))
	h, err := l.RequestEvents(gpiocdev.RequestInput, gpiocdev.BothEdges, "TestEventStream")
	require.Nil(t, err)
	defer h.Close()

	s, err := h.Stream()
	require.Nil(t, err)

	// nothing pending - the wait respects the context
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = s.Next(ctx)
	cancel()
	assert.Equal(t, context.DeadlineExceeded, err)

	require.Nil(t, mc.SetValue(3, 1))
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	evt, err := s.Next(ctx)
	cancel()
	require.Nil(t, err)
	assert.Equal(t, gpiocdev.LineEventRisingEdge, evt.Type)

	require.Nil(t, mc.SetValue(3, 0))
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	evt, err = s.Next(ctx)
	cancel()
	require.Nil(t, err)
	assert.Equal(t, gpiocdev.LineEventFallingEdge, evt.Type)

	require.Nil(t, s.Close())
	assert.Equal(t, gpiocdev.ErrClosed, s.Close())
	_, err = s.Next(context.Background())
	assert.Equal(t, gpiocdev.ErrClosed, err)

	// the handle survives the stream
	v, err := h.Value()
	require.Nil(t, err)
	assert.Equal(t, 0, v)
}

func TestEventStreamClosedHandle(t *testing.T) {
	c, _ := getChip(t, 1)
	l, err := c.Line(5)
	require.Nil(t, err)

	h, err := l.RequestEvents(gpiocdev.RequestInput, gpiocdev.RisingEdge, "TestEventStreamClosedHandle")
	require.Nil(t, err)
	require.Nil(t, h.Close())

	_, err = h.Stream()
	assert.Equal(t, gpiocdev.ErrClosed, err)
}

func TestWatchLineInfo(t *testing.T) {
	c, _ := getChip(t, 1)
	if err := mockup.CheckKernelVersion(mockup.Semver{5, 7}); err != nil {
		t.Skip(err)
	}

	ich := make(chan gpiocdev.LineInfoChangeEvent, 3)
	info, err := c.WatchLineInfo(6, func(evt gpiocdev.LineInfoChangeEvent) {
		ich <- evt
	})
	require.Nil(t, err)
	assert.Equal(t, 6, info.Offset)

	l, err := c.Line(6)
	require.Nil(t, err)
	h, err := l.Request(gpiocdev.RequestInput, 0, "TestWatchLineInfo")
	require.Nil(t, err)

	select {
	case evt := <-ich:
		assert.Equal(t, gpiocdev.LineRequested, evt.Type)
		assert.Equal(t, 6, evt.Info.Offset)
		assert.Equal(t, "TestWatchLineInfo", evt.Info.Consumer)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	require.Nil(t, h.Close())
	select {
	case evt := <-ich:
		assert.Equal(t, gpiocdev.LineReleased, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	require.Nil(t, c.UnwatchLineInfo(6))
}
