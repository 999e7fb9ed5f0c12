// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// EventStream adapts a LineEventHandle for cooperative, non-blocking
// consumption.
//
// The handle's descriptor is registered with an epoll instance serviced
// by a single goroutine, which decodes records only when the descriptor
// is readable and delivers them in kernel queue order - the same order
// the blocking NextEvent path observes.
//
// The stream borrows the descriptor, it does not own it. Closing the
// stream releases the readiness registration and leaves the handle
// open and usable, for Value, NextEvent, or another stream.
type EventStream struct {
	fd int

	epfd int

	// pipe used to wake the watch goroutine on Close.
	donefds []int

	// decoded records, in queue order. Unbuffered so no record is held
	// outside the kernel queue while no consumer is waiting.
	events chan streamItem

	// closed by Close to release a watch goroutine blocked on delivery.
	stop chan struct{}

	// closed once the watch goroutine exits.
	doneCh chan struct{}

	mu     sync.Mutex
	closed bool
}

type streamItem struct {
	evt LineEvent
	err error
}

// Stream returns an EventStream delivering the events of the handle.
//
// The stream reads from the same descriptor as NextEvent, so only one
// of the two consumption styles should be active at a time.
func (h *LineEventHandle) Stream() (*EventStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	return newEventStream(int(h.fd))
}

func newEventStream(fd int) (s *EventStream, err error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			unix.Close(epfd)
		}
	}()
	p := []int{0, 0}
	err = unix.Pipe2(p, unix.O_CLOEXEC)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
		}
	}()
	epv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p[0])}
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p[0], &epv)
	if err != nil {
		return nil, err
	}
	epv.Fd = int32(fd)
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &epv)
	if err != nil {
		return nil, err
	}
	s = &EventStream{
		fd:      fd,
		epfd:    epfd,
		donefds: p,
		events:  make(chan streamItem),
		stop:    make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// Next returns the next event from the stream, suspending the calling
// goroutine until an event is delivered, the context is done, or the
// stream is closed.
//
// Cancellation abandons only the wait - no partial record is read, the
// stream remains usable, and the underlying handle is untouched.
//
// Once the stream has delivered an error it is terminal - ProtocolError
// and ErrEventReadClosed indicate no further events will follow.
func (s *EventStream) Next(ctx context.Context) (LineEvent, error) {
	select {
	case it, ok := <-s.events:
		if !ok {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return LineEvent{}, ErrClosed
			}
			return LineEvent{}, ErrEventReadClosed
		}
		return it.evt, it.err
	case <-ctx.Done():
		return LineEvent{}, ctx.Err()
	}
}

// Close releases the stream's interest in the descriptor's readiness.
//
// The underlying handle is left open - closing it remains its owner's
// responsibility.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
	unix.Write(s.donefds[1], []byte("bye"))
	<-s.doneCh
	unix.Close(s.donefds[0])
	unix.Close(s.donefds[1])
	unix.Close(s.epfd)
	return nil
}

func (s *EventStream) watch() {
	defer close(s.doneCh)
	defer close(s.events)
	epollEvents := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(s.epfd, epollEvents[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// epfd closed underneath us
			return
		}
		for i := 0; i < n; i++ {
			if epollEvents[i].Fd == int32(s.donefds[0]) {
				return
			}
		}
		for i := 0; i < n; i++ {
			if epollEvents[i].Fd != int32(s.fd) {
				continue
			}
			evt, err := readEvent(uintptr(s.fd))
			if errors.Is(err, unix.EAGAIN) {
				// woken with nothing to read - wait again.
				continue
			}
			select {
			case s.events <- streamItem{evt: evt, err: err}:
			case <-s.stop:
				return
			}
			if err != nil {
				// errors are terminal for the stream.
				return
			}
		}
	}
}
