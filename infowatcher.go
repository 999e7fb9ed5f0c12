// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package gpiocdev

import (
	"time"

	"github.com/rust-embedded/gpio-cdev/uapi"
	"golang.org/x/sys/unix"
)

// infoWatcher waits on the chip fd for line info changed records and
// passes them to the handler.
type infoWatcher struct {
	epfd int

	// eventfd to signal the watcher to shutdown
	donefd int

	// the handler for detected changes
	ch InfoChangeHandler

	// closed once the watcher exits
	doneCh chan struct{}
}

func newInfoWatcher(fd int, ch InfoChangeHandler) (iw *infoWatcher, err error) {
	var epfd, donefd int
	epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			unix.Close(epfd)
		}
	}()
	donefd, err = unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			unix.Close(donefd)
		}
	}()
	epv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(donefd)}
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, donefd, &epv)
	if err != nil {
		return
	}
	epv.Fd = int32(fd)
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &epv)
	if err != nil {
		return
	}
	iw = &infoWatcher{
		epfd:   epfd,
		donefd: donefd,
		ch:     ch,
		doneCh: make(chan struct{}),
	}
	go iw.watch()
	return
}

func (iw *infoWatcher) close() {
	unix.Write(iw.donefd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	<-iw.doneCh
	unix.Close(iw.donefd)
}

func (iw *infoWatcher) watch() {
	epollEvents := make([]unix.EpollEvent, 2)
	defer close(iw.doneCh)
	for {
		n, err := unix.EpollWait(iw.epfd, epollEvents[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// epfd closed underneath us
			return
		}
		for i := 0; i < n; i++ {
			ev := epollEvents[i]
			if ev.Fd == int32(iw.donefd) {
				unix.Close(iw.epfd)
				return
			}
			iw.readInfoChanged(ev.Fd)
		}
	}
}

func (iw *infoWatcher) readInfoChanged(fd int32) {
	lic, err := uapi.ReadLineInfoChanged(uintptr(fd))
	if err != nil {
		// undecodable record - drop it, subsequent records may be fine.
		return
	}
	iw.ch(LineInfoChangeEvent{
		Info:      newLineInfo(lic.Info),
		Timestamp: time.Duration(lic.Timestamp),
		Type:      LineInfoChangeType(lic.Type),
	})
}
