// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

package mockup

import (
	"fmt"
	"log"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/pilebones/go-udev/netlink"
)

// udevMonitor watches for the gpiochip device nodes created as the
// gpio-mockup module loads.
type udevMonitor struct {
	conn  *netlink.UEventConn
	queue chan netlink.UEvent
	quit  chan struct{}
}

func newUdevMonitor() (*udevMonitor, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, pkgerrors.Wrap(err, "unable to connect to netlink kobject uevent socket")
	}
	action := "add"
	matcher := &netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "gpio",
			"DEVPATH":   "/devices/platform/gpio-mockup\\.\\d+/gpiochip\\d+",
		},
	}
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, matcher)
	mon := udevMonitor{conn: conn, queue: queue, quit: quit}
	go func() {
		for {
			select {
			case err := <-errs:
				log.Printf("udev monitor error: %v", err)
			case <-quit:
				return
			}
		}
	}()
	return &mon, nil
}

// Chips collects the uevents for the mocked chips and maps them to
// their device and debugfs paths.
func (m *udevMonitor) Chips(lines []int) ([]Chip, error) {
	evts := make([]netlink.UEvent, len(lines))
	for i := range evts {
		select {
		case evts[i] = <-m.queue:
		case <-time.After(time.Second):
			return nil, pkgerrors.New("timeout waiting for udev events")
		}
	}
	sort.Slice(evts, func(i, j int) bool {
		return evts[i].Env["DEVNAME"] < evts[j].Env["DEVNAME"]
	})
	cc := make([]Chip, len(lines))
	for i, l := range lines {
		devpath := evts[i].Env["DEVNAME"]
		name := devpath[len("/dev/"):]
		var num int
		if _, err := fmt.Sscanf(name, "gpiochip%d", &num); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to parse chip num")
		}
		cc[i] = Chip{
			Name:      name,
			Label:     fmt.Sprintf("gpio-mockup-%c", 'A'+i),
			Lines:     l,
			DevPath:   devpath,
			DbgfsPath: fmt.Sprintf("/sys/kernel/debug/gpio-mockup/gpiochip%d/", num),
		}
	}
	return cc, nil
}

func (m *udevMonitor) Close() {
	m.quit <- struct{}{}
	m.conn.Close()
}
