// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build linux
// +build linux

// Package mockup provides mocked GPIO chips using the Linux gpio-mockup
// kernel module.
//
// It is intended for testing gpiocdev, but can be used to test any
// code built on the GPIO character device. Only one Mockup can exist
// on a system at a time, and creating one unloads any existing
// gpio-mockup setup.
package mockup

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mockup represents a set of mocked GPIO chips.
type Mockup struct {
	mu sync.Mutex
	cc []Chip
}

// Chip represents a single mocked GPIO chip.
type Chip struct {
	Name      string
	Label     string
	Lines     int
	DevPath   string
	DbgfsPath string
}

// New creates a Mockup with one mocked chip per entry in lines, each
// with the given number of lines. e.g. []int{4,6} mocks two chips, the
// first with 4 lines and the second with 6.
//
// Requires the gpio-mockup module and Linux v5.1 or later.
func New(lines []int, namedLines bool) (*Mockup, error) {
	if len(lines) == 0 {
		return nil, unix.EINVAL
	}
	if err := IsSupported(); err != nil {
		return nil, err
	}
	// remove any pre-existing mockup setup
	exec.Command("rmmod", "gpio-mockup").Run()

	args := []string{"gpio-mockup"}
	if namedLines {
		args = append(args, "gpio_mockup_named_lines")
	}
	rangesArg := "gpio_mockup_ranges="
	for _, l := range lines {
		rangesArg += fmt.Sprintf("-1,%d,", l)
	}
	args = append(args, rangesArg[:len(rangesArg)-1])

	um, err := newUdevMonitor()
	if err != nil {
		return nil, errors.Wrap(err, "failed to start udev monitor")
	}
	defer um.Close()

	err = exec.Command("modprobe", args...).Run()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load gpio-mockup")
	}
	if err = unix.Access("/sys/kernel/debug/gpio-mockup", unix.R_OK|unix.W_OK); err != nil {
		return nil, errors.Wrap(err, "cannot access gpio-mockup debugfs")
	}
	cc, err := um.Chips(lines)
	if err != nil {
		return nil, err
	}
	return &Mockup{cc: cc}, nil
}

// Chip returns the mocked chip indicated by num.
func (m *Mockup) Chip(num int) (*Chip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if num < 0 || num >= len(m.cc) {
		return nil, ErrorIndexRange{num, len(m.cc)}
	}
	return &m.cc[num], nil
}

// Chips returns the number of chips mocked.
func (m *Mockup) Chips() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cc)
}

// Close releases all resources held by the Mockup and unloads the
// gpio-mockup module.
func (m *Mockup) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cc = []Chip{}
	return exec.Command("rmmod", "gpio-mockup").Run()
}

// Value returns the physical level of the line.
func (c *Chip) Value(line int) (int, error) {
	if line < 0 || line >= c.Lines {
		return 0, ErrorIndexRange{line, c.Lines}
	}
	path := fmt.Sprintf("%s%d", c.DbgfsPath, line)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	v := []byte{0}
	if _, err = f.Read(v); err != nil {
		return 0, err
	}
	if v[0] == '1' {
		return 1, nil
	}
	return 0, nil
}

// SetValue sets the pull level of the line.
//
// For an input this is the physical level observed on the line, so
// toggling the pull simulates an externally driven edge.
func (c *Chip) SetValue(line int, value int) error {
	if line < 0 || line >= c.Lines {
		return ErrorIndexRange{line, c.Lines}
	}
	path := fmt.Sprintf("%s%d", c.DbgfsPath, line)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	v := []byte{'0'}
	if value != 0 {
		v[0] = '1'
	}
	_, err = f.Write(v)
	return err
}

// IsSupported returns an error if the mockup cannot run on this
// platform.
func IsSupported() error {
	return CheckKernelVersion(Semver{5, 1})
}

// KernelVersion returns the running kernel version.
func KernelVersion() ([]byte, error) {
	release, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return nil, err
	}
	r := regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	vers := r.FindStringSubmatch(string(release))
	if len(vers) != 4 {
		return nil, errors.Errorf("can't parse uname: %s", release)
	}
	v := []byte{0, 0, 0}
	for i, vf := range vers[1:] {
		vfi, err := strconv.ParseUint(vf, 10, 64)
		if err != nil {
			return nil, err
		}
		v[i] = byte(vfi)
	}
	return v, nil
}

// CheckKernelVersion returns an error if the kernel version is less
// than min.
func CheckKernelVersion(min Semver) error {
	kv, err := KernelVersion()
	if err != nil {
		return err
	}
	if bytes.Compare(kv, min[:]) < 1 {
		return ErrorBadVersion{Need: min, Have: kv}
	}
	return nil
}

// Semver is a 3 part version, Major, Minor, Patch.
type Semver []byte

func (v Semver) String() string {
	if len(v) == 0 {
		return ""
	}
	vstr := fmt.Sprintf("%d", v[0])
	for i := 1; i < len(v); i++ {
		vstr += fmt.Sprintf(".%d", v[i])
	}
	return vstr
}

// ErrorIndexRange indicates the requested index is out of range.
type ErrorIndexRange struct {
	Req   int
	Limit int
}

func (e ErrorIndexRange) Error() string {
	return fmt.Sprintf("index out of range - got %d, limit is %d", e.Req, e.Limit)
}

// ErrorBadVersion indicates the kernel version is insufficient.
type ErrorBadVersion struct {
	Need Semver
	Have Semver
}

func (e ErrorBadVersion) Error() string {
	return fmt.Sprintf("require kernel %s or later, but running %s", e.Need, e.Have)
}
