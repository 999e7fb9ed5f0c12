// SPDX-License-Identifier: MIT
//
// Copyright © 2018 The gpio-cdev Project Developers.

//go:build mips || mipsle || mips64 || mips64le || ppc64 || ppc64le || sparc64
// +build mips mipsle mips64 mips64le ppc64 ppc64le sparc64

package uapi

// ioctl encoding constants
const (
	iocNRBits    = 8
	iocTypeBits  = 8
	iocSizeBits  = 13
	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
	iocWrite     = 4
	iocRead      = 2
)
