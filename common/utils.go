package common

import (
	"bytes"
	"encoding/binary"

	"github.com/hashicorp/go-version"
	"github.com/zcalusic/sysinfo"
	"golang.org/x/sys/unix"
)

// KInt bounds the integer types the little-endian byte helpers below accept.
type KInt interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | int | uint
}

func IntToBytes[T KInt](n T) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, n)
	return buf.Bytes()
}

func BytesToInt[T KInt](byteArray []byte) T {
	var n T
	buf := bytes.NewReader(byteArray)
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return 0
	}
	return n
}

// GetKernelVersion reads the running kernel release (e.g. "5.15.0-72-generic")
// and parses it into a comparable version. It returns nil if the release
// does not parse. Nothing in this engine currently calls it.
func GetKernelVersion() *version.Version {
	var si sysinfo.SysInfo
	si.GetSysInfo()
	release := si.Kernel.Release
	v, err := version.NewVersion(release)
	if err != nil {
		DefaultLog.Warningf("parse kernel version failed: %v", err)
		return nil
	}
	return v
}

// UnameRelease returns the kernel release string straight from uname(2),
// used by the kernel-config probe when /proc/config.gz needs a release
// suffix to find the matching /boot/config-<release> file.
func UnameRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Release[:]), nil
}

// UnameMachine returns the hardware platform (e.g. "x86_64", "aarch64")
// from uname(2). Nothing in this engine currently calls it.
func UnameMachine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Machine[:]), nil
}

func charsToString(ca []byte) string {
	n := bytes.IndexByte(ca, 0)
	if n < 0 {
		n = len(ca)
	}
	return string(ca[:n])
}
