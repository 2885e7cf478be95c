package congestion

import (
	"unsafe"

	"github.com/m-lab/tcp-info/inetdiag"
	"golang.org/x/sys/unix"
)

func set(fd uintptr, cc string) error {
	return unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, cc)
}

func get(fd uintptr) (string, error) {
	return unix.GetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION)
}

// tcp_bbr_info as laid out by the kernel.
type bbrInfo struct {
	bwLo       uint32
	bwHi       uint32
	minRTT     uint32
	pacingGain uint32
	cwndGain   uint32
}

func getBBRInfo(fd uintptr) (inetdiag.BBRInfo, error) {
	var raw bbrInfo
	size := uint32(unsafe.Sizeof(raw))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, fd,
		uintptr(unix.IPPROTO_TCP), uintptr(unix.TCP_CC_INFO),
		uintptr(unsafe.Pointer(&raw)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return inetdiag.BBRInfo{}, errno
	}
	if size != uint32(unsafe.Sizeof(raw)) {
		return inetdiag.BBRInfo{}, ErrNoSupport
	}
	return inetdiag.BBRInfo{
		BW:         int64(raw.bwHi)<<32 | int64(raw.bwLo),
		MinRTT:     raw.minRTT,
		PacingGain: raw.pacingGain,
		CwndGain:   raw.cwndGain,
	}, nil
}
