package tcpinfox

import (
	"unsafe"

	"github.com/m-lab/tcp-info/tcp"
	"golang.org/x/sys/unix"
)

func getTCPInfo(fd uintptr) (*tcp.LinuxTCPInfo, error) {
	info := &tcp.LinuxTCPInfo{}
	size := uint32(unsafe.Sizeof(*info))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, fd,
		uintptr(unix.SOL_TCP), uintptr(unix.TCP_INFO),
		uintptr(unsafe.Pointer(info)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return nil, errno
	}
	return info, nil
}
