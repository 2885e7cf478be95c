// Package tcpinfox reads TCP_INFO snapshots from live connections.
package tcpinfox

import (
	"errors"
	"net"

	"github.com/m-lab/tcp-info/tcp"
	"github.com/robertodauria/speedcheck/internal/netx"
)

// ErrNoSupport is returned on platforms without TCP_INFO.
var ErrNoSupport = errors.New("TCP_INFO not supported on this platform")

// GetTCPInfo returns the kernel's TCP_INFO for conn.
func GetTCPInfo(conn net.Conn) (*tcp.LinuxTCPInfo, error) {
	var (
		info *tcp.LinuxTCPInfo
		ierr error
	)
	err := netx.Control(conn, func(fd uintptr) {
		info, ierr = getTCPInfo(fd)
	})
	if err != nil {
		return nil, err
	}
	return info, ierr
}
