// Package congestion selects and inspects the congestion control algorithm
// of a TCP connection.
package congestion

import (
	"errors"
	"net"

	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/robertodauria/speedcheck/internal/netx"
)

// ErrNoSupport is returned on platforms where the operation is unavailable.
var ErrNoSupport = errors.New("congestion control not supported on this platform")

// Set sets the congestion control algorithm of conn.
func Set(conn net.Conn, cc string) error {
	var serr error
	err := netx.Control(conn, func(fd uintptr) {
		serr = set(fd, cc)
	})
	if err != nil {
		return err
	}
	return serr
}

// Get returns the congestion control algorithm of conn.
func Get(conn net.Conn) (string, error) {
	var (
		cc   string
		gerr error
	)
	err := netx.Control(conn, func(fd uintptr) {
		cc, gerr = get(fd)
	})
	if err != nil {
		return "", err
	}
	return cc, gerr
}

// GetBBRInfo returns the BBR state of conn. It fails unless conn uses BBR.
func GetBBRInfo(conn net.Conn) (inetdiag.BBRInfo, error) {
	var (
		info inetdiag.BBRInfo
		gerr error
	)
	err := netx.Control(conn, func(fd uintptr) {
		info, gerr = getBBRInfo(fd)
	})
	if err != nil {
		return inetdiag.BBRInfo{}, err
	}
	return info, gerr
}
