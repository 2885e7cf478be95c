package netx

import (
	"errors"
	"net"
	"syscall"
)

// ErrNotTCP is returned for connections that do not expose a raw socket.
var ErrNotTCP = errors.New("connection does not expose a raw socket")

// Control runs f with the connection's file descriptor. The descriptor is
// only valid for the duration of f.
func Control(conn net.Conn, f func(fd uintptr)) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return ErrNotTCP
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(f)
}

// ToTCPConn returns the *net.TCPConn underlying conn, if any.
func ToTCPConn(conn net.Conn) (*net.TCPConn, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, ErrNotTCP
	}
	return tc, nil
}
