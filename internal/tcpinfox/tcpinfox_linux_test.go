package tcpinfox

import (
	"net"
	"testing"

	"github.com/m-lab/go/testingx"
	"gotest.tools/v3/assert"
)

func TestGetTCPInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	testingx.Must(t, err, "cannot listen")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	testingx.Must(t, err, "cannot dial")
	defer conn.Close()

	info, err := GetTCPInfo(conn)
	assert.NilError(t, err)
	assert.Assert(t, info != nil)
}

func TestGetTCPInfoNotTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := GetTCPInfo(a)
	assert.Assert(t, err != nil)
}
