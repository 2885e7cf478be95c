//go:build !linux
// +build !linux

package congestion

import "github.com/m-lab/tcp-info/inetdiag"

func set(uintptr, string) error {
	return ErrNoSupport
}

func get(uintptr) (string, error) {
	return "", ErrNoSupport
}

func getBBRInfo(uintptr) (inetdiag.BBRInfo, error) {
	return inetdiag.BBRInfo{}, ErrNoSupport
}
