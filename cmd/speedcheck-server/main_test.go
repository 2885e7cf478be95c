package main

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:3000", true},
		{"http://LOCALHOST", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:3000", true},
		{"http://0.0.0.0:3000", true},
		{"https://speed.example.com", false},
		{"http://203.0.113.10:3000", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, isLoopback(tt.url), tt.want, tt.url)
	}
}
