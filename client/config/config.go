package config

import (
	"time"

	"github.com/robertodauria/speedcheck/pkg/speed/spec"
)

const (
	DefaultBaseURL     = "http://localhost:3000"
	DefaultSocketURL   = "ws://localhost:8080"
	DefaultTimeout     = 60 * time.Second
	DefaultUploadSize  = spec.DefaultUploadSize
	DefaultLatencyPath = spec.PingPath

	// DefaultSocketTimeout leaves room for every socket phase to use its
	// whole phase timeout.
	DefaultSocketTimeout = spec.MaxRuntime
)

type ClientConfig struct {
	// BaseURL is the server's HTTP base URL.
	BaseURL string

	// SocketURL is the URL of the socket test endpoint.
	SocketURL string

	// The Timeout of a single measurement.
	Timeout time.Duration

	// SocketTimeout bounds a whole socket session.
	SocketTimeout time.Duration

	// UploadSize is the size of the upload buffer, in bytes.
	UploadSize int

	// LatencyPath is the path requested to measure latency. Setting it to
	// spec.DownloadPath reproduces measuring latency with a bulk transfer.
	LatencyPath string
}

func New(baseURL, socketURL string, timeout time.Duration, uploadSize int, latencyPath string) *ClientConfig {
	return &ClientConfig{
		BaseURL:       baseURL,
		SocketURL:     socketURL,
		Timeout:       timeout,
		SocketTimeout: DefaultSocketTimeout,
		UploadSize:    uploadSize,
		LatencyPath:   latencyPath,
	}
}

func NewDefault() *ClientConfig {
	return New(DefaultBaseURL, DefaultSocketURL, DefaultTimeout, DefaultUploadSize, DefaultLatencyPath)
}
