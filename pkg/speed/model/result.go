package model

import (
	"time"

	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/m-lab/tcp-info/tcp"
)

// Result is the output of a measurement provider, serialized as the body of
// the speed endpoint.
type Result struct {
	// Ping is the idle latency in milliseconds.
	Ping float64 `json:"ping"`
	// Download is the download throughput in Mbps.
	Download float64 `json:"download"`
	// Upload is the upload throughput in Mbps.
	Upload float64 `json:"upload"`
	// BufferBloat is the latency under load in milliseconds, if known.
	BufferBloat float64 `json:"bufferBloat"`
	Location    string  `json:"location"`
	IP          string  `json:"ip"`
}

// SocketResult holds the three values collected by a socket client.
type SocketResult struct {
	PingMs       float64
	UploadMbps   float64
	DownloadMbps float64
}

// SessionResult is the record of a socket session. It is logged when the
// session ends.
type SessionResult struct {
	// GitShortCommit is the Git commit (short form) of the running server code.
	GitShortCommit string
	UUID           string
	Client         string
	Server         string
	// CCAlgorithm is the congestion control used on the connection, if known.
	CCAlgorithm string `json:",omitempty"`

	StartTime time.Time
	EndTime   time.Time

	// LastPhase is the last phase entered. It is PhaseDone for completed
	// sessions.
	LastPhase string
	Error     string `json:",omitempty"`

	PingMs       float64
	UploadMbps   float64
	DownloadMbps float64

	Measurements []PhaseMeasurement
}

// PhaseMeasurement is the measurement taken at the end of a socket phase.
type PhaseMeasurement struct {
	Phase       string
	NumBytes    int64
	ElapsedTime int64 // microseconds

	TCPInfo *tcp.LinuxTCPInfo `json:",omitempty"`
	BBRInfo *inetdiag.BBRInfo `json:",omitempty"`
}

// Ranking is a row of the rankings table.
type Ranking struct {
	Rank    int     `json:"rank" yaml:"rank"`
	Country string  `json:"country" yaml:"country"`
	Speed   float64 `json:"speed" yaml:"speed"`
}
