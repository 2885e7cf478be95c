package spec

import "time"

const (
	// SecWebSocketProtocol is the optional websocket subprotocol for socket
	// sessions. Browsers opening a plain websocket are accepted as well.
	SecWebSocketProtocol = "net.speedcheck.socket.v1"

	// DownloadPath serves the bulk download payload.
	DownloadPath = "/download"
	// UploadPath accepts the bulk upload payload.
	UploadPath = "/upload"
	// PingPath is the near-zero payload latency endpoint.
	PingPath = "/ping"
	// IPPath returns the caller's IP.
	IPPath = "/ip"
	// LocationPath returns the caller's city.
	LocationPath = "/location"
	// RankingsPath returns the static rankings table.
	RankingsPath = "/rankings"
	// SpeedPath runs a delegated measurement through a provider.
	SpeedPath = "/api/speed"
	// LegacySpeedPath is an alias of SpeedPath.
	LegacySpeedPath = "/speed"
	// SocketPath serves socket sessions on the main listener.
	SocketPath = "/ws"

	// DefaultDownloadSize is the download payload size when the client does
	// not ask for a specific one.
	DefaultDownloadSize = 20 << 20
	// DefaultMaxDownloadSize caps the ?bytes= query parameter.
	DefaultMaxDownloadSize = 100 << 20
	// DefaultUploadLimit is the largest accepted upload body.
	DefaultUploadLimit = 50 << 20
	// DefaultUploadSize is the client's upload buffer size.
	DefaultUploadSize = 2 << 20

	// DefaultSocketUploadSize is the byte count announced in the socket
	// upload phase. With DefaultPhaseTimeout it fits links down to about
	// 1.7 Mb/s.
	DefaultSocketUploadSize = 10 << 20
	// DefaultSocketDownloadSize is the payload sent in the socket download
	// phase.
	DefaultSocketDownloadSize = 10 << 20
	// SocketChunkSize is the binary frame size used by the socket client
	// while uploading.
	SocketChunkSize = 1 << 20
	// MaxMessageSize is the read limit on socket sessions.
	MaxMessageSize = 1 << 26

	// DefaultPhaseTimeout bounds every socket phase. Three phases must fit
	// in MaxRuntime.
	DefaultPhaseTimeout = 50 * time.Second
	// MaxRuntime bounds a whole socket session.
	MaxRuntime = 3 * time.Minute
)

// SubtestKind indicates the measurement kind.
type SubtestKind string

const (
	// SubtestDownload is a download measurement.
	SubtestDownload = SubtestKind("download")
	// SubtestUpload is an upload measurement.
	SubtestUpload = SubtestKind("upload")
	// SubtestLatency is a latency measurement.
	SubtestLatency = SubtestKind("latency")
)

// Phase is the current stage of a socket session.
type Phase string

const (
	PhaseIdle     = Phase("idle")
	PhasePing     = Phase("ping")
	PhaseUpload   = Phase("upload")
	PhaseDownload = Phase("download")
	PhaseDone     = Phase("done")
)

// Socket message types (server to client).
const (
	MessagePing        = "ping"
	MessageUploadStart = "upload-test-start"
	MessageUpload      = "upload"
	MessageDownload    = "download"
	MessageError       = "error"
)

// Socket commands (client to server).
const (
	ActionStartTest        = "startTest"
	ActionDownloadComplete = "downloadComplete"
)
