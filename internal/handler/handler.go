package handler

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	guuid "github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/uuid"
	"github.com/robertodauria/speedcheck/internal/congestion"
	"github.com/robertodauria/speedcheck/internal/geo"
	"github.com/robertodauria/speedcheck/internal/metrics"
	"github.com/robertodauria/speedcheck/internal/middleware"
	"github.com/robertodauria/speedcheck/internal/netx"
	"github.com/robertodauria/speedcheck/internal/provider"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"github.com/robertodauria/speedcheck/pkg/speedws"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the handler's settings.
type Config struct {
	// DownloadSize is the default download payload size.
	DownloadSize int64
	// MaxDownloadSize caps the size requested with ?bytes=.
	MaxDownloadSize int64
	// UploadLimit is the largest accepted upload body.
	UploadLimit int64
	// TrustProxy makes client IPs come from X-Forwarded-For.
	TrustProxy bool
	// DefaultCity is returned when the location cannot be resolved.
	DefaultCity string
	// AllowedOrigin is the origin allowed to open socket sessions from a
	// browser. "*" allows any.
	AllowedOrigin string
	// Socket configures socket sessions.
	Socket speedws.Config
}

// Handler serves the speed test endpoints.
type Handler struct {
	config   Config
	provider provider.Provider
	locator  geo.Locator
	rankings []model.Ranking
}

// New creates a new Handler. A nil locator always resolves to the default
// city.
func New(config Config, p provider.Provider, locator geo.Locator, rankings []model.Ranking) *Handler {
	if config.DownloadSize <= 0 {
		config.DownloadSize = spec.DefaultDownloadSize
	}
	if config.MaxDownloadSize <= 0 {
		config.MaxDownloadSize = spec.DefaultMaxDownloadSize
	}
	if config.UploadLimit <= 0 {
		config.UploadLimit = spec.DefaultUploadLimit
	}
	if config.DefaultCity == "" {
		config.DefaultCity = "Unknown"
	}
	return &Handler{
		config:   config,
		provider: p,
		locator:  locator,
		rankings: rankings,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Sugar().Errorw("Cannot marshal response", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(data)
}

// writeError sends an {"error": msg} envelope.
func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, errorResponse{Error: msg})
}

// Download streams a freshly generated random payload. The size is the
// configured default unless the client asks for ?bytes=N, which is capped
// at the configured maximum.
func (h *Handler) Download(rw http.ResponseWriter, req *http.Request) {
	size := h.config.DownloadSize
	if q := req.URL.Query().Get("bytes"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, "Invalid byte count")
			return
		}
		if n > h.config.MaxDownloadSize {
			n = h.config.MaxDownloadSize
		}
		size = n
	}
	hdr := rw.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Length", strconv.FormatInt(size, 10))
	hdr.Set("Cache-Control", "no-store")
	rw.WriteHeader(http.StatusOK)

	n, err := io.CopyN(rw, rand.Reader, size)
	metrics.TransferBytes.WithLabelValues(string(spec.SubtestDownload)).Add(float64(n))
	if err != nil {
		zap.L().Sugar().Debugw("Download aborted",
			"client", req.RemoteAddr, "sent", n, "error", err)
	}
}

// Upload reads and discards the request body. Bodies larger than the
// configured limit are rejected with 413.
func (h *Handler) Upload(rw http.ResponseWriter, req *http.Request) {
	if req.ContentLength > h.config.UploadLimit {
		writeError(rw, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	body := http.MaxBytesReader(rw, req.Body, h.config.UploadLimit)
	n, err := io.Copy(io.Discard, body)
	metrics.TransferBytes.WithLabelValues(string(spec.SubtestUpload)).Add(float64(n))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		zap.L().Sugar().Debugw("Upload aborted",
			"client", req.RemoteAddr, "received", n, "error", err)
		writeError(rw, http.StatusBadRequest, "Upload interrupted")
		return
	}
	if req.ContentLength >= 0 && n != req.ContentLength {
		writeError(rw, http.StatusBadRequest, "Body does not match Content-Length")
		return
	}
	rw.WriteHeader(http.StatusOK)
}

// Ping answers with an empty body, for latency measurements.
func (h *Handler) Ping(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(http.StatusNoContent)
}

type ipResponse struct {
	IP string `json:"ip"`
}

// IP returns the caller's IP.
func (h *Handler) IP(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, http.StatusOK, ipResponse{IP: geo.ClientIP(req, h.config.TrustProxy)})
}

type locationResponse struct {
	City string `json:"city"`
}

// Location returns the caller's city, or the default city when it cannot
// be resolved.
func (h *Handler) Location(rw http.ResponseWriter, req *http.Request) {
	city := ""
	if h.locator != nil {
		var err error
		city, err = h.locator.City(req.Context(), req, geo.ClientIP(req, h.config.TrustProxy))
		if err != nil {
			zap.L().Sugar().Warnw("Cannot resolve location", "client", req.RemoteAddr, "error", err)
		}
	}
	if city == "" {
		city = h.config.DefaultCity
	}
	writeJSON(rw, http.StatusOK, locationResponse{City: city})
}

type rankingsResponse struct {
	Rankings []model.Ranking `json:"rankings"`
}

// Rankings returns the static rankings table.
func (h *Handler) Rankings(rw http.ResponseWriter, req *http.Request) {
	rankings := h.rankings
	if rankings == nil {
		rankings = []model.Ranking{}
	}
	writeJSON(rw, http.StatusOK, rankingsResponse{Rankings: rankings})
}

// Speed runs a measurement through the configured provider. Failures are
// logged and answered with a generic message.
func (h *Handler) Speed(rw http.ResponseWriter, req *http.Request) {
	name := h.provider.Name()
	zap.L().Sugar().Infow("Running speed test", "provider", name, "client", req.RemoteAddr)
	result, err := h.provider.Measure(req.Context())
	if err != nil {
		metrics.SpeedTests.WithLabelValues(name, "error").Inc()
		zap.L().Sugar().Errorw("Speed test failed", "provider", name, "error", err)
		if errors.Is(err, provider.ErrProcessingFailed) {
			writeError(rw, http.StatusInternalServerError, "Failed to process speed test results")
			return
		}
		writeError(rw, http.StatusInternalServerError, "Speed test failed")
		return
	}
	metrics.SpeedTests.WithLabelValues(name, "ok").Inc()
	writeJSON(rw, http.StatusOK, result)
}

func (h *Handler) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return middleware.AllowOrigin(h.config.AllowedOrigin, origin)
}

// Socket upgrades the connection and runs one socket session on it. The
// client may request a congestion control algorithm with ?cc=.
func (h *Handler) Socket(rw http.ResponseWriter, req *http.Request) {
	conn, err := speedws.Upgrade(rw, req, h.checkOrigin)
	if err != nil {
		// The upgrader has already answered the request.
		zap.L().Sugar().Warnw("Websocket upgrade failed", "client", req.RemoteAddr, "error", err)
		return
	}

	// Make sure the connection is closed after (at most) MaxRuntime.
	ctx, cancel := context.WithTimeout(req.Context(), spec.MaxRuntime)
	defer cancel()

	if cc := req.URL.Query().Get("cc"); cc != "" {
		if err := congestion.Set(conn.UnderlyingConn(), cc); err != nil {
			// Continue with the current algorithm.
			zap.L().Sugar().Warnw("Cannot set congestion control", "cc", cc, "error", err)
		}
	}

	record := createResult(conn)
	record.StartTime = time.Now().UTC()
	err = speedws.Serve(ctx, conn, h.config.Socket, record)
	record.EndTime = time.Now().UTC()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SocketSessions.WithLabelValues(record.LastPhase, outcome).Inc()
	zap.L().Sugar().Infow("Socket session completed",
		"uuid", record.UUID,
		"client", record.Client,
		"ping", record.PingMs,
		"upload", record.UploadMbps,
		"download", record.DownloadMbps,
		"phase", record.LastPhase,
		"error", record.Error)
	zap.L().Sugar().Debugw("Socket session record", "result", record)
}

func createResult(conn *websocket.Conn) *model.SessionResult {
	underlying := conn.UnderlyingConn()
	record := &model.SessionResult{
		GitShortCommit: prometheusx.GitShortCommit,
		UUID:           flowID(conn),
		Client:         conn.RemoteAddr().String(),
		Server:         conn.LocalAddr().String(),
	}
	if cc, err := congestion.Get(underlying); err == nil {
		record.CCAlgorithm = cc
	}
	return record
}

// flowID returns the kernel-derived UUID for the TCP flow, falling back to
// a random UUID where that is unavailable.
func flowID(conn *websocket.Conn) string {
	if tc, err := netx.ToTCPConn(conn.UnderlyingConn()); err == nil {
		if id, err := uuid.FromTCPConn(tc); err == nil {
			return id
		}
	}
	return guuid.New().String()
}
