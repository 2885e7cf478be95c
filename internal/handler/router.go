package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/robertodauria/speedcheck/internal/geo"
	"github.com/robertodauria/speedcheck/internal/metrics"
	"github.com/robertodauria/speedcheck/internal/middleware"
	"github.com/robertodauria/speedcheck/internal/ratelimit"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
)

// NewRouter returns the main listener's handler. When limiter is not nil,
// the delegated measurement endpoints are rate limited per client IP.
func NewRouter(h *Handler, limiter *ratelimit.Limiter) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(spec.DownloadPath, h.Download).Methods(http.MethodGet)
	r.HandleFunc(spec.UploadPath, h.Upload).Methods(http.MethodPost)
	r.HandleFunc(spec.PingPath, h.Ping).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(spec.IPPath, h.IP).Methods(http.MethodGet)
	r.HandleFunc(spec.LocationPath, h.Location).Methods(http.MethodGet)
	r.HandleFunc(spec.RankingsPath, h.Rankings).Methods(http.MethodGet)

	speed := alice.New()
	if limiter != nil {
		speed = speed.Append(limiter.Middleware(h.clientKey, http.HandlerFunc(tooManyRequests)))
	}
	r.Handle(spec.SpeedPath, speed.ThenFunc(h.Speed)).Methods(http.MethodGet)
	r.Handle(spec.LegacySpeedPath, speed.ThenFunc(h.Speed)).Methods(http.MethodGet)
	r.HandleFunc(spec.SocketPath, h.Socket).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	return alice.New(
		middleware.Recover(http.HandlerFunc(internalError)),
		middleware.AccessLog,
		middleware.CORS(h.config.AllowedOrigin),
	).Then(r)
}

// SocketHandler returns the handler for the dedicated socket listener,
// which runs a session on any path.
func (h *Handler) SocketHandler() http.Handler {
	return alice.New(
		middleware.Recover(http.HandlerFunc(internalError)),
		middleware.AccessLog,
	).ThenFunc(h.Socket)
}

func (h *Handler) clientKey(req *http.Request) string {
	return geo.ClientIP(req, h.config.TrustProxy)
}

func tooManyRequests(rw http.ResponseWriter, req *http.Request) {
	metrics.RateLimited.Inc()
	writeError(rw, http.StatusTooManyRequests, "Too many requests, please try again later")
}

func notFound(rw http.ResponseWriter, req *http.Request) {
	writeError(rw, http.StatusNotFound, "Not found")
}

func methodNotAllowed(rw http.ResponseWriter, req *http.Request) {
	writeError(rw, http.StatusMethodNotAllowed, "Method not allowed")
}

func internalError(rw http.ResponseWriter, req *http.Request) {
	writeError(rw, http.StatusInternalServerError, "Internal server error")
}
