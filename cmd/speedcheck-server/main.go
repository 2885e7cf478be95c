package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/robertodauria/speedcheck/client"
	"github.com/robertodauria/speedcheck/client/config"
	"github.com/robertodauria/speedcheck/internal/geo"
	"github.com/robertodauria/speedcheck/internal/handler"
	"github.com/robertodauria/speedcheck/internal/provider"
	"github.com/robertodauria/speedcheck/internal/rankings"
	"github.com/robertodauria/speedcheck/internal/ratelimit"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"github.com/robertodauria/speedcheck/pkg/speedws"
	"go.uber.org/zap"
)

var (
	flagPort           = flag.Int("port", 3000, "Listen port for the HTTP API")
	flagWSPort         = flag.Int("ws-port", 8080, "Listen port for socket sessions")
	flagAllowedOrigin  = flag.String("allowed-origin", "http://localhost:5173", "Origin allowed for cross-origin requests (* for any)")
	flagAPIBaseURL     = flag.String("api-base-url", "http://localhost:3000", "Base URL of a remote speedcheck server measured by the transfer provider; a local URL measures loopback and reports the server's own IP")
	flagProvider       = flag.String("provider", "command", "Measurement provider: command, speedtest or transfer")
	flagSpeedCommand   = flag.String("speed-command", provider.DefaultCommand, "Command line of the external speed test tool")
	flagSpeedTimeout   = flag.Duration("speed-timeout", 2*time.Minute, "Timeout of a delegated measurement")
	flagDownloadSize   = flag.Int64("download-size", spec.DefaultDownloadSize, "Default download payload size in bytes")
	flagMaxDownload    = flag.Int64("max-download-size", spec.DefaultMaxDownloadSize, "Largest download payload clients may request")
	flagUploadLimit    = flag.Int64("upload-limit", spec.DefaultUploadLimit, "Largest accepted upload body in bytes")
	flagRateRequests   = flag.Int("ratelimit-requests", 10, "Delegated measurements allowed per client per window (0 disables)")
	flagRateWindow     = flag.Duration("ratelimit-window", 15*time.Minute, "Rate limiting window")
	flagTrustProxy     = flag.Bool("trust-proxy", false, "Take client IPs from X-Forwarded-For")
	flagLocationHeader = flag.String("location-header", "", "Request header carrying the client's city, e.g. cf-ipcity")
	flagLocationURL    = flag.String("location-lookup-url", "", "City lookup service URL, with %s standing for the IP")
	flagDefaultCity    = flag.String("default-city", "Unknown", "City reported when the location cannot be resolved")
	flagRankingsFile   = flag.String("rankings-file", "", "YAML file with the rankings table")
	flagSocketUpload   = flag.Int64("socket-upload-size", spec.DefaultSocketUploadSize, "Bytes the client uploads in a socket session")
	flagSocketDownload = flag.Int("socket-download-size", spec.DefaultSocketDownloadSize, "Bytes sent in a socket session's download phase")
	flagPhaseTimeout   = flag.Duration("phase-timeout", spec.DefaultPhaseTimeout, "Timeout of each socket session phase")
	flagDebug          = flag.Bool("debug", false, "Enable debug logging")
)

func newProvider() provider.Provider {
	switch *flagProvider {
	case "command":
		p, err := provider.NewCommand(*flagSpeedCommand, *flagSpeedTimeout)
		rtx.Must(err, "Invalid -speed-command")
		return p
	case "speedtest":
		return &provider.Speedtest{}
	case "transfer":
		if isLoopback(*flagAPIBaseURL) {
			zap.L().Sugar().Warnw("The transfer provider measures a local server: results reflect loopback, not the client's link",
				"api-base-url", *flagAPIBaseURL)
		}
		cfg := config.NewDefault()
		cfg.BaseURL = *flagAPIBaseURL
		cfg.Timeout = *flagSpeedTimeout
		return provider.NewTransfer(client.NewWithConfig(cfg))
	}
	zap.L().Sugar().Fatalw("Unknown provider", "provider", *flagProvider)
	return nil
}

// isLoopback reports whether baseURL points at this host.
func isLoopback(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func newLocator() geo.Locator {
	var chain geo.Chain
	if *flagLocationHeader != "" {
		chain = append(chain, &geo.HeaderLocator{Header: *flagLocationHeader})
	}
	if *flagLocationURL != "" {
		chain = append(chain, geo.NewLookupLocator(*flagLocationURL))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func loadRankings() []model.Ranking {
	if *flagRankingsFile == "" {
		return rankings.Default
	}
	table, err := rankings.Load(*flagRankingsFile)
	rtx.Must(err, "Cannot load rankings from %s", *flagRankingsFile)
	return table
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	logger, err := zap.NewProduction()
	if *flagDebug {
		logger, err = zap.NewDevelopment()
	}
	rtx.Must(err, "Cannot create logger")
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	promSrv := prometheusx.MustServeMetrics()
	defer warnonerror.Close(promSrv, "Could not close the metrics server")

	var limiter *ratelimit.Limiter
	if *flagRateRequests > 0 {
		limiter = ratelimit.New(*flagRateRequests, *flagRateWindow)
	}

	h := handler.New(handler.Config{
		DownloadSize:    *flagDownloadSize,
		MaxDownloadSize: *flagMaxDownload,
		UploadLimit:     *flagUploadLimit,
		TrustProxy:      *flagTrustProxy,
		DefaultCity:     *flagDefaultCity,
		AllowedOrigin:   *flagAllowedOrigin,
		Socket: speedws.Config{
			UploadSize:   *flagSocketUpload,
			DownloadSize: *flagSocketDownload,
			PhaseTimeout: *flagPhaseTimeout,
		},
	}, newProvider(), newLocator(), loadRankings())

	apiSrv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(*flagPort)),
		Handler:           handler.NewRouter(h, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wsSrv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(*flagWSPort)),
		Handler:           h.SocketHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	for _, srv := range []*http.Server{apiSrv, wsSrv} {
		go func(srv *http.Server) {
			zap.L().Sugar().Infow("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				errs <- err
			}
		}(srv)
	}

	select {
	case err := <-errs:
		rtx.Must(err, "Server failed")
	case <-ctx.Done():
	}

	zap.L().Sugar().Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	warnonerror.Close(wsSrv, "Could not close the socket server")
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		zap.L().Sugar().Warnw("Unclean shutdown", "error", err)
	}
}
