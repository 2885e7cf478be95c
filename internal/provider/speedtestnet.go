package provider

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	st "github.com/showwin/speedtest-go/speedtest"
	"go.uber.org/zap"
)

// Speedtest measures against the closest speedtest.net servers.
type Speedtest struct {
	// ServerCount is the number of nearby servers pinged to choose the
	// test server.
	ServerCount int
	// MaxConnections is the number of parallel connections used by the
	// speedtest.net client.
	MaxConnections int
}

// Name implements Provider.
func (s *Speedtest) Name() string { return "speedtest" }

// Measure implements Provider.
func (s *Speedtest) Measure(ctx context.Context) (*model.Result, error) {
	serverCount := s.ServerCount
	if serverCount <= 0 {
		serverCount = 5
	}
	maxConns := s.MaxConnections
	if maxConns <= 0 {
		maxConns = 4
	}

	stc := st.New(st.WithUserConfig(&st.UserConfig{MaxConnections: maxConns}))

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrMeasurementFailed, "fetch user info: %v", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrMeasurementFailed, "fetch server list: %v", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.Wrap(ErrMeasurementFailed, "no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if serverCount > len(servers) {
		serverCount = len(servers)
	}
	var best *st.Server
	for _, candidate := range servers[:serverCount] {
		if err := candidate.PingTestContext(ctx, nil); err != nil {
			zap.L().Sugar().Debugw("Ping test failed", "server", candidate.Host, "error", err)
			continue
		}
		if candidate.Latency <= 0 {
			continue
		}
		if best == nil || candidate.Latency < best.Latency {
			best = candidate
		}
	}
	if best == nil {
		return nil, errors.Wrap(ErrMeasurementFailed, "all latency tests failed")
	}

	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, errors.Wrapf(ErrMeasurementFailed, "download test: %v", err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, errors.Wrapf(ErrMeasurementFailed, "upload test: %v", err)
	}

	result := &model.Result{
		Ping:     model.Round2(float64(best.Latency.Microseconds()) / 1000),
		Download: model.Round2(best.DLSpeed.Mbps()),
		Upload:   model.Round2(best.ULSpeed.Mbps()),
		Location: serverLocation(best),
		IP:       user.IP,
	}
	if err := checkResult(result); err != nil {
		return nil, errors.Wrap(ErrProcessingFailed, err.Error())
	}
	return result, nil
}

// serverLocation describes the test server's location, which is the
// closest known approximation of the user's.
func serverLocation(s *st.Server) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{s.Name, s.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func checkResult(r *model.Result) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ping", r.Ping}, {"download", r.Download}, {"upload", r.Upload},
	} {
		if err := checkNonNegative(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}
