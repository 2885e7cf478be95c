package spec_test

import (
	"testing"

	"github.com/robertodauria/speedcheck/client/config"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"gotest.tools/v3/assert"
)

// A socket session on a slow link must end with a result rather than a
// phase timeout.
func TestSocketDefaults_SlowLink(t *testing.T) {
	const slowLinkMbps = 2.0

	up := model.Mbps(spec.DefaultSocketUploadSize, spec.DefaultPhaseTimeout)
	down := model.Mbps(spec.DefaultSocketDownloadSize, spec.DefaultPhaseTimeout)
	assert.Assert(t, up < slowLinkMbps, "upload needs %.2f Mb/s to beat the phase timeout", up)
	assert.Assert(t, down < slowLinkMbps, "download needs %.2f Mb/s to beat the phase timeout", down)

	assert.Assert(t, 3*spec.DefaultPhaseTimeout <= spec.MaxRuntime)
	assert.Assert(t, config.NewDefault().SocketTimeout >= 3*spec.DefaultPhaseTimeout)
}
