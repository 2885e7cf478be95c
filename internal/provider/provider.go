// Package provider defines the measurement provider capability and its
// implementations: an external command, speedtest.net, and self-measured
// transfers against a speedcheck server.
package provider

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
)

var (
	// ErrMeasurementFailed means the measurement could not be run.
	ErrMeasurementFailed = errors.New("speed test failed")
	// ErrProcessingFailed means the measurement ran but its output could not
	// be parsed or validated.
	ErrProcessingFailed = errors.New("failed to process speed test results")
)

// Provider is a source of speed, latency, location and IP data.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Measure runs one measurement. Errors wrap ErrMeasurementFailed or
	// ErrProcessingFailed.
	Measure(ctx context.Context) (*model.Result, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context) (*model.Result, error)

// Name implements Provider.
func (f Func) Name() string { return "func" }

// Measure implements Provider.
func (f Func) Measure(ctx context.Context) (*model.Result, error) {
	return f(ctx)
}
