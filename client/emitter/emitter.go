package emitter

import (
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"go.uber.org/zap"
)

// Emitter receives progress and results from the client.
type Emitter interface {
	OnStart(spec.SubtestKind)
	OnResult(spec.SubtestKind, float64)
	OnError(spec.SubtestKind, error)
	OnComplete(spec.SubtestKind)
}

// LogEmitter logs every event with zap.
type LogEmitter struct{}

func (e *LogEmitter) OnStart(kind spec.SubtestKind) {
	zap.L().Sugar().Infof("%s: starting", kind)
}

func (e *LogEmitter) OnResult(kind spec.SubtestKind, value float64) {
	if kind == spec.SubtestLatency {
		zap.L().Sugar().Infof("%s: %.2f ms", kind, value)
		return
	}
	zap.L().Sugar().Infof("%s: throughput: %.2f Mb/s", kind, value)
}

func (e *LogEmitter) OnError(kind spec.SubtestKind, err error) {
	zap.L().Sugar().Errorf("%s: error (%v)", kind, err)
}

func (e *LogEmitter) OnComplete(kind spec.SubtestKind) {
	zap.L().Sugar().Infof("%s: completed", kind)
}

// Nop discards every event.
type Nop struct{}

func (Nop) OnStart(spec.SubtestKind)           {}
func (Nop) OnResult(spec.SubtestKind, float64) {}
func (Nop) OnError(spec.SubtestKind, error)    {}
func (Nop) OnComplete(spec.SubtestKind)        {}
