package provider

import (
	"bytes"
	"context"
	"math"
	"os/exec"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultCommand is the fast.com command line tool in JSON mode.
const DefaultCommand = "fast --upload --json"

// Command runs an external speed test tool and parses its JSON output.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewCommand splits cmdline on whitespace into a Command.
func NewCommand(cmdline string, timeout time.Duration) (*Command, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("empty speed test command")
	}
	return &Command{Path: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

// Name implements Provider.
func (c *Command) Name() string { return "command" }

// toolOutput is the subset of the tool's output we use. Other fields are
// dropped.
type toolOutput struct {
	DownloadSpeed *float64 `json:"downloadSpeed"`
	UploadSpeed   *float64 `json:"uploadSpeed"`
	Latency       *float64 `json:"latency"`
	BufferBloat   *float64 `json:"bufferBloat"`
	UserLocation  string   `json:"userLocation"`
	UserIP        string   `json:"userIp"`
}

// Measure implements Provider. Raw stderr and parse errors are logged and
// never returned to the caller.
func (c *Command) Measure(ctx context.Context) (*model.Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Do not wait for grandchildren holding the output pipes after a kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		zap.L().Sugar().Errorw("Speed test command failed",
			"command", c.Path, "error", err, "stderr", stderr.String())
		return nil, errors.Wrapf(ErrMeasurementFailed, "running %s: %v", c.Path, err)
	}
	if stderr.Len() > 0 {
		zap.L().Sugar().Errorw("Speed test command wrote to stderr",
			"command", c.Path, "stderr", stderr.String())
		return nil, errors.Wrapf(ErrMeasurementFailed, "%s wrote to stderr", c.Path)
	}
	zap.L().Sugar().Debugw("Speed test command completed",
		"command", c.Path, "elapsed", time.Since(start))

	result, err := parseToolOutput(stdout.Bytes())
	if err != nil {
		zap.L().Sugar().Errorw("Cannot process speed test output",
			"command", c.Path, "error", err)
		return nil, errors.Wrap(ErrProcessingFailed, err.Error())
	}
	return result, nil
}

func parseToolOutput(data []byte) (*model.Result, error) {
	var out toolOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "parsing output")
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	result := &model.Result{
		Ping:     *out.Latency,
		Download: *out.DownloadSpeed,
		Upload:   *out.UploadSpeed,
		Location: out.UserLocation,
		IP:       out.UserIP,
	}
	if out.BufferBloat != nil {
		result.BufferBloat = *out.BufferBloat
	}
	return result, nil
}

func (o *toolOutput) validate() error {
	required := []struct {
		name string
		v    *float64
	}{
		{"downloadSpeed", o.DownloadSpeed},
		{"uploadSpeed", o.UploadSpeed},
		{"latency", o.Latency},
	}
	for _, f := range required {
		if f.v == nil {
			return errors.Errorf("missing field %s", f.name)
		}
		if err := checkNonNegative(f.name, *f.v); err != nil {
			return err
		}
	}
	if o.BufferBloat != nil {
		return checkNonNegative("bufferBloat", *o.BufferBloat)
	}
	return nil
}

func checkNonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return errors.Errorf("invalid value for %s: %v", name, v)
	}
	return nil
}
