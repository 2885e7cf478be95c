package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/client/config"
	"github.com/robertodauria/speedcheck/client/emitter"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"github.com/robertodauria/speedcheck/pkg/speedws"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnexpectedStatus is returned when the server answers with a non-2xx
// status.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

type dialerFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   spec.SocketChunkSize,
		WriteBufferSize:  spec.SocketChunkSize,
		Subprotocols:     []string{spec.SecWebSocketProtocol},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// Client times transfers against a speedcheck server.
type Client struct {
	httpClient *http.Client
	dialer     dialerFunc
	config     *config.ClientConfig
	emitter    emitter.Emitter
	now        func() time.Time
}

func New(baseURL string) *Client {
	cfg := config.NewDefault()
	cfg.BaseURL = baseURL
	return NewWithConfig(cfg)
}

// NewWithConfig returns a client using a copy of cfg. Non-positive
// timeouts are replaced by the defaults.
func NewWithConfig(cfg *config.ClientConfig) *Client {
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultTimeout
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = config.DefaultSocketTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		dialer:     defaultDialer,
		config:     &c,
		emitter:    &emitter.LogEmitter{},
		now:        time.Now,
	}
}

// WithEmitter replaces the client's emitter.
func (c *Client) WithEmitter(e emitter.Emitter) *Client {
	c.emitter = e
	return c
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(ErrUnexpectedStatus, "%s", resp.Status)
	}
	return nil
}

// measure wraps f with the emitter callbacks.
func (c *Client) measure(kind spec.SubtestKind, f func() (*model.Sample, error)) (*model.Sample, error) {
	c.emitter.OnStart(kind)
	defer c.emitter.OnComplete(kind)
	s, err := f()
	if err != nil {
		c.emitter.OnError(kind, err)
		return nil, err
	}
	if kind == spec.SubtestLatency {
		c.emitter.OnResult(kind, s.Millis())
	} else {
		c.emitter.OnResult(kind, s.Rate())
	}
	return s, nil
}

// MeasureDownload fetches the download payload and times it. The sample
// ends once the whole body has been read, and its byte count is the number
// of bytes actually received.
func (c *Client) MeasureDownload(ctx context.Context) (*model.Sample, error) {
	return c.measure(spec.SubtestDownload, func() (*model.Sample, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(spec.DownloadPath), nil)
		if err != nil {
			return nil, err
		}
		sample := &model.Sample{Kind: spec.SubtestDownload}
		sample.Start = c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "download request")
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "download interrupted")
		}
		sample.End = c.now()
		sample.NumBytes = n
		return sample, nil
	})
}

// MeasureUpload posts a random buffer of the configured size and times it
// until the response arrives.
func (c *Client) MeasureUpload(ctx context.Context) (*model.Sample, error) {
	return c.measure(spec.SubtestUpload, func() (*model.Sample, error) {
		data := make([]byte, c.config.UploadSize)
		if _, err := rand.Read(data); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(spec.UploadPath), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		sample := &model.Sample{Kind: spec.SubtestUpload, NumBytes: int64(len(data))}
		sample.Start = c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "upload request")
		}
		sample.End = c.now()
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		io.Copy(io.Discard, resp.Body)
		return sample, nil
	})
}

// MeasureLatency times a request to the configured latency path, up to the
// response headers.
func (c *Client) MeasureLatency(ctx context.Context) (*model.Sample, error) {
	return c.measure(spec.SubtestLatency, func() (*model.Sample, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.config.LatencyPath), nil)
		if err != nil {
			return nil, err
		}
		sample := &model.Sample{Kind: spec.SubtestLatency}
		sample.Start = c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "latency request")
		}
		sample.End = c.now()
		// The body is not needed; closing it early aborts bulk transfers.
		resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		return sample, nil
	})
}

type ipResponse struct {
	IP string `json:"ip"`
}

type locationResponse struct {
	City string `json:"city"`
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(v), "decoding %s", path)
}

// IP returns the client's IP as seen by the server.
func (c *Client) IP(ctx context.Context) (string, error) {
	var r ipResponse
	if err := c.getJSON(ctx, spec.IPPath, &r); err != nil {
		return "", err
	}
	return r.IP, nil
}

// Location returns the client's city as resolved by the server.
func (c *Client) Location(ctx context.Context) (string, error) {
	var r locationResponse
	if err := c.getJSON(ctx, spec.LocationPath, &r); err != nil {
		return "", err
	}
	return r.City, nil
}

// Measure runs latency, download and upload in sequence and collects IP and
// location. IP and location are best-effort.
func (c *Client) Measure(ctx context.Context) (*model.Result, error) {
	latency, err := c.MeasureLatency(ctx)
	if err != nil {
		return nil, err
	}
	download, err := c.MeasureDownload(ctx)
	if err != nil {
		return nil, err
	}
	upload, err := c.MeasureUpload(ctx)
	if err != nil {
		return nil, err
	}
	result := &model.Result{
		Ping:     model.Round2(latency.Millis()),
		Download: model.Round2(download.Rate()),
		Upload:   model.Round2(upload.Rate()),
	}
	if ip, err := c.IP(ctx); err == nil {
		result.IP = ip
	}
	if city, err := c.Location(ctx); err == nil {
		result.Location = city
	}
	return result, nil
}

// RunSocket runs a full socket session against the configured socket URL.
// The session is bounded by SocketTimeout rather than Timeout.
func (c *Client) RunSocket(ctx context.Context) (*model.SocketResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SocketTimeout)
	defer cancel()
	conn, err := c.dialer(ctx, c.config.SocketURL)
	if err != nil {
		return nil, errors.Wrap(err, "socket dial")
	}
	return speedws.Run(ctx, conn, func(m model.Message) {
		switch m.Type {
		case spec.MessagePing:
			c.emitter.OnResult(spec.SubtestLatency, m.Value)
		case spec.MessageUploadStart:
			c.emitter.OnStart(spec.SubtestUpload)
		case spec.MessageUpload:
			c.emitter.OnResult(spec.SubtestUpload, m.Value)
			c.emitter.OnStart(spec.SubtestDownload)
		case spec.MessageDownload:
			c.emitter.OnResult(spec.SubtestDownload, m.Value)
		}
	})
}
