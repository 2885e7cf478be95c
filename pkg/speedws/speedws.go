// Package speedws implements the socket speed test: a single websocket over
// which a ping, an upload and a download phase run strictly in sequence.
package speedws

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/robertodauria/speedcheck/internal/congestion"
	"github.com/robertodauria/speedcheck/internal/metrics"
	"github.com/robertodauria/speedcheck/internal/tcpinfox"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrPhaseTimeout is returned when a phase does not complete within the
	// configured phase timeout.
	ErrPhaseTimeout = errors.New("phase timed out")
	// ErrMalformedMessage is returned for text frames that are not valid
	// commands.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnexpectedMessage is returned for messages that do not belong to
	// the current phase.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrServer is returned by Run when the server reports an error.
	ErrServer = errors.New("server error")
)

// maxCommandSize bounds the size of client text frames.
const maxCommandSize = 4096

const pingPayload = "speedcheck"

// Config controls a socket session.
type Config struct {
	// UploadSize is the number of bytes the client is asked to upload.
	UploadSize int64
	// DownloadSize is the size of the payload sent to the client.
	DownloadSize int
	// PhaseTimeout bounds every phase, including waiting for startTest.
	PhaseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UploadSize <= 0 {
		c.UploadSize = spec.DefaultSocketUploadSize
	}
	if c.DownloadSize <= 0 {
		c.DownloadSize = spec.DefaultSocketDownloadSize
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = spec.DefaultPhaseTimeout
	}
	return c
}

// Upgrade upgrades the HTTP connection to WebSockets. The speedcheck
// subprotocol is negotiated if the client offers it but is not required.
// A nil checkOrigin applies gorilla's same-origin policy.
func Upgrade(w http.ResponseWriter, r *http.Request, checkOrigin func(*http.Request) bool) (*websocket.Conn, error) {
	u := websocket.Upgrader{
		CheckOrigin:     checkOrigin,
		Subprotocols:    []string{spec.SecWebSocketProtocol},
		ReadBufferSize:  spec.SocketChunkSize,
		WriteBufferSize: spec.SocketChunkSize,
	}
	return u.Upgrade(w, r, nil)
}

type event struct {
	kind int
	data []byte // text frames
	n    int64  // binary frames
	err  error
}

type session struct {
	conn   *websocket.Conn
	cfg    Config
	record *model.SessionResult
	phase  spec.Phase
	events chan event
	pongs  chan time.Time
}

// Serve runs one full session on conn: it waits for startTest, then runs
// the ping, upload and download phases and closes the connection. Results
// and per-phase measurements are stored in record.
//
// Every phase is bounded by cfg.PhaseTimeout. On timeout, malformed or
// out-of-phase input the client receives an error message before the
// connection is closed. The context bounds the whole session.
func Serve(ctx context.Context, conn *websocket.Conn, cfg Config, record *model.SessionResult) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		record: record,
		phase:  spec.PhaseIdle,
		events: make(chan event, 16),
		pongs:  make(chan time.Time, 1),
	}
	conn.SetReadLimit(spec.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		select {
		case s.pongs <- time.Now():
		default:
		}
		return nil
	})

	// Make sure the connection is closed when the session ends, whatever
	// the reason. This also unblocks the reader goroutine.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go s.read(ctx)

	err := s.run(ctx)
	record.LastPhase = string(s.phase)
	if err != nil {
		record.Error = err.Error()
		s.fail(err)
		return err
	}
	s.closeNormally()
	return nil
}

// read forwards every inbound frame to s.events. Binary frames are counted
// and discarded.
func (s *session) read(ctx context.Context) {
	for {
		kind, reader, err := s.conn.NextReader()
		if err != nil {
			s.emit(ctx, event{err: err})
			return
		}
		ev := event{kind: kind}
		if kind == websocket.TextMessage {
			ev.data, err = io.ReadAll(io.LimitReader(reader, maxCommandSize+1))
		} else {
			ev.n, err = io.Copy(io.Discard, reader)
		}
		if err != nil {
			s.emit(ctx, event{err: err})
			return
		}
		if !s.emit(ctx, ev) {
			return
		}
	}
}

func (s *session) emit(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) run(ctx context.Context) error {
	if err := s.awaitCommand(ctx, spec.ActionStartTest); err != nil {
		return err
	}
	zap.L().Sugar().Debugw("Starting socket test", "uuid", s.record.UUID)

	s.phase = spec.PhasePing
	rtt, err := s.ping(ctx)
	if err != nil {
		return err
	}
	s.record.PingMs = model.Round2(float64(rtt) / float64(time.Millisecond))
	s.measure(0, rtt)
	if err := s.send(model.Message{Type: spec.MessagePing, Value: s.record.PingMs}); err != nil {
		return err
	}

	s.phase = spec.PhaseUpload
	received, elapsed, err := s.upload(ctx)
	if err != nil {
		return err
	}
	s.record.UploadMbps = model.Round2(model.Mbps(received, elapsed))
	s.measure(received, elapsed)
	if err := s.send(model.Message{Type: spec.MessageUpload, Value: s.record.UploadMbps}); err != nil {
		return err
	}

	s.phase = spec.PhaseDownload
	sent, elapsed, err := s.download(ctx)
	if err != nil {
		return err
	}
	s.record.DownloadMbps = model.Round2(model.Mbps(sent, elapsed))
	s.measure(sent, elapsed)
	if err := s.send(model.Message{Type: spec.MessageDownload, Value: s.record.DownloadMbps}); err != nil {
		return err
	}

	s.phase = spec.PhaseDone
	return nil
}

// next waits for the next inbound frame of the current phase.
func (s *session) next(ctx context.Context, timeout <-chan time.Time) (event, error) {
	select {
	case ev := <-s.events:
		return ev, ev.err
	case <-timeout:
		return event{}, fmt.Errorf("%w: %s", ErrPhaseTimeout, s.phase)
	case <-ctx.Done():
		return event{}, ctx.Err()
	}
}

func (s *session) awaitCommand(ctx context.Context, action string) error {
	timer := time.NewTimer(s.cfg.PhaseTimeout)
	defer timer.Stop()
	ev, err := s.next(ctx, timer.C)
	if err != nil {
		return err
	}
	if ev.kind != websocket.TextMessage {
		return fmt.Errorf("%w: binary frame in %s phase", ErrUnexpectedMessage, s.phase)
	}
	var cmd model.Command
	if len(ev.data) > maxCommandSize {
		return fmt.Errorf("%w: command too large", ErrMalformedMessage)
	}
	if err := json.Unmarshal(ev.data, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if cmd.Action != action {
		return fmt.Errorf("%w: %q in %s phase", ErrUnexpectedMessage, cmd.Action, s.phase)
	}
	return nil
}

// ping measures the round-trip time of a websocket ping/pong exchange.
func (s *session) ping(ctx context.Context) (time.Duration, error) {
	select {
	case <-s.pongs:
	default:
	}
	timer := time.NewTimer(s.cfg.PhaseTimeout)
	defer timer.Stop()
	start := time.Now()
	err := s.conn.WriteControl(websocket.PingMessage, []byte(pingPayload), start.Add(s.cfg.PhaseTimeout))
	if err != nil {
		return 0, err
	}
	select {
	case t := <-s.pongs:
		return t.Sub(start), nil
	case ev := <-s.events:
		if ev.err != nil {
			return 0, ev.err
		}
		return 0, fmt.Errorf("%w: data frame in %s phase", ErrUnexpectedMessage, s.phase)
	case <-timer.C:
		return 0, fmt.Errorf("%w: %s", ErrPhaseTimeout, s.phase)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// upload announces the expected byte count and accumulates binary frames
// until it is reached.
func (s *session) upload(ctx context.Context) (int64, time.Duration, error) {
	timer := time.NewTimer(s.cfg.PhaseTimeout)
	defer timer.Stop()
	if err := s.send(model.Message{Type: spec.MessageUploadStart, Size: s.cfg.UploadSize}); err != nil {
		return 0, 0, err
	}
	start := time.Now()
	var received int64
	for received < s.cfg.UploadSize {
		ev, err := s.next(ctx, timer.C)
		if err != nil {
			return received, 0, err
		}
		if ev.kind != websocket.BinaryMessage {
			return received, 0, fmt.Errorf("%w: text frame in %s phase", ErrUnexpectedMessage, s.phase)
		}
		received += ev.n
	}
	elapsed := time.Since(start)
	metrics.TransferBytes.WithLabelValues(string(spec.SubtestUpload)).Add(float64(received))
	return received, elapsed, nil
}

// download sends a fresh random payload and waits for the client's
// acknowledgement.
func (s *session) download(ctx context.Context) (int64, time.Duration, error) {
	payload := make([]byte, s.cfg.DownloadSize)
	if _, err := rand.Read(payload); err != nil {
		return 0, 0, err
	}
	start := time.Now()
	s.conn.SetWriteDeadline(start.Add(s.cfg.PhaseTimeout))
	err := s.conn.WriteMessage(websocket.BinaryMessage, payload)
	s.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return 0, 0, err
	}
	metrics.TransferBytes.WithLabelValues(string(spec.SubtestDownload)).Add(float64(len(payload)))
	if err := s.awaitCommand(ctx, spec.ActionDownloadComplete); err != nil {
		return 0, 0, err
	}
	return int64(len(payload)), time.Since(start), nil
}

func (s *session) send(m model.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.PhaseTimeout))
	defer s.conn.SetWriteDeadline(time.Time{})
	return writeJSON(s.conn, m)
}

// writeJSON sends v as a single text frame.
func writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// measure appends a measurement for the phase that just completed.
func (s *session) measure(numBytes int64, elapsed time.Duration) {
	metrics.PhaseDuration.WithLabelValues(string(s.phase)).Observe(elapsed.Seconds())
	m := model.PhaseMeasurement{
		Phase:       string(s.phase),
		NumBytes:    numBytes,
		ElapsedTime: elapsed.Microseconds(),
	}
	// Kernel metrics are best-effort.
	if info, err := tcpinfox.GetTCPInfo(s.conn.UnderlyingConn()); err == nil {
		m.TCPInfo = info
	}
	if s.record.CCAlgorithm == "bbr" {
		if bbr, err := congestion.GetBBRInfo(s.conn.UnderlyingConn()); err == nil {
			m.BBRInfo = &bbr
		}
	}
	s.record.Measurements = append(s.record.Measurements, m)
}

// fail reports err to the client, if still possible, and closes the
// connection.
func (s *session) fail(err error) {
	msg := model.Message{Type: spec.MessageError, Error: publicError(err)}
	if werr := s.send(msg); werr != nil {
		zap.L().Sugar().Debugw("Cannot send error message", "uuid", s.record.UUID, "error", werr)
	}
	code := websocket.ClosePolicyViolation
	if errors.Is(err, ErrPhaseTimeout) {
		code = websocket.CloseNormalClosure
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}

func (s *session) closeNormally() {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// publicError maps err to a message that is safe to send to the client.
func publicError(err error) string {
	switch {
	case errors.Is(err, ErrPhaseTimeout):
		return err.Error()
	case errors.Is(err, ErrMalformedMessage):
		return "malformed message"
	case errors.Is(err, ErrUnexpectedMessage):
		return "unexpected message"
	default:
		return "speed test failed"
	}
}
