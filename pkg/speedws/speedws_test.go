package speedws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/testingx"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
	"gotest.tools/v3/assert"
)

type serveResult struct {
	record *model.SessionResult
	err    error
}

func newServer(t *testing.T, cfg Config) (*httptest.Server, chan serveResult) {
	done := make(chan serveResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, func(*http.Request) bool { return true })
		if err != nil {
			done <- serveResult{err: err}
			return
		}
		record := &model.SessionResult{UUID: "test"}
		err = Serve(r.Context(), conn, cfg, record)
		done <- serveResult{record: record, err: err}
	}))
	t.Cleanup(srv.Close)
	return srv, done
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	testingx.Must(t, err, "cannot dial %s", u)
	return conn
}

func smallConfig() Config {
	return Config{
		UploadSize:   3*spec.SocketChunkSize + 17,
		DownloadSize: 1 << 16,
		PhaseTimeout: 5 * time.Second,
	}
}

func TestServe_MessageOrder(t *testing.T) {
	srv, done := newServer(t, smallConfig())
	conn := dial(t, srv)
	defer conn.Close()

	assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionStartTest}))

	var types []string
	var closeErr error
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}
		if kind == websocket.BinaryMessage {
			assert.Equal(t, len(data), 1<<16)
			assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionDownloadComplete}))
			continue
		}
		var m model.Message
		testingx.Must(t, json.Unmarshal(data, &m), "invalid message %s", data)
		types = append(types, m.Type)
		if m.Type == spec.MessageUploadStart {
			assert.Equal(t, m.Size, int64(3*spec.SocketChunkSize+17))
			assert.NilError(t, upload(conn, m.Size))
		}
	}

	assert.DeepEqual(t, types, []string{
		spec.MessagePing, spec.MessageUploadStart, spec.MessageUpload, spec.MessageDownload,
	})
	assert.Assert(t, websocket.IsCloseError(closeErr, websocket.CloseNormalClosure), "got %v", closeErr)

	res := <-done
	assert.NilError(t, res.err)
	assert.Equal(t, res.record.LastPhase, string(spec.PhaseDone))
	assert.Equal(t, len(res.record.Measurements), 3)
	assert.Equal(t, res.record.Measurements[1].NumBytes, int64(3*spec.SocketChunkSize+17))
	assert.Equal(t, res.record.Measurements[2].NumBytes, int64(1<<16))
	assert.Assert(t, res.record.UploadMbps >= 0)
	assert.Assert(t, res.record.DownloadMbps >= 0)
}

func TestRun(t *testing.T) {
	srv, done := newServer(t, smallConfig())
	conn := dial(t, srv)

	var seen []string
	result, err := Run(context.Background(), conn, func(m model.Message) {
		seen = append(seen, m.Type)
	})
	assert.NilError(t, err)
	assert.Assert(t, result.PingMs >= 0)
	assert.DeepEqual(t, seen, []string{
		spec.MessagePing, spec.MessageUploadStart, spec.MessageUpload, spec.MessageDownload,
	})

	res := <-done
	assert.NilError(t, res.err)
	assert.Equal(t, result.UploadMbps, res.record.UploadMbps)
	assert.Equal(t, result.DownloadMbps, res.record.DownloadMbps)
}

func readError(t *testing.T, conn *websocket.Conn) model.Message {
	for {
		kind, data, err := conn.ReadMessage()
		testingx.Must(t, err, "expected an error message")
		if kind != websocket.TextMessage {
			continue
		}
		var m model.Message
		testingx.Must(t, json.Unmarshal(data, &m), "invalid message")
		if m.Type == spec.MessageError {
			return m
		}
	}
}

func TestServe_MalformedCommand(t *testing.T) {
	srv, done := newServer(t, smallConfig())
	conn := dial(t, srv)
	defer conn.Close()

	assert.NilError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	m := readError(t, conn)
	assert.Equal(t, m.Error, "malformed message")

	res := <-done
	assert.Assert(t, errors.Is(res.err, ErrMalformedMessage))
	assert.Equal(t, res.record.LastPhase, string(spec.PhaseIdle))
}

func TestServe_UnexpectedCommand(t *testing.T) {
	srv, done := newServer(t, smallConfig())
	conn := dial(t, srv)
	defer conn.Close()

	assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionDownloadComplete}))
	m := readError(t, conn)
	assert.Equal(t, m.Error, "unexpected message")

	res := <-done
	assert.Assert(t, errors.Is(res.err, ErrUnexpectedMessage))
}

func TestServe_TextDuringUpload(t *testing.T) {
	srv, done := newServer(t, smallConfig())
	conn := dial(t, srv)
	defer conn.Close()

	assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionStartTest}))
	for {
		var m model.Message
		testingx.Must(t, conn.ReadJSON(&m), "cannot read message")
		if m.Type == spec.MessageUploadStart {
			break
		}
	}
	assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionStartTest}))
	m := readError(t, conn)
	assert.Equal(t, m.Error, "unexpected message")

	res := <-done
	assert.Assert(t, errors.Is(res.err, ErrUnexpectedMessage))
	assert.Equal(t, res.record.LastPhase, string(spec.PhaseUpload))
}

func TestServe_PhaseTimeout(t *testing.T) {
	cfg := smallConfig()
	cfg.PhaseTimeout = 100 * time.Millisecond
	srv, done := newServer(t, cfg)
	conn := dial(t, srv)
	defer conn.Close()

	// Start the test but never upload anything.
	assert.NilError(t, conn.WriteJSON(model.Command{Action: spec.ActionStartTest}))
	m := readError(t, conn)
	assert.Equal(t, m.Error, "phase timed out: upload")

	res := <-done
	assert.Assert(t, errors.Is(res.err, ErrPhaseTimeout))
}

func TestRun_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, func(*http.Request) bool { return true })
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd model.Command
		conn.ReadJSON(&cmd)
		conn.WriteJSON(model.Message{Type: spec.MessageError, Error: "boom"})
	}))
	defer srv.Close()

	_, err := Run(context.Background(), dial(t, srv), nil)
	assert.Assert(t, errors.Is(err, ErrServer))
	assert.ErrorContains(t, err, "boom")
}

func TestRun_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, func(*http.Request) bool { return true })
		if err != nil {
			return
		}
		defer conn.Close()
		// Read startTest, then never answer.
		conn.ReadMessage()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, dial(t, srv), nil)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestWriteJSON(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, func(*http.Request) bool { return true })
		if err != nil {
			return
		}
		defer conn.Close()
		kind, data, err := conn.ReadMessage()
		if err != nil || kind != websocket.TextMessage {
			got <- ""
			return
		}
		got <- string(data)
	}))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	assert.NilError(t, writeJSON(conn, model.Message{Type: spec.MessageUploadStart, Size: 42}))
	assert.Equal(t, <-got, `{"type":"upload-test-start","size":42}`)
}
