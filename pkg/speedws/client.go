package speedws

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
	"github.com/robertodauria/speedcheck/pkg/speed/spec"
)

func makePreparedMessage(size int) (*websocket.PreparedMessage, error) {
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		return nil, err
	}
	return websocket.NewPreparedMessage(websocket.BinaryMessage, data)
}

// Run drives a session from the client side: it sends startTest, uploads the
// announced byte count, acknowledges the download payload and returns once
// the download result arrives. onMessage, if not nil, is called for every
// text message received.
//
// The connection is closed when Run returns or the context is canceled.
func Run(ctx context.Context, conn *websocket.Conn, onMessage func(model.Message)) (*model.SocketResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetReadLimit(spec.MaxMessageSize)
	if err := writeJSON(conn, model.Command{Action: spec.ActionStartTest}); err != nil {
		return nil, err
	}

	result := &model.SocketResult{}
	for {
		kind, reader, err := conn.NextReader()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			// Download payload: drain it, then acknowledge.
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return nil, err
			}
			if err := writeJSON(conn, model.Command{Action: spec.ActionDownloadComplete}); err != nil {
				return nil, err
			}
			continue
		}

		var m model.Message
		if err := json.NewDecoder(reader).Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if onMessage != nil {
			onMessage(m)
		}
		switch m.Type {
		case spec.MessagePing:
			result.PingMs = m.Value
		case spec.MessageUploadStart:
			if err := upload(conn, m.Size); err != nil {
				return nil, err
			}
		case spec.MessageUpload:
			result.UploadMbps = m.Value
		case spec.MessageDownload:
			result.DownloadMbps = m.Value
			return result, nil
		case spec.MessageError:
			return nil, fmt.Errorf("%w: %s", ErrServer, m.Error)
		default:
			return nil, fmt.Errorf("%w: type %q", ErrUnexpectedMessage, m.Type)
		}
	}
}

// upload sends size bytes as binary frames of at most spec.SocketChunkSize.
func upload(conn *websocket.Conn, size int64) error {
	if size <= 0 {
		return nil
	}
	chunk := int64(spec.SocketChunkSize)
	if size < chunk {
		chunk = size
	}
	message, err := makePreparedMessage(int(chunk))
	if err != nil {
		return err
	}
	sent := int64(0)
	for size-sent >= chunk {
		if err := conn.WritePreparedMessage(message); err != nil {
			return err
		}
		sent += chunk
	}
	if rest := size - sent; rest > 0 {
		last, err := makePreparedMessage(int(rest))
		if err != nil {
			return err
		}
		return conn.WritePreparedMessage(last)
	}
	return nil
}
