// Package ipc is the daemon's local control channel: one JSON request and
// one JSON response per unix socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/voxwake.sock"

type Request struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type Response struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Okf builds a successful response.
func Okf(format string, args ...any) Response {
	return Response{OK: true, Message: fmt.Sprintf(format, args...)}
}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{OK: false, Message: err.Error()}
}

// WithData attaches v as JSON.
func (r Response) WithData(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Fail(fmt.Errorf("encode response: %w", err))
	}
	r.Data = raw
	return r
}

// Handler answers one request.
type Handler func(ctx context.Context, req Request) Response

const connTimeout = 10 * time.Second

// RequestTimeout bounds each handler call.
const RequestTimeout = 5 * time.Second

// Serve listens on path until ctx is cancelled, then waits for in-flight
// connections. A stale socket file is removed first.
func Serve(ctx context.Context, path string, h Handler) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	defer os.Remove(path)

	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Info("control socket ready", "path", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("control accept failed", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConn(ctx, conn, h)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, h Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debug("bad control request", "err", err)
		_ = json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode request: %w", err)))
		return
	}
	log.Debug("control request", "cmd", req.Cmd, "args", req.Args)

	rctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	resp := h(rctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("control response failed", "err", err)
	}
}

// Send delivers req to the daemon at path and returns its response.
func Send(ctx context.Context, path string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(connTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("ipc: send: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}
