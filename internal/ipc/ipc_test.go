package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func shortSocket(t *testing.T) string {
	t.Helper()
	// unix socket paths are limited to ~100 bytes; t.TempDir can be longer
	dir, err := os.MkdirTemp("", "vw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestServeAndSend(t *testing.T) {
	t.Parallel()

	path := shortSocket(t)
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, path, func(_ context.Context, req Request) Response {
			switch req.Cmd {
			case "status":
				return Okf("listening").WithData(map[string]int{"frames": 42})
			default:
				return Fail(errors.New("unknown command " + req.Cmd))
			}
		})
	}()

	var resp Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		var err error
		resp, err = Send(context.Background(), path, Request{Cmd: "status"})
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !resp.OK || resp.Message != "listening" {
		t.Errorf("status response = %+v", resp)
	}
	var data map[string]int
	if err := json.Unmarshal(resp.Data, &data); err != nil || data["frames"] != 42 {
		t.Errorf("data = %s (%v)", resp.Data, err)
	}

	resp, err := Send(context.Background(), path, Request{Cmd: "dance", Args: []string{"now"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.Message != "unknown command dance" {
		t.Errorf("unknown response = %+v", resp)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file left behind")
	}
}

func TestServe_RemovesStaleSocket(t *testing.T) {
	t.Parallel()

	path := shortSocket(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, path, func(context.Context, Request) Response { return Okf("ok") }) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := Send(context.Background(), path, Request{Cmd: "x"}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never came up over the stale file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestSend_NoDaemon(t *testing.T) {
	t.Parallel()

	if _, err := Send(context.Background(), shortSocket(t), Request{Cmd: "status"}); err == nil {
		t.Error("expected dial error")
	}
}

func TestServe_HandlerContextHasDeadline(t *testing.T) {
	t.Parallel()

	path := shortSocket(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, path, func(rctx context.Context, _ Request) Response {
			dl, ok := rctx.Deadline()
			if !ok {
				return Fail(errors.New("no deadline"))
			}
			if left := time.Until(dl); left <= 0 || left > RequestTimeout {
				return Fail(errors.New("deadline out of range"))
			}
			return Okf("bounded")
		})
	}()

	var resp Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		var err error
		if resp, err = Send(context.Background(), path, Request{Cmd: "sensitivity", Args: []string{"0.7"}}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !resp.OK {
		t.Errorf("handler ctx: %s", resp.Message)
	}
	cancel()
	if err := <-done; err != nil {
		t.Error(err)
	}
}
