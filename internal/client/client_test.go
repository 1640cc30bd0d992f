package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"poolserve/internal/logger"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

func quietLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError)
}

// startServer はテスト用のラインサーバーを起動してアドレスを返す
func startServer(t *testing.T) string {
	t.Helper()
	pool, err := worker.NewWithConfig(worker.Config{Workers: 4, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New(server.Config{SleepDelay: 50 * time.Millisecond, Logger: quietLogger()}, pool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		pool.Close()
	})
	return ln.Addr().String()
}

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Addr != "127.0.0.1:7878" {
		t.Errorf("expected default addr 127.0.0.1:7878, got %s", config.Addr)
	}
	if len(config.Paths) != 1 || config.Paths[0] != "/" {
		t.Errorf("expected default paths [/], got %v", config.Paths)
	}
}

func TestNewClient(t *testing.T) {
	client := New(Config{Logger: quietLogger()})

	if client.IsRunning() {
		t.Error("expected client to not be running initially")
	}
	if client.config.Workers <= 0 {
		t.Errorf("expected workers to default to CPU count, got %d", client.config.Workers)
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte("HTTP/1.1 404 NOT FOUND\r\nContent-Length: 4\r\n\r\ngone"))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.StatusCode() != 404 || resp.Status() != "404 NOT FOUND" {
		t.Errorf("unexpected status %q (%d)", resp.Status(), resp.StatusCode())
	}
	if resp.ContentLength != 4 || string(resp.Body) != "gone" {
		t.Errorf("unexpected body %q (length %d)", resp.Body, resp.ContentLength)
	}

	bad := []string{
		"",
		"HTTP/1.1 200 OK\r\n",
		"garbage\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: x\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort",
	}
	for _, raw := range bad {
		if _, err := ParseResponse([]byte(raw)); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("ParseResponse(%q) error = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestGet(t *testing.T) {
	addr := startServer(t)

	resp, err := Get(context.Background(), addr, "/", time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != 200 {
		t.Errorf("expected 200, got %q", resp.StatusLine)
	}
	if resp.ContentLength != len(resp.Body) || len(resp.Body) == 0 {
		t.Errorf("unexpected body length %d / %d", resp.ContentLength, len(resp.Body))
	}

	resp, err = Get(context.Background(), addr, "/missing", time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != 404 {
		t.Errorf("expected 404, got %q", resp.StatusLine)
	}
}

func TestGetTimeout(t *testing.T) {
	addr := startServer(t)

	// /sleep は 50ms 待つ
	if _, err := Get(context.Background(), addr, "/sleep", 10*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}

func TestGetDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Get(context.Background(), addr, "/", time.Second); err == nil {
		t.Error("expected dial error")
	}
}

func TestClientRunRequests(t *testing.T) {
	addr := startServer(t)
	client := New(Config{
		Addr:    addr,
		Workers: 3,
		Paths:   []string{"/", "/nope"},
		Timeout: time.Second,
		Logger:  quietLogger(),
	})

	snapshot, err := client.RunRequests(context.Background(), 30)
	if err != nil {
		t.Fatalf("RunRequests: %v", err)
	}
	if snapshot.TotalRequests != 30 {
		t.Errorf("expected exactly 30 requests, got %d", snapshot.TotalRequests)
	}
	if snapshot.FailedRequests != 0 {
		t.Errorf("expected no failures, got %d", snapshot.FailedRequests)
	}
	if snapshot.Statuses["200 OK"]+snapshot.Statuses["404 NOT FOUND"] != 30 {
		t.Errorf("unexpected statuses %v", snapshot.Statuses)
	}
	if client.IsRunning() {
		t.Error("expected client to stop after RunRequests")
	}
}

func TestClientStartStop(t *testing.T) {
	addr := startServer(t)
	client := New(Config{Addr: addr, Workers: 2, Timeout: time.Second, Logger: quietLogger()})

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !client.IsRunning() {
		t.Error("expected client to be running after Start")
	}

	// Give it time to run some requests
	time.Sleep(50 * time.Millisecond)

	client.Stop()
	if client.IsRunning() {
		t.Error("expected client to not be running after Stop")
	}
	if client.Metrics().SuccessRequests() == 0 {
		t.Error("expected some requests to succeed")
	}
	// Stop is idempotent
	client.Stop()
}

func TestClientRunFor(t *testing.T) {
	addr := startServer(t)
	client := New(Config{Addr: addr, Workers: 2, Timeout: time.Second, Logger: quietLogger()})

	snapshot, err := client.RunFor(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	if snapshot.TotalRequests == 0 {
		t.Error("expected some requests")
	}
	if snapshot.Elapsed < 100*time.Millisecond {
		t.Errorf("expected at least 100ms elapsed, got %v", snapshot.Elapsed)
	}
}
