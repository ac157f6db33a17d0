package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var testPort atomic.Int32

func init() {
	testPort.Store(18443)
}

func getFreePort() int {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		return int(testPort.Add(1))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return int(testPort.Add(1))
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestRunTLSServesOverHTTPS(t *testing.T) {
	tlsConfig, _, err := generateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	addr := fmt.Sprintf("127.0.0.1:%d", getFreePort())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- RunTLS(ctx, e, addr, tlsConfig) }()

	time.Sleep(200 * time.Millisecond)

	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		Timeout:   2 * time.Second,
	}
	resp, err := client.Get("https://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health over tls: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("RunTLS returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTLS did not exit after cancel")
	}
}
