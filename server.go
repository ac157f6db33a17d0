package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RunTLS serves an Echo app over HTTPS with a caller-supplied certificate,
// blocking until ctx is canceled. Used when the control-plane REST/WS server
// is configured with TLS; httpapi.Server.Run is used directly otherwise.
func RunTLS(ctx context.Context, app *echo.Echo, addr string, tlsConfig *tls.Config) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           app,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("tls server shutdown", "err", err)
		}
	}()

	slog.Info("control plane listening over tls", "addr", addr)
	err := httpSrv.ListenAndServeTLS("", "")
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
