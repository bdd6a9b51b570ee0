// ABOUTME: Standalone fake multi-agent backend for local chorus development
// ABOUTME: Serves GET / and the /ws protocol endpoint with mock streamed replies

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chorus/internal/auth"
	"github.com/2389/coven-chorus/internal/config"
	"github.com/2389/coven-chorus/internal/fakebackend"
	"github.com/2389/coven-chorus/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	chunkDelay := flag.Duration("chunk-delay", fakebackend.DefaultChunkDelay, "pause between streamed words")
	secret := flag.String("jwt-secret", os.Getenv("CHORUS_JWT_SECRET"), "require bearer tokens signed with this secret")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *chunkDelay, *secret, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, chunkDelay time.Duration, secret, level string) error {
	logger, closeLog, err := logging.Setup(config.LoggingConfig{Level: level, Format: "text"})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	opts := fakebackend.Options{
		Generator: fakebackend.MockGenerator{Delay: chunkDelay},
		Logger:    logger,
	}
	if secret != "" {
		signer, err := auth.NewSigner([]byte(secret))
		if err != nil {
			return err
		}
		opts.Verifier = signer
	}
	backend := fakebackend.New(opts)

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("fake backend on http://%s (ws://%s/ws)\n", addr, addr)
	if secret != "" {
		green.Print("    ▶ ")
		fmt.Println("bearer auth required")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	backend.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
