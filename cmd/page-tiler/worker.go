package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/ironsheep/page-tiler/internal/config"
	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/transport"
)

// stdio joins a read side and a write side into one stream. Closing it
// closes both sides.
type stdio struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (s stdio) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s stdio) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s stdio) Close() error {
	werr := s.w.Close()
	if err := s.r.Close(); err != nil {
		return err
	}
	return werr
}

func runWorker(ctx context.Context, cfg config.Config) error {
	ch := transport.NewStreamChannel(stdio{os.Stdin, os.Stdout}, cfg.CompressThreshold)
	srv := transport.NewServer(ch, imaging.LocalDecoder{}, transport.ServerOptions{
		Logger: log.Default(),
		Debug:  cfg.Debug,
	})
	return srv.Serve(ctx)
}

// remoteWorker is a worker subprocess and the client connected to it.
type remoteWorker struct {
	cmd    *exec.Cmd
	client *transport.Client
}

// startWorker runs this binary as a decode worker and completes the init
// handshake with it.
func startWorker(ctx context.Context, cfg config.Config) (*remoteWorker, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe, "worker")
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	ch := transport.NewStreamChannel(stdio{stdout, stdin}, cfg.CompressThreshold)
	client, err := transport.Dial(ctx, ch, transport.ClientOptions{
		InitTimeout: cfg.InitTimeout,
		Logger:      log.Default(),
		Debug:       cfg.Debug,
	})
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	return &remoteWorker{cmd: cmd, client: client}, nil
}

// Close ends the session. The worker exits once its stdin closes.
func (w *remoteWorker) Close() error {
	w.client.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("worker exited: %w", err)
	}
	return nil
}
