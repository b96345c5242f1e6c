package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"scanattend/internal/config"
	"scanattend/internal/logging"
	"scanattend/internal/scanner"
	"scanattend/internal/station"
)

// Station reads a QR scanner and submits every scan to the attendance API.
// In wedge mode the scanner types into this terminal; in optical mode an
// external decoder pipes one payload per line into stdin.
func main() {
	cfg, err := config.LoadStation()
	logger := logging.New(cfg.LogLevel, "")
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	mode, err := scanner.ParseMode(cfg.Mode)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Raw mode hands over every keystroke as typed, which the quiet-period
	// framing depends on.
	fd := int(os.Stdin.Fd())
	if mode == scanner.ModeWedge && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			logger.Fatalf("raw terminal: %v", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
		logger.SetOutput(crlfWriter{os.Stdout})
	}

	runner := station.NewRunner(station.NewClient(cfg.APIURL, cfg.Token), logger)
	session := scanner.NewSession(cfg.QuietPeriod, runner.Enqueue)
	session.SetMode(mode)
	defer session.Close()
	go runner.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if mode == scanner.ModeOptical {
			errCh <- station.FeedLines(os.Stdin, session)
			return
		}
		errCh <- scanner.ReadKeys(bufio.NewReader(os.Stdin), session.HandleKey)
	}()

	logger.WithFields(logrus.Fields{"mode": mode, "api": cfg.APIURL}).Info("station ready, scan a badge")
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, scanner.ErrInterrupted) {
			logger.Errorf("input: %v", err)
		}
	}
	logger.Info("station stopped")
}

// crlfWriter restores line starts on a raw terminal, which no longer maps
// "\n" to "\r\n".
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
