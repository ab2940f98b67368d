// Command plexbeam is the process the media server actually invokes in
// place of its real transcoder binary: one call in, one coordinated
// dispatch, one exit code out. It never stays resident between calls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/plexbeam/cartridge/cartridge"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	// Mode C's fast-start transcode holds stdout/stderr open to a media
	// server that may close its end of the pipe early; outside Mode C a
	// SIGPIPE is a real signal to shut down on, same as SIGINT/SIGTERM.
	maskSIGPIPE := cfg.MultiMode == config.ModeBitTorrent

	cwd, err := os.Getwd()
	if err != nil {
		log.LogNoRequestID("failed to resolve working directory", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals := []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	if !maskSIGPIPE {
		notifySignals = append(notifySignals, syscall.SIGPIPE)
	} else {
		signal.Ignore(syscall.SIGPIPE)
	}
	signal.Notify(sigCh, notifySignals...)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case s := <-sigCh:
			log.LogNoRequestID("caught signal, attempting clean shutdown", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	outcome, err := cartridge.Run(ctx, os.Args[1:], cwd)
	return exitCode(outcome, err)
}

// exitCode maps a cartridge run onto a process exit status: 0 if any
// dispatch strategy produced a complete output, the local transcoder's
// own exit code if fallback ran, 1 on a configured-no-fallback failure.
func exitCode(outcome cartridge.Outcome, err error) int {
	if err != nil {
		if cartridgeerrors.IsExternalKill(err) {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		log.LogNoRequestID("cartridge run failed", "err", err)
		return 1
	}
	if outcome.FallbackRan {
		return outcome.FallbackExitCode
	}
	if outcome.Dispatched {
		return 0
	}
	return 1
}
