package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	statushttp "github.com/kjstillabower/zappai-client/internal/http"
	"github.com/kjstillabower/zappai-client/internal/lifecycle"
	"github.com/kjstillabower/zappai-client/internal/locations"
	"github.com/kjstillabower/zappai-client/internal/session"
	"github.com/kjstillabower/zappai-client/internal/traffic"
)

// watchLocations mounts the locations view until a signal, "quit" on stdin or a
// session expiry. stdin lines: "delete ID", "download ID", "search [Q]", "quit".
func watchLocations(ctx context.Context, a *app, search string, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := lifecycle.NewShutdown()
	tracker := traffic.New(0, nil)
	coll := locations.NewCollection(locations.Options{
		Reconcile:   a.cfg.Reconcile,
		PendingHold: a.cfg.PendingHold,
		Logger:      a.logger,
	})
	view := locations.NewView(a.api, coll, locations.ViewOptions{Interval: interval, Logger: a.logger, Outcomes: tracker})
	mutator := locations.NewMutator(a.api, coll, a.logger)

	var outMu sync.Mutex
	query := search
	printf := func(format string, args ...interface{}) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(a.out.stdout, format, args...)
	}
	render := func(s locations.Snapshot) {
		outMu.Lock()
		defer outMu.Unlock()
		if s.Loading {
			fmt.Fprintln(a.out.stdout, "loading locations...")
			return
		}
		fmt.Fprintf(a.out.stdout, "\n%s  %d locations\n", time.Now().Format("15:04:05"), len(s.Items))
		printLocations(a.out.stdout, coll.Filter(query))
		if s.Err != "" {
			fmt.Fprintf(a.out.stdout, "error: %s\n", s.Err)
		}
	}
	defer coll.Subscribe(render)()

	expired := make(chan struct{}, 1)
	defer a.state.Subscribe(func(snap session.Snapshot) {
		if snap.Phase == session.PhaseResolved && snap.Session == nil {
			select {
			case expired <- struct{}{}:
			default:
			}
		}
	})()

	var srvErr <-chan error
	if a.cfg.StatusAddr != "" {
		h := statushttp.NewHandler(statushttp.Deps{
			Session:   a.state,
			Locations: coll,
			Tracker:   tracker,
			Shutdown:  shutdown,
			Health: &statushttp.HealthConfig{
				ErrorWindow:    a.cfg.StatusErrorWindow,
				ErrorPct:       a.cfg.StatusErrorPct,
				TokenStorePing: a.storePing,
			},
			Logger: a.logger,
		})
		srv, err := statushttp.Listen(a.cfg.StatusAddr, statushttp.NewRouter(h, a.logger), a.logger)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		srvErr = srv.Serve()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("status server shutdown", zap.Error(err))
			}
		}()
	}

	if err := view.Mount(ctx); err != nil {
		return err
	}
	defer view.Unmount()

	defer closeInput(a.out.stdin)
	lines := scanLines(ctx, a.out.stdin)

	for {
		select {
		case <-ctx.Done():
			shutdown.Begin("signal")
			a.logger.Info("watch stopping", zap.String("reason", "signal"))
			return nil
		case <-expired:
			shutdown.Begin("session_expired")
			return errNotLoggedIn
		case err, ok := <-srvErr:
			if ok && err != nil {
				shutdown.Begin("status_server")
				return fmt.Errorf("status server: %w", err)
			}
			srvErr = nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			arg = strings.TrimSpace(arg)
			switch verb {
			case "":
			case "quit", "exit":
				shutdown.Begin("quit")
				return nil
			case "search":
				outMu.Lock()
				query = arg
				outMu.Unlock()
				render(coll.Snapshot())
			case "delete":
				if err := mutator.Remove(ctx, arg); err != nil {
					printf("delete %s failed: %v\n", arg, err)
				}
			case "download":
				if err := mutator.MarkInProgress(ctx, arg); err != nil {
					printf("download %s failed: %v\n", arg, err)
				}
			default:
				printf("unknown command %q (delete ID, download ID, search [Q], quit)\n", verb)
			}
		}
	}
}

// scanLines sends each line of r until r is exhausted or ctx ends. The returned
// channel is closed when the reading goroutine exits, which needs the pending
// Read on r to return.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// closeInput unblocks the scanner by closing a closable input. os.Stdin is left
// open; a blocked read on it ends with the process.
func closeInput(r io.Reader) {
	if r == os.Stdin {
		return
	}
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
