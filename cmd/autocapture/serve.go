package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ninjra/autocapture-pipeline/internal/config"
	"github.com/ninjra/autocapture-pipeline/pkg/evidence"
	"github.com/ninjra/autocapture-pipeline/pkg/queryapi"
)

// runServeCmd starts the localhost-only query HTTP surface (pkg/queryapi)
// over the data root's already-ingested state. Spans and edges are loaded
// once at startup into a single in-memory tape.Reader; ingestion that
// happens after the server starts is not visible until the next restart.
// Re-running `batch run` and `serve` as two independent long-lived
// processes against the same data directory is the expected deployment
// shape (§6: the CLI has no long-running combined daemon mode).
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "data directory (overrides DATA_DIR when set)")
	denylist := fs.String("denylist-expr", "", "CEL expression denying apps from every query")
	exportExpr := fs.String("export-expr", "", "CEL expression granting text export")
	tokenTTL := fs.Duration("token-ttl", 0, "bearer token lifetime (0 = config default)")
	rateLimit := fs.Int("rate-limit-rps", 5, "per-IP requests/sec allowed (0 disables rate limiting)")
	rateBurst := fs.Int("rate-limit-burst", 10, "per-IP burst size")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitInternalError
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if code := requireConsent(cfg.DataDir, stderr); code != exitOK {
		return code
	}

	store, _, _, err := openDataRoot(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitInternalError
	}
	defer store.Close()

	ctx := context.Background()
	reader, err := loadTapeReader(ctx, store, 0, 1<<62)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitInternalError
	}

	gate, err := evidence.NewPolicyGate(*denylist, *exportExpr)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitInternalError
	}

	ttl := *tokenTTL
	if ttl <= 0 {
		ttl = cfg.PopupQueryTimeout * 5
	}
	tokens, err := queryapi.NewTokenManager(ttl)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitInternalError
	}

	comp := &evidence.Compiler{
		Spans:       reader,
		Policy:      gate,
		DefaultTopK: cfg.MaxCitationsDefault,
		MaxTopK:     cfg.MaxCitationsMax,
	}
	srv := &queryapi.Server{
		Compiler:          comp,
		Tokens:            tokens,
		QueryTimeout:      cfg.PopupQueryTimeout,
		MaxTopK:           cfg.MaxCitationsMax,
		RequestsPerSecond: *rateLimit,
		Burst:             *rateBurst,
	}

	addr := cfg.BindHost + ":" + cfg.BindPort
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	fmt.Fprintf(stdout, "query api listening on %s\n", addr)
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return exitInternalError
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PopupQueryTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return exitOK
}
