// Command pml-gatewayd runs the Procedural Memory Layer's Meta-Tool Router
// as a standalone HTTP process: the one binary an LLM client's MCP transport
// talks to for discover/execute/abort/continue/replan.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"

	"github.com/pml-run/gateway/internal/config"
)

func main() {
	var (
		hostF     = flag.String("host", "localhost", "Server host")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides the configured host port)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	if *httpPortF != "" {
		cfg.HTTPPort = *httpPortF
	}
	if *hostF != "" {
		cfg.HTTPHost = *hostF
	}
	log.Print(ctx, log.KV{K: "http-host", V: cfg.HTTPHost}, log.KV{K: "http-port", V: cfg.HTTPPort})

	gw, err := wire(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "failed to wire the gateway")
	}

	addr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	u := &url.URL{Scheme: "http", Host: addr}

	// Create channel used by both the signal handler and server goroutine
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, u, gw, &wg, errc, *dbgF)

	log.Printf(ctx, "exiting (%v)", <-errc)

	cancel()
	wg.Wait()

	if err := gw.Close(); err != nil {
		log.Printf(ctx, "shutdown: %v", err)
	}
	log.Printf(ctx, "exited")
}
