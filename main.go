package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"tailscale.com/client/tailscale"
	"tailscale.com/tsnet"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %v\n", err)
		os.Exit(2)
	}

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	var s Service
	{
		svc, err := newService(log.With(logger, "component", "service"), &http.Client{}, cfg.CloudURL, cfg.StorageURL, cfg.RobotURL)
		if err != nil {
			logger.Log("msg", "error creating service", "err", err)
			os.Exit(1)
		}
		s = svc
		s = newLoggingMiddleware(logger)(s)
	}

	ln, lc, err := listen(cfg)
	if err != nil {
		logger.Log("msg", "error listening", "err", err)
		os.Exit(1)
	}

	h, err := makeHandler(s, lc, cfg.StaticPath, logger)
	if err != nil {
		logger.Log("msg", "error building handler", "err", err)
		os.Exit(1)
	}

	errs := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger.Log("transport", "HTTP", "addr", ln.Addr().String(), "tailnet", lc != nil)
		errs <- http.Serve(ln, h)
	}()

	logger.Log("exit", <-errs)
}

// listen opens the tailnet TLS listener when a tsnet hostname is configured,
// and a plain TCP listener otherwise.
func listen(cfg config) (net.Listener, *tailscale.LocalClient, error) {
	if cfg.TSNetHostname == "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
		}
		return ln, nil, nil
	}

	if err := os.MkdirAll(cfg.TSNetDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("mkdirall %q error: %w", cfg.TSNetDir, err)
	}
	srv := &tsnet.Server{
		Hostname: cfg.TSNetHostname,
		Dir:      cfg.TSNetDir,
	}
	if !cfg.LogTS {
		srv.Logf = func(format string, args ...any) {}
	}

	lc, err := srv.LocalClient()
	if err != nil {
		return nil, nil, fmt.Errorf("error getting tsnet local client: %w", err)
	}
	ln, err := srv.ListenTLS("tcp", cfg.TSNetAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("error listen tls: %w", err)
	}
	return ln, lc, nil
}
