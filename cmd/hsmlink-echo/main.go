// Command hsmlink-echo is a packet echo server.
//
// Every length-prefixed packet a client sends is written back unchanged.
// The server is useful as a peer for hsmlink-client and for exercising
// TLS credentials from a certificate store.
//
// Usage:
//
//	hsmlink-echo [flags]
//
// Flags:
//
//	-config string          Configuration file path
//	-port int               Listen port (default 9443)
//	-tls                    Require TLS on every session
//	-subject string         Certificate subject to load from the store
//	-store string           Certificate store name (default "MY")
//	-store-root string      Directory holding certificate stores
//	-require-client-cert    Require and verify client certificates
//	-protocol-log string    Write protocol events to this .hlog file
//	-metrics-addr string    Serve Prometheus metrics on this address
//	-advertise              Advertise the server through mDNS
//	-log-level string       Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Plain echo server on the default port
//	hsmlink-echo
//
//	# TLS with a generated self-signed certificate
//	hsmlink-echo -tls
//
//	# TLS with a stored credential, metrics and a protocol capture
//	hsmlink-echo -tls -subject echo.example.net -store-root /etc/hsmlink/certs \
//	    -metrics-addr :9100 -protocol-log echo.hlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/config"
	"github.com/hsmlink/hsmlink-go/pkg/discovery"
	"github.com/hsmlink/hsmlink-go/pkg/log"
	"github.com/hsmlink/hsmlink-go/pkg/metrics"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// Flags holds the command-line values. Only flags given explicitly
// override the configuration file.
type Flags struct {
	ConfigFile        string
	Port              int
	TLS               bool
	Subject           string
	Store             string
	StoreRoot         string
	RequireClientCert bool
	ProtocolLog       string
	MetricsAddr       string
	Advertise         bool
	LogLevel          string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.IntVar(&flags.Port, "port", config.DefaultPort, "Listen port")
	flag.BoolVar(&flags.TLS, "tls", false, "Require TLS on every session")
	flag.StringVar(&flags.Subject, "subject", "", "Certificate subject to load from the store (self-signed if empty)")
	flag.StringVar(&flags.Store, "store", config.DefaultStore, "Certificate store name")
	flag.StringVar(&flags.StoreRoot, "store-root", "", "Directory holding certificate stores")
	flag.BoolVar(&flags.RequireClientCert, "require-client-cert", false, "Require and verify client certificates")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this .hlog file")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flag.BoolVar(&flags.Advertise, "advertise", false, "Advertise the server through mDNS")
	flag.StringVar(&flags.LogLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(flags, setFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hsmlink-echo: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// setFlags returns the names of the flags present on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the optional config file and applies explicit flags
// on top of it.
func loadConfig(f Flags, set map[string]bool) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		loaded, err := config.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if set["port"] {
		cfg.Link.Port = f.Port
	}
	if set["tls"] {
		cfg.TLS.Enabled = f.TLS
	}
	if set["subject"] {
		cfg.TLS.Subject = f.Subject
	}
	if set["store"] {
		cfg.TLS.Store = f.Store
	}
	if set["store-root"] {
		cfg.TLS.StoreRoot = f.StoreRoot
	}
	if set["require-client-cert"] {
		cfg.TLS.RequireClientCert = f.RequireClientCert
	}
	if set["protocol-log"] {
		cfg.Log.Protocol = f.ProtocolLog
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = f.MetricsAddr
	}
	if set["advertise"] {
		cfg.Discovery.Advertise = f.Advertise
	}
	if set["log-level"] {
		cfg.Log.Level = f.LogLevel
	}
	if cfg.Discovery.Advertise && cfg.Discovery.Instance == "" {
		host, _ := os.Hostname()
		cfg.Discovery.Instance = "hsmlink-echo"
		if host != "" {
			cfg.Discovery.Instance += "-" + host
		}
	}

	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := socket.Startup(); err != nil {
		return err
	}
	defer func() {
		if err := socket.Cleanup(); err != nil {
			logger.Warn("socket cleanup", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	protocol, closeProtocol, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProtocol()

	srv := socket.NewServer()
	srv.SetLocator(cfg.Locator())
	srv.SetMaxPacketSize(cfg.Framing.MaxPacketSize)
	srv.SetIOTimeout(cfg.Timeouts.IO)
	if protocol != nil {
		srv.SetLogger(protocol)
	}
	subject, err := installCredentials(srv, cfg)
	if err != nil {
		return err
	}
	if err := srv.OpenAddr(cfg.ListenHost(), cfg.Link.Port); err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("listening", "addr", srv.Addr(), "tls", srv.TLSEnabled(), "subject", subject)

	if cfg.Discovery.Advertise {
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
			TTL:       discovery.DefaultTTL,
			Logger:    logger,
		})
		info := &discovery.ServiceInfo{
			Instance:      cfg.Discovery.Instance,
			Port:          uint16(srv.Port()),
			TLS:           srv.TLSEnabled(),
			Subject:       subject,
			MaxPacketSize: cfg.Framing.MaxPacketSize,
		}
		if err := adv.Advertise(info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.StopAll()
		}
	}

	echo := NewEchoServer(srv, logger)
	echo.AcceptTimeout = cfg.Timeouts.Accept
	echo.PollSlice = cfg.Timeouts.Poll

	done := make(chan error, 1)
	go func() { done <- echo.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.Close()
		return <-done
	case err := <-done:
		return err
	}
}

// installCredentials sets up TLS on srv and returns the certificate
// subject in use, or "" for a plain server.
func installCredentials(srv *socket.Server, cfg *config.Config) (string, error) {
	if !cfg.TLS.Enabled {
		return "", nil
	}
	if cfg.TLS.CAFile != "" {
		roots, err := cfg.RootCAs()
		if err != nil {
			return "", err
		}
		srv.SetClientCAs(roots)
	}
	if cfg.TLS.Subject == "" {
		cred, err := cert.GenerateSelfSigned("localhost", 24*time.Hour)
		if err != nil {
			return "", err
		}
		srv.SetCredential(cred, cfg.TLS.RequireClientCert)
		return cred.Subject(), nil
	}
	if err := srv.InitCredentialsFromStore(cfg.TLS.Subject, cfg.TLS.Store, cfg.TLS.RequireClientCert); err != nil {
		return "", err
	}
	return cfg.TLS.Subject, nil
}

// protocolLogger combines the configured protocol event sinks. It returns
// a nil logger when nothing consumes events.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	multi := log.NewMultiLogger()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Log.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Log.Protocol)
		if err != nil {
			return nil, nil, err
		}
		multi.Add(fl)
		closers = append(closers, func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol events dropped", "count", n)
			}
			fl.Close()
		})
		logger.Info("protocol logging enabled", "file", cfg.Log.Protocol)
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		multi.Add(metrics.New(reg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		hs := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			hs.Shutdown(ctx)
		})
		logger.Info("metrics enabled", "addr", cfg.Metrics.Addr)
	}

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		multi.Add(log.NewSlogAdapter(logger.With("component", "protocol")))
	}

	if multi.Len() == 0 {
		return nil, closeAll, nil
	}
	return multi, closeAll, nil
}
