// Command hsmlink-client connects to an hsmlink server and exchanges
// length-prefixed packets.
//
// Without arguments it starts an interactive prompt: every line is sent
// as one packet and the reply is printed. Arguments after the flags are
// sent one by one and the command exits. A lost session is reconnected
// with exponential backoff.
//
// Usage:
//
//	hsmlink-client [flags] [message...]
//
// Flags:
//
//	-config string        Configuration file path
//	-host string          Server host (default "localhost")
//	-port int             Server port (default 9443)
//	-tls                  Use TLS
//	-server-name string   Expected server certificate name
//	-ca-file string       PEM bundle used to verify the server
//	-insecure             Skip server certificate verification
//	-subject string       Client certificate subject to load from the store
//	-store string         Certificate store name (default "MY")
//	-store-root string    Directory holding certificate stores
//	-browse               Find the server through mDNS
//	-instance string      mDNS instance to connect to (default: first found)
//	-protocol-log string  Write protocol events to this .hlog file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Interactive session with a local echo server
//	hsmlink-client
//
//	# One-shot TLS exchange trusting a private CA
//	hsmlink-client -tls -host echo.example.net -ca-file ca.pem hello world
//
//	# Connect to whatever server answers on the local network
//	hsmlink-client -browse
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/config"
	"github.com/hsmlink/hsmlink-go/pkg/connection"
	"github.com/hsmlink/hsmlink-go/pkg/discovery"
	"github.com/hsmlink/hsmlink-go/pkg/log"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// Flags holds the command-line values. Only flags given explicitly
// override the configuration file.
type Flags struct {
	ConfigFile  string
	Host        string
	Port        int
	TLS         bool
	ServerName  string
	CAFile      string
	Insecure    bool
	Subject     string
	Store       string
	StoreRoot   string
	Browse      bool
	Instance    string
	ProtocolLog string
	LogLevel    string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Host, "host", "localhost", "Server host")
	flag.IntVar(&flags.Port, "port", config.DefaultPort, "Server port")
	flag.BoolVar(&flags.TLS, "tls", false, "Use TLS")
	flag.StringVar(&flags.ServerName, "server-name", "", "Expected server certificate name")
	flag.StringVar(&flags.CAFile, "ca-file", "", "PEM bundle used to verify the server")
	flag.BoolVar(&flags.Insecure, "insecure", false, "Skip server certificate verification")
	flag.StringVar(&flags.Subject, "subject", "", "Client certificate subject to load from the store")
	flag.StringVar(&flags.Store, "store", config.DefaultStore, "Certificate store name")
	flag.StringVar(&flags.StoreRoot, "store-root", "", "Directory holding certificate stores")
	flag.BoolVar(&flags.Browse, "browse", false, "Find the server through mDNS")
	flag.StringVar(&flags.Instance, "instance", "", "mDNS instance to connect to (default: first found)")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this .hlog file")
	flag.StringVar(&flags.LogLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(flags, setFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hsmlink-client: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, flags, flag.Args(), logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

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

	if set["host"] {
		cfg.Link.Host = f.Host
	}
	if set["port"] {
		cfg.Link.Port = f.Port
	}
	if set["tls"] {
		cfg.TLS.Enabled = f.TLS
	}
	if set["server-name"] {
		cfg.TLS.ServerName = f.ServerName
	}
	if set["ca-file"] {
		cfg.TLS.CAFile = f.CAFile
	}
	if set["insecure"] {
		cfg.TLS.InsecureSkipVerify = f.Insecure
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
	if set["instance"] {
		cfg.Discovery.Instance = f.Instance
	}
	if set["protocol-log"] {
		cfg.Log.Protocol = f.ProtocolLog
	}
	if set["log-level"] {
		cfg.Log.Level = f.LogLevel
	}

	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// applyService points cfg at a discovered server.
func applyService(cfg *config.Config, svc *discovery.Service) {
	cfg.Link.Host, cfg.Link.Port = svc.Target()
	cfg.TLS.Enabled = svc.TLS
	if svc.TLS && svc.Subject != "" && cfg.TLS.ServerName == "" {
		cfg.TLS.ServerName = svc.Subject
	}
	if svc.MaxPacketSize > 0 && svc.MaxPacketSize < cfg.Framing.MaxPacketSize {
		cfg.Framing.MaxPacketSize = svc.MaxPacketSize
	}
}

// locate browses for the configured instance, or the first server found.
func locate(ctx context.Context, b discovery.Browser, cfg *config.Config) (*discovery.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Discovery.BrowseFor)
	defer cancel()

	if cfg.Discovery.Instance != "" {
		return b.Find(ctx, cfg.Discovery.Instance)
	}
	found, err := b.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, discovery.ErrNotFound
	}
	return found[0], nil
}

// newDialer builds a SessionDialer from cfg.
func newDialer(cfg *config.Config, protocol log.Logger) (*connection.SessionDialer, error) {
	roots, err := cfg.RootCAs()
	if err != nil {
		return nil, err
	}
	opts := cfg.ConnectOptions(roots)
	cred, err := cfg.Credential()
	if err != nil {
		return nil, fmt.Errorf("client credential: %w", err)
	}
	opts.Credential = cred
	opts.Logger = protocol
	return &connection.SessionDialer{
		Host:      cfg.Link.Host,
		Port:      cfg.Link.Port,
		Options:   opts,
		PollSlice: cfg.Timeouts.Poll,
	}, nil
}

func run(cfg *config.Config, f Flags, messages []string, logger *slog.Logger) error {
	if err := socketStartup(logger); err != nil {
		return err
	}
	defer socketCleanup(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.Browse {
		browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Discovery.Interface, Logger: logger})
		svc, err := locate(ctx, browser, cfg)
		browser.Stop()
		if err != nil {
			return fmt.Errorf("browse: %w", err)
		}
		logger.Info("found server", "service", svc.String(), "tls", svc.TLS)
		applyService(cfg, svc)
	}

	var protocol log.Logger
	if cfg.Log.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Log.Protocol)
		if err != nil {
			return err
		}
		defer fl.Close()
		protocol = fl
	}

	dialer, err := newDialer(cfg, protocol)
	if err != nil {
		return err
	}

	interactive := len(messages) == 0
	var ic *Interactive
	if interactive {
		if ic, err = NewInteractive(nil); err != nil {
			return err
		}
		// Redirect log output through readline to avoid interfering with input
		logger = slog.New(slog.NewTextHandler(ic.Stdout(), &slog.HandlerOptions{Level: cfg.Level()}))
	}

	client := NewClient(dialer, logger,
		connection.WithBackoff(cfg.Backoff()),
		connection.WithAttemptTimeout(cfg.Timeouts.Connect),
		connection.WithAutoReconnect(interactive),
	)
	client.ReplyTimeout = cfg.Timeouts.IO
	defer client.Close()

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect)
	err = client.Connect(cctx)
	cancel()
	if err != nil {
		if ic != nil {
			ic.Close()
		}
		return fmt.Errorf("connect %s:%d: %w", cfg.Link.Host, cfg.Link.Port, err)
	}
	st := client.Status()
	logger.Info("connected", "peer", st.Remote, "session", st.Session, "tls", st.TLS, "cipher", st.CipherSuite)

	if !interactive {
		return sendAll(client, messages, os.Stdout)
	}

	m := client.Manager()
	m.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})
	m.OnConnected(func() {
		st := client.Status()
		logger.Info("reconnected", "peer", st.Remote, "session", st.Session)
	})

	ic.client = client
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	ic.Run(ctx, cancelRun)
	return nil
}

func socketStartup(logger *slog.Logger) error {
	if err := socket.Startup(); err != nil {
		return fmt.Errorf("socket startup: %w", err)
	}
	logger.Debug("socket layer ready")
	return nil
}

func socketCleanup(logger *slog.Logger) {
	if err := socket.Cleanup(); err != nil {
		logger.Warn("socket cleanup", "error", err)
	}
}

// sendAll exchanges each message in order and prints the replies.
func sendAll(client *Client, messages []string, w io.Writer) error {
	for _, msg := range messages {
		reply, err := client.Exchange([]byte(msg))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, printable(reply))
	}
	return nil
}
