package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes server instances.
type Advertiser interface {
	// Advertise starts publishing info, replacing an earlier
	// advertisement with the same instance name.
	Advertise(info *ServiceInfo) error

	// Update replaces the TXT records of a running advertisement.
	Update(info *ServiceInfo) error

	// Stop withdraws one instance.
	Stop(instance string) error

	// StopAll withdraws every instance.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Zero uses DefaultTTL.
	TTL time.Duration

	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// registration is the part of *zeroconf.Server the advertiser uses.
type registration interface {
	SetText(text []string)
	Shutdown()
}

// registerFunc registers one DNS-SD instance.
type registerFunc func(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (registration, error)

func zeroconfRegister(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (registration, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	return zeroconf.Register(instance, ServiceType, Domain, port, text, ifaces, opts...)
}

// MDNSAdvertiser implements Advertiser using zeroconf.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	register registerFunc
	logger   *slog.Logger

	mu      sync.Mutex
	servers map[string]registration
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSAdvertiser{
		config:   config,
		register: zeroconfRegister,
		logger:   logger,
		servers:  make(map[string]registration),
	}
}

// interfaces returns the interfaces to advertise on, or nil for all.
func (a *MDNSAdvertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("mdns interface not found, using all", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

func encodeInfo(info *ServiceInfo) ([]string, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	text := TXTRecordsToStrings(EncodeServiceTXT(info))
	if txtSize(text) > MaxTXTRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidTXTRecord, txtSize(text))
	}
	return text, nil
}

func (a *MDNSAdvertiser) Advertise(info *ServiceInfo) error {
	text, err := encodeInfo(info)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.servers[info.Instance]; ok {
		old.Shutdown()
		delete(a.servers, info.Instance)
	}
	srv, err := a.register(info.Instance, int(info.Port), text, a.interfaces(), a.config.TTL)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", info.Instance, err)
	}
	a.servers[info.Instance] = srv
	a.logger.Info("advertising", "instance", info.Instance, "port", info.Port, "tls", info.TLS)
	return nil
}

func (a *MDNSAdvertiser) Update(info *ServiceInfo) error {
	text, err := encodeInfo(info)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	srv, ok := a.servers[info.Instance]
	if !ok {
		return ErrNotFound
	}
	srv.SetText(text)
	return nil
}

func (a *MDNSAdvertiser) Stop(instance string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	srv, ok := a.servers[instance]
	if !ok {
		return ErrNotFound
	}
	srv.Shutdown()
	delete(a.servers, instance)
	return nil
}

func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, srv := range a.servers {
		srv.Shutdown()
		delete(a.servers, name)
	}
}

var _ Advertiser = (*MDNSAdvertiser)(nil)
