package discovery

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Browser finds hsmlink servers.
type Browser interface {
	// Browse streams servers as they are found. The channel closes when
	// ctx ends.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the server with the given instance name.
	Find(ctx context.Context, instance string) (*Service, error)

	// FindAll collects every server seen until ctx ends.
	FindAll(ctx context.Context) ([]*Service, error)

	// Stop cancels all browse operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{}
}

// ServiceEntry is a raw DNS-SD answer, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToService decodes the TXT records of e.
func (e *ServiceEntry) ToService() (*Service, error) {
	svc := &Service{
		Instance:  e.Instance,
		Host:      e.Host,
		Port:      e.Port,
		Addresses: append([]string(nil), e.Addrs...),
	}
	if err := DecodeServiceTXT(StringsToTXTRecords(e.Text), svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func fromZeroconf(entry *zeroconf.ServiceEntry) *ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return &ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// browseFunc feeds raw answers into entries and withdrawals into removed
// until ctx ends. It closes entries when done.
type browseFunc func(ctx context.Context, ifaces []net.Interface, entries, removed chan<- *ServiceEntry) error

func zeroconfBrowse(ctx context.Context, ifaces []net.Interface, entries, removed chan<- *ServiceEntry) error {
	zentries := make(chan *zeroconf.ServiceEntry)
	zremoved := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if len(ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(entries)
		for {
			select {
			case e, ok := <-zentries:
				if !ok {
					return
				}
				select {
				case entries <- fromZeroconf(e):
				case <-ctx.Done():
					return
				}
			case e, ok := <-zremoved:
				if !ok {
					zremoved = nil
					continue
				}
				select {
				case removed <- fromZeroconf(e):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return zeroconf.Browse(ctx, ServiceType, Domain, zentries, zremoved, opts...)
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	browse browseFunc
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MDNSBrowser{
		config: config,
		browse: zeroconfBrowse,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *MDNSBrowser) interfaces() []net.Interface {
	if b.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(b.config.Interface)
	if err != nil {
		b.logger.Warn("mdns interface not found, using all", "interface", b.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// Browse streams servers, aggregated by instance name. A server is sent
// once, when first seen; later answers only merge addresses.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	b.mu.Lock()
	parent := b.ctx
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(parent, cancel)

	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)
	out := make(chan *Service)

	go func() {
		defer stop()
		defer cancel()
		aggregate(ctx, entries, removed, out, b.logger)
	}()
	go func() {
		if err := b.browse(ctx, b.interfaces(), entries, removed); err != nil && ctx.Err() == nil {
			b.logger.Warn("mdns browse failed", "error", err)
			cancel()
		}
	}()
	return out, nil
}

// aggregate merges answers per instance and forwards new services to out.
// It closes out when entries closes or ctx ends.
func aggregate(ctx context.Context, entries, removed <-chan *ServiceEntry, out chan<- *Service, logger *slog.Logger) {
	defer close(out)
	services := make(map[string]*Service)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc, err := entry.ToService()
			if err != nil {
				logger.Debug("ignoring mdns answer", "instance", entry.Instance, "error", err)
				continue
			}
			if existing, found := services[svc.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.Instance] = svc
			cp := *svc
			cp.Addresses = append([]string(nil), svc.Addresses...)
			select {
			case out <- &cp:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (b *MDNSBrowser) Find(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if svc.Instance == instance {
			return svc, nil
		}
	}
	return nil, ErrNotFound
}

// FindAll returns an empty slice, not an error, when nothing answered
// before ctx ended.
func (b *MDNSBrowser) FindAll(ctx context.Context) ([]*Service, error) {
	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	found := []*Service{}
	for svc := range results {
		found = append(found, svc)
	}
	return found, nil
}

// Stop cancels every browse started by b. Later Browse calls end at once.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses returns addresses without the withdrawn ones.
func removeAddresses(addresses, withdrawn []string) []string {
	drop := make(map[string]bool, len(withdrawn))
	for _, a := range withdrawn {
		drop[a] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}

var _ Browser = (*MDNSBrowser)(nil)
