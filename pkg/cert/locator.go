package cert

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultStoreRoot is the directory DirLocator uses when Root is empty.
// It honours HSMLINK_CERT_ROOT.
var DefaultStoreRoot = defaultStoreRoot()

func defaultStoreRoot() string {
	if root := os.Getenv("HSMLINK_CERT_ROOT"); root != "" {
		return root
	}
	return "/etc/hsmlink/certs"
}

// Locator resolves a store name such as "MY" to a loaded Store.
type Locator interface {
	Open(name string) (Store, error)
}

// DirLocator maps store names to FileStore directories under Root.
type DirLocator struct {
	Root string

	// Password unlocks PKCS#12 containers in every opened store.
	Password string
}

// Open loads <Root>/<name>.
func (l DirLocator) Open(name string) (Store, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	root := l.Root
	if root == "" {
		root = DefaultStoreRoot
	}
	dir := filepath.Join(root, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	s := NewFileStore(dir)
	s.Password = l.Password
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load store %q: %w", name, err)
	}
	return s, nil
}

// MapLocator resolves names from a fixed map.
type MapLocator map[string]Store

func (m MapLocator) Open(name string) (Store, error) {
	s, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: store %q", ErrCertNotFound, name)
	}
	return s, nil
}

var (
	_ Locator = DirLocator{}
	_ Locator = MapLocator{}
)
