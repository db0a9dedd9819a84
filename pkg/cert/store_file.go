package cert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File extensions recognised by FileStore.
const (
	certExt = ".pem"
	keyExt  = ".key"
)

var containerExts = []string{".p12", ".pfx"}

// FileStore keeps credentials in a directory. Each PEM credential is a
// <name>.pem chain file next to a <name>.key key file. PKCS#12 containers
// (<name>.p12 or <name>.pfx) are loaded read-only using Password.
type FileStore struct {
	mu  sync.RWMutex
	dir string

	// Password unlocks PKCS#12 containers. Must be set before Load.
	Password string

	creds    map[string]*Credential
	readOnly map[string]bool
	removed  map[string]bool
}

// NewFileStore returns a store rooted at dir. Call Load to read it.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:      dir,
		creds:    make(map[string]*Credential),
		readOnly: make(map[string]bool),
		removed:  make(map[string]bool),
	}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Find(subject string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBest(s.creds, subject)
}

func (s *FileStore) Add(cred *Credential) error {
	c, err := prepare(cred)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly[c.Name] {
		return fmt.Errorf("%w: %s", ErrReadOnly, c.Name)
	}
	s.creds[c.Name] = c
	delete(s.removed, c.Name)
	return nil
}

func (s *FileStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[name]; !ok {
		return ErrCertNotFound
	}
	if s.readOnly[name] {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	delete(s.creds, name)
	s.removed[name] = true
	return nil
}

func (s *FileStore) List() []*Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCredentials(s.creds)
}

// Load replaces the in-memory state with the directory contents.
// A missing directory is an empty store.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.reset()
		return nil
	}
	if err != nil {
		return err
	}

	creds := make(map[string]*Credential)
	readOnly := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := e.Name()
		ext := strings.ToLower(filepath.Ext(file))
		name := strings.TrimSuffix(file, filepath.Ext(file))

		switch {
		case ext == certExt:
			keyPath := filepath.Join(s.dir, name+keyExt)
			if _, err := os.Stat(keyPath); err != nil {
				// Bare certificates (CA bundles) are not credentials.
				continue
			}
			c, err := ReadCredentialFiles(filepath.Join(s.dir, file), keyPath)
			if err != nil {
				return err
			}
			c.Name = name
			creds[name] = c
		case isContainer(ext):
			data, err := os.ReadFile(filepath.Join(s.dir, file))
			if err != nil {
				return err
			}
			c, err := DecodePKCS12(data, s.Password)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			c.Name = name
			creds[name] = c
			readOnly[name] = true
		}
	}

	s.creds = creds
	s.readOnly = readOnly
	s.removed = make(map[string]bool)
	return nil
}

// Save writes every PEM credential and deletes the files of removed ones.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	for name, c := range s.creds {
		if s.readOnly[name] {
			continue
		}
		if err := WriteCredentialFiles(s.certPath(name), s.keyPath(name), c); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	for name := range s.removed {
		_ = os.Remove(s.certPath(name))
		_ = os.Remove(s.keyPath(name))
	}
	s.removed = make(map[string]bool)
	return nil
}

func (s *FileStore) reset() {
	s.creds = make(map[string]*Credential)
	s.readOnly = make(map[string]bool)
	s.removed = make(map[string]bool)
}

func (s *FileStore) certPath(name string) string { return filepath.Join(s.dir, name+certExt) }
func (s *FileStore) keyPath(name string) string  { return filepath.Join(s.dir, name+keyExt) }

func isContainer(ext string) bool {
	for _, e := range containerExts {
		if ext == e {
			return true
		}
	}
	return false
}

var _ Store = (*FileStore)(nil)
