package cert

import (
	"errors"
	"sort"
	"strings"
)

// Store errors.
var (
	ErrCertNotFound = errors.New("certificate not found")
	ErrInvalidCert  = errors.New("invalid certificate")
	ErrInvalidName  = errors.New("invalid credential name")
	ErrReadOnly     = errors.New("credential is read-only")
)

// Store holds named TLS credentials.
// Implementations must be safe for concurrent access.
type Store interface {
	// Find returns the credential whose CommonName or DNS SAN matches
	// subject. Unexpired matches win over expired ones, and among those the
	// latest NotAfter wins. Returns ErrCertNotFound if nothing matches and
	// ErrCertExpired if only expired credentials match.
	Find(subject string) (*Credential, error)

	// Add stores cred under cred.Name, replacing any entry with that name.
	// An empty name defaults to the subject.
	Add(cred *Credential) error

	// Remove deletes the named entry.
	Remove(name string) error

	// List returns all credentials sorted by name.
	List() []*Credential

	// Load reads the store from its backing storage.
	Load() error

	// Save persists the store to its backing storage.
	Save() error
}

// findBest implements the Find selection rule over creds.
func findBest(creds map[string]*Credential, subject string) (*Credential, error) {
	var best, expired *Credential
	for _, c := range creds {
		if !c.MatchesSubject(subject) {
			continue
		}
		if c.IsExpired() {
			expired = c
			continue
		}
		if best == nil || c.ExpiresAt().After(best.ExpiresAt()) {
			best = c
		}
	}
	switch {
	case best != nil:
		return best, nil
	case expired != nil:
		return nil, ErrCertExpired
	default:
		return nil, ErrCertNotFound
	}
}

func sortedCredentials(creds map[string]*Credential) []*Credential {
	out := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validName rejects names that would escape a store directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// prepare checks cred and fills in its default name.
func prepare(cred *Credential) (*Credential, error) {
	if cred == nil || cred.Certificate == nil || cred.PrivateKey == nil {
		return nil, ErrInvalidCert
	}
	c := *cred
	if c.Name == "" {
		c.Name = c.Subject()
	}
	if !validName(c.Name) {
		return nil, ErrInvalidName
	}
	return &c, nil
}
