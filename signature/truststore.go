package signature

import (
	"crypto/ed25519"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wippyai/ffb-runtime/errors"
)

// TrustLevel is the trust placed in a signing key.
type TrustLevel int

const (
	Unknown TrustLevel = iota
	Trusted
	Distrusted
)

func (l TrustLevel) String() string {
	switch l {
	case Trusted:
		return "trusted"
	case Distrusted:
		return "distrusted"
	}
	return "unknown"
}

func (l TrustLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *TrustLevel) UnmarshalText(b []byte) error {
	lvl, err := ParseTrustLevel(string(b))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

func ParseTrustLevel(s string) (TrustLevel, error) {
	switch s {
	case "trusted":
		return Trusted, nil
	case "unknown":
		return Unknown, nil
	case "distrusted":
		return Distrusted, nil
	}
	return Unknown, fmt.Errorf("unknown trust level %q", s)
}

// Entry is one key in the store.
type Entry struct {
	AddedAt        time.Time  `json:"added_at"`
	Identifier     string     `json:"identifier"`
	Reason         string     `json:"reason,omitempty"`
	PublicKey      []byte     `json:"public_key"`
	Level          TrustLevel `json:"trust_level"`
	UserModifiable bool       `json:"user_modifiable"`
}

// Stats counts entries by level.
type Stats struct {
	Trusted    int
	Unknown    int
	Distrusted int
	System     int
}

// ImportResult reports what Import changed.
type ImportResult struct {
	Imported int
	Updated  int
	Skipped  int
}

// TrustStore maps key fingerprints to trust decisions. A store opened from
// a file persists on Save; a store from NewTrustStore lives in memory only.
type TrustStore struct {
	entries map[string]*Entry
	now     func() time.Time
	path    string
	mu      sync.RWMutex
	dirty   bool
}

// NewTrustStore returns an empty in-memory store.
func NewTrustStore() *TrustStore {
	return &TrustStore{entries: make(map[string]*Entry), now: time.Now}
}

// OpenTrustStore loads path if it exists; a missing file yields an empty store
// that Save will create.
func OpenTrustStore(path string) (*TrustStore, error) {
	s := NewTrustStore()
	s.path = path
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, or "" for in-memory stores.
func (s *TrustStore) Path() string { return s.path }

// Add stores a user key at level and returns its fingerprint.
// An existing entry for the same key is replaced unless it is a system key.
func (s *TrustStore) Add(pub ed25519.PublicKey, identifier string, level TrustLevel, reason string) (string, error) {
	return s.add(pub, identifier, level, reason, true)
}

// AddSystemKey stores a key that Remove and UpdateLevel refuse to touch.
func (s *TrustStore) AddSystemKey(pub ed25519.PublicKey, identifier, reason string) (string, error) {
	return s.add(pub, identifier, Trusted, reason, false)
}

func (s *TrustStore) add(pub ed25519.PublicKey, identifier string, level TrustLevel, reason string, modifiable bool) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.InvalidInput(errors.PhaseVerify, fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub)))
	}
	fp := Fingerprint(pub)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[fp]; ok && !e.UserModifiable {
		return "", errors.New(errors.PhaseVerify, errors.KindPermissionDenied).Detail("system key %s", short(fp)).Build()
	}
	s.entries[fp] = &Entry{
		PublicKey:      append([]byte(nil), pub...),
		Identifier:     identifier,
		Level:          level,
		AddedAt:        s.now().UTC(),
		Reason:         reason,
		UserModifiable: modifiable,
	}
	s.dirty = true
	return fp, nil
}

// Remove deletes a user key. It reports whether a key was removed.
func (s *TrustStore) Remove(fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return false, nil
	}
	if !e.UserModifiable {
		return false, errors.New(errors.PhaseVerify, errors.KindPermissionDenied).Detail("cannot remove system key %s", short(fingerprint)).Build()
	}
	delete(s.entries, fingerprint)
	s.dirty = true
	return true, nil
}

// UpdateLevel changes the trust level of a user key.
func (s *TrustStore) UpdateLevel(fingerprint string, level TrustLevel, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return errors.NotFound(errors.PhaseVerify, "key", fingerprint)
	}
	if !e.UserModifiable {
		return errors.New(errors.PhaseVerify, errors.KindPermissionDenied).Detail("cannot modify system key %s", short(fingerprint)).Build()
	}
	e.Level = level
	e.Reason = reason
	s.dirty = true
	return nil
}

// PublicKey returns the key stored under fingerprint.
func (s *TrustStore) PublicKey(fingerprint string) (ed25519.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}
	return ed25519.PublicKey(append([]byte(nil), e.PublicKey...)), true
}

// Level returns the trust level for fingerprint; absent keys are Unknown.
func (s *TrustStore) Level(fingerprint string) TrustLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[fingerprint]; ok {
		return e.Level
	}
	return Unknown
}

// Entry returns a copy of the entry for fingerprint.
func (s *TrustStore) Entry(fingerprint string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Listed pairs a fingerprint with its entry.
type Listed struct {
	Fingerprint string
	Entry
}

// List returns all entries sorted by fingerprint.
func (s *TrustStore) List() []Listed {
	s.mu.RLock()
	out := make([]Listed, 0, len(s.entries))
	for fp, e := range s.entries {
		out = append(out, Listed{Fingerprint: fp, Entry: *e})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

func (s *TrustStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *TrustStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, e := range s.entries {
		switch e.Level {
		case Trusted:
			st.Trusted++
		case Distrusted:
			st.Distrusted++
		default:
			st.Unknown++
		}
		if !e.UserModifiable {
			st.System++
		}
	}
	return st
}

// Import merges entries from a store file. Imported keys are always user keys.
func (s *TrustStore) Import(path string, overwrite bool) (ImportResult, error) {
	var res ImportResult
	incoming, err := readEntries(path)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, e := range incoming {
		e.UserModifiable = true
		e.AddedAt = s.now().UTC()
		if cur, ok := s.entries[fp]; ok {
			if !overwrite || !cur.UserModifiable {
				res.Skipped++
				continue
			}
			s.entries[fp] = e
			res.Updated++
			continue
		}
		s.entries[fp] = e
		res.Imported++
	}
	if res.Imported > 0 || res.Updated > 0 {
		s.dirty = true
	}
	return res, nil
}

// Export writes entries to path and returns how many were written.
func (s *TrustStore) Export(path string, includeSystem bool) (int, error) {
	s.mu.RLock()
	out := make(map[string]*Entry, len(s.entries))
	for fp, e := range s.entries {
		if includeSystem || e.UserModifiable {
			out[fp] = e
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return 0, errors.Wrap(errors.PhaseVerify, errors.KindInvalidInput, err, "export trust store")
	}
	return len(out), nil
}

// Save persists a file-backed store if it changed. In-memory stores ignore it.
func (s *TrustStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || !s.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidInput, err, "save trust store")
	}
	s.dirty = false
	return nil
}

// Reload replaces the in-memory entries with the file contents.
func (s *TrustStore) Reload() error {
	if s.path == "" {
		return nil
	}
	entries, err := readEntries(s.path)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			entries = make(map[string]*Entry)
		} else {
			return err
		}
	}
	s.mu.Lock()
	s.entries = entries
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func readEntries(path string) (map[string]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(errors.PhaseVerify, "trust store", path)
		}
		return nil, err
	}
	entries := make(map[string]*Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "parse "+path)
	}
	for fp, e := range entries {
		if e == nil || len(e.PublicKey) != ed25519.PublicKeySize || Fingerprint(e.PublicKey) != fp {
			return nil, errors.InvalidData(errors.PhaseVerify, []string{path, short(fp)}, "fingerprint does not match key")
		}
	}
	return entries, nil
}

func short(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
