package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"time"

	"github.com/awnumar/memguard"

	"github.com/wippyai/ffb-runtime/errors"
)

// Signer holds an Ed25519 private key in locked memory.
type Signer struct {
	key      *memguard.LockedBuffer
	pub      ed25519.PublicKey
	identity string
	now      func() time.Time
}

// GenerateKey creates a fresh key pair for identity.
func GenerateKey(identity string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newSigner(identity, pub, priv), nil
}

// NewSigner takes ownership of priv; the slice is wiped.
func NewSigner(identity string, priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.InvalidInput(errors.PhaseVerify, "private key has wrong length")
	}
	pub := append(ed25519.PublicKey(nil), priv.Public().(ed25519.PublicKey)...)
	return newSigner(identity, pub, priv), nil
}

func newSigner(identity string, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Signer {
	return &Signer{
		key:      memguard.NewBufferFromBytes(priv),
		pub:      pub,
		identity: identity,
		now:      time.Now,
	}
}

// keyFile is the on-disk private key format.
type keyFile struct {
	Identity   string `json:"identity"`
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// LoadSigner reads a key written by Save.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindNotFound, err, "read key "+path)
	}
	defer memguard.WipeBytes(data)
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "parse key "+path)
	}
	s, err := NewSigner(kf.Identity, kf.PrivateKey)
	if err != nil {
		memguard.WipeBytes(kf.PrivateKey)
		return nil, err
	}
	return s, nil
}

// Save writes the key pair to path with owner-only permissions.
func (s *Signer) Save(path string) error {
	kf := keyFile{Identity: s.identity, PublicKey: s.pub, PrivateKey: s.key.Bytes()}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(data)
	return writeFileAtomic(path, data, 0o600)
}

func (s *Signer) Identity() string             { return s.identity }
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }
func (s *Signer) Fingerprint() string          { return Fingerprint(s.pub) }

// Sign returns the raw signature over data. crypto/ed25519 cannot take a
// key that lives outside the Go heap, so a wiped heap copy is used.
func (s *Signer) Sign(data []byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, s.key.Bytes()[:ed25519.SeedSize])
	priv := ed25519.NewKeyFromSeed(seed)
	defer memguard.WipeBytes(priv)
	memguard.WipeBytes(seed)
	return ed25519.Sign(priv, data)
}

// SignBytes builds sidecar metadata for content without writing it.
func (s *Signer) SignBytes(content []byte, ct ContentType, comment string) *Metadata {
	return &Metadata{
		Signature:      base64.StdEncoding.EncodeToString(s.Sign(content)),
		KeyFingerprint: s.Fingerprint(),
		Signer:         s.identity,
		Timestamp:      s.now().UTC(),
		ContentType:    ct,
		Comment:        comment,
	}
}

// SignFile signs the file at path and writes its sidecar.
func (s *Signer) SignFile(path string, ct ContentType, comment string) (*Metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindNotFound, err, "read "+path)
	}
	m := s.SignBytes(content, ct, comment)
	if err := WriteMetadata(path, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Destroy wipes the private key. The signer is unusable afterwards.
func (s *Signer) Destroy() {
	s.key.Destroy()
}
