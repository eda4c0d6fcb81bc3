package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"time"

	"github.com/wippyai/ffb-runtime/errors"
)

// SidecarExt is appended to a content path to locate its signature.
const SidecarExt = ".sig"

// ContentType names what a signature covers.
type ContentType string

const (
	ContentPlugin   ContentType = "plugin"
	ContentProfile  ContentType = "profile"
	ContentFirmware ContentType = "firmware"
)

// Metadata is the JSON sidecar stored next to signed content.
type Metadata struct {
	Timestamp      time.Time   `json:"timestamp"`
	Signature      string      `json:"signature"`
	KeyFingerprint string      `json:"key_fingerprint"`
	Signer         string      `json:"signer"`
	ContentType    ContentType `json:"content_type"`
	Comment        string      `json:"comment,omitempty"`
}

// SidecarPath returns the signature path for content: "p.so" -> "p.so.sig".
func SidecarPath(contentPath string) string {
	return contentPath + SidecarExt
}

// HasSidecar reports whether a signature file exists for contentPath.
func HasSidecar(contentPath string) bool {
	_, err := os.Stat(SidecarPath(contentPath))
	return err == nil
}

// ReadMetadata loads the sidecar for contentPath. A missing sidecar
// returns an error matching errors.ErrNotFound.
func ReadMetadata(contentPath string) (*Metadata, error) {
	path := SidecarPath(contentPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(errors.PhaseVerify, "signature", path)
		}
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "read "+path)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "parse "+path)
	}
	return &m, nil
}

// WriteMetadata stores m as the sidecar of contentPath.
func WriteMetadata(contentPath string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(SidecarPath(contentPath), data, 0o644)
}

// Fingerprint is the lowercase hex SHA-256 of a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes through a temp file in the same directory and renames it.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
