package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	stderrors "errors"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/errors"
)

// Result describes a verification that did not fail outright.
type Result struct {
	Metadata   *Metadata
	Warnings   []string
	TrustLevel TrustLevel
	Signed     bool
	Verified   bool
}

// Verifier applies a signature policy using a trust store.
type Verifier struct {
	store         *TrustStore
	logger        *zap.Logger
	require       bool
	allowUnsigned bool
}

// NewVerifier builds a verifier. A missing signature is admitted only when
// allowUnsigned is set. allowUnsigned also admits signatures from keys the
// store does not know, with a warning. A key the store holds is always
// checked against the content, whatever its level.
func NewVerifier(store *TrustStore, require, allowUnsigned bool) *Verifier {
	if store == nil {
		store = NewTrustStore()
	}
	return &Verifier{store: store, require: require, allowUnsigned: allowUnsigned, logger: zap.NewNop()}
}

// WithLogger sets the logger used for warnings.
func (v *Verifier) WithLogger(l *zap.Logger) *Verifier {
	v.logger = l
	return v
}

// Store returns the trust store.
func (v *Verifier) Store() *TrustStore { return v.store }

// Verify checks the file at path against its sidecar signature.
func (v *Verifier) Verify(path string) (*Result, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		if !stderrors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		if !v.allowUnsigned {
			return nil, errors.New(errors.PhaseVerify, errors.KindUnsignedPlugin).
				Path(path).
				Detail("no signature at %s", SidecarPath(path)).
				Build()
		}
		v.logger.Warn("loading unsigned content", zap.String("path", path))
		return &Result{TrustLevel: Unknown, Warnings: []string{"content is not signed"}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseVerify, errors.KindNotFound, err, "read "+path)
	}
	res, err := v.VerifyBytes(content, meta)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && len(e.Path) == 0 {
			e.Path = []string{path}
		}
		return nil, err
	}
	return res, nil
}

// VerifyBytes checks content against meta without touching the filesystem.
func (v *Verifier) VerifyBytes(content []byte, meta *Metadata) (*Result, error) {
	res := &Result{Signed: true, Metadata: meta}
	level := v.store.Level(meta.KeyFingerprint)
	res.TrustLevel = level

	if level == Distrusted {
		return nil, errors.New(errors.PhaseVerify, errors.KindDistrustedSigner).
			Detail("key %s (%s) is distrusted", short(meta.KeyFingerprint), meta.Signer).
			Build()
	}

	pub, ok := v.store.PublicKey(meta.KeyFingerprint)
	if !ok {
		if !v.allowUnsigned {
			return nil, errors.New(errors.PhaseVerify, errors.KindUntrustedSigner).
				Detail("key %s (%s) not in trust store", short(meta.KeyFingerprint), meta.Signer).
				Build()
		}
		res.Warnings = append(res.Warnings, "key not in trust store")
		v.logger.Warn("signature from unknown key accepted",
			zap.String("fingerprint", meta.KeyFingerprint),
			zap.String("signer", meta.Signer))
		return res, nil
	}
	sig, err := base64.StdEncoding.DecodeString(meta.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, errors.New(errors.PhaseVerify, errors.KindSignatureInvalid).
			Detail("malformed signature").
			Cause(err).
			Build()
	}
	if !ed25519.Verify(pub, content, sig) {
		return nil, errors.New(errors.PhaseVerify, errors.KindSignatureInvalid).
			Detail("signature does not match content").
			Build()
	}
	if level != Trusted {
		res.Warnings = append(res.Warnings, "signer key is not trusted")
		v.logger.Warn("signature from untrusted stored key",
			zap.String("fingerprint", meta.KeyFingerprint),
			zap.String("signer", meta.Signer))
	}
	res.Verified = true
	return res, nil
}
