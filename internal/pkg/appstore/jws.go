package appstore

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Verification failure kinds. Every failure is fatal to the current
// operation; callers must never fall back to partial trust.
var (
	ErrMalformedPayload   = errors.New("appstore: malformed signed payload")
	ErrUntrustedChain     = errors.New("appstore: certificate chain not trusted")
	ErrCertificateExpired = errors.New("appstore: leaf certificate expired or not yet valid")
	ErrBadSignature       = errors.New("appstore: signature verification failed")
)

// IsVerificationError reports whether err is any cryptographic verification
// failure, as opposed to an upstream or storage error.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrUntrustedChain) ||
		errors.Is(err, ErrCertificateExpired) ||
		errors.Is(err, ErrBadSignature)
}

// SHA-256 fingerprint of the Apple Root CA - G3 certificate. Pinned as a
// constant so an attacker-supplied x5c chain can never introduce its own root.
const appleRootCAG3Fingerprint = "63343abfb89a6a03ebb57e9b3f5fa7be7c4f5c756f3017b3a8c488c3653e9179"

// Apple Root CA - G3 (base64 encoded DER). Shipped with the binary, never
// fetched at runtime.
const appleRootCAG3PEM = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

// Only algorithms the platform actually signs with are accepted. A header
// declaring anything else ("none" included) is rejected before any
// cryptographic work happens.
var allowedAlgorithms = map[string]bool{
	"ES256": true,
}

var (
	appleRootOnce sync.Once
	appleRootCert *x509.Certificate
	appleRootErr  error
)

// appleRoot parses the embedded root certificate once per process. The
// certificate is immutable and safe to share across concurrent verifications.
func appleRoot() (*x509.Certificate, error) {
	appleRootOnce.Do(func() {
		block, _ := pem.Decode([]byte(appleRootCAG3PEM))
		if block == nil {
			appleRootErr = errors.New("appstore: failed to decode embedded root certificate PEM")
			return
		}
		appleRootCert, appleRootErr = x509.ParseCertificate(block.Bytes)
	})
	return appleRootCert, appleRootErr
}

// Verifier validates signed payloads against the pinned trust root.
type Verifier struct {
	rootCert        *x509.Certificate
	rootFingerprint string
	now             func() time.Time
}

// NewVerifier returns a verifier pinned to the Apple Root CA - G3.
func NewVerifier() (*Verifier, error) {
	root, err := appleRoot()
	if err != nil {
		return nil, err
	}
	return newVerifier(root, appleRootCAG3Fingerprint), nil
}

func newVerifier(root *x509.Certificate, fingerprint string) *Verifier {
	return &Verifier{
		rootCert:        root,
		rootFingerprint: strings.ToLower(fingerprint),
		now:             time.Now,
	}
}

type jwsHeader struct {
	Alg string   `json:"alg"`
	X5C []string `json:"x5c"`
}

// Verify checks a compact signed payload end to end: certificate chain up to
// the pinned root, leaf validity window, and the outer signature. Only on
// full success is the decoded payload returned.
func (v *Verifier) Verify(signedPayload string) (json.RawMessage, error) {
	parts := strings.Split(signedPayload, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedPayload, len(parts))
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header is not base64url: %v", ErrMalformedPayload, err)
	}
	var header jwsHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not JSON: %v", ErrMalformedPayload, err)
	}
	if !allowedAlgorithms[header.Alg] {
		return nil, fmt.Errorf("%w: algorithm %q not allowed", ErrBadSignature, header.Alg)
	}
	if len(header.X5C) == 0 {
		return nil, fmt.Errorf("%w: header missing x5c certificate chain", ErrMalformedPayload)
	}

	leaf, err := v.verifyCertificateChain(header.X5C)
	if err != nil {
		return nil, err
	}

	if err := v.verifyPayloadSignature(parts, leaf); err != nil {
		return nil, err
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedPayload, err)
	}
	return json.RawMessage(payload), nil
}

// verifyCertificateChain walks the leaf-first x5c chain, requires every
// certificate to be signed by its successor, and anchors the chain at the
// pinned root. Returns the leaf on success.
func (v *Verifier) verifyCertificateChain(x5c []string) (*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(x5c))
	for i, certBase64 := range x5c {
		der, err := base64.StdEncoding.DecodeString(certBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d] is not base64: %v", ErrMalformedPayload, i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d] is not a certificate: %v", ErrMalformedPayload, i, err)
		}
		certs = append(certs, cert)
	}

	// Each certificate must be signed by the next one, leaf towards root.
	for i := 0; i < len(certs)-1; i++ {
		if err := certs[i].CheckSignatureFrom(certs[i+1]); err != nil {
			return nil, fmt.Errorf("%w: x5c[%d] not signed by x5c[%d]: %v", ErrUntrustedChain, i, i+1, err)
		}
	}

	// The chain must terminate at the pinned root, or its last certificate
	// must itself be signed by the pinned root.
	chainRoot := certs[len(certs)-1]
	if certFingerprint(chainRoot) != v.rootFingerprint {
		if err := chainRoot.CheckSignatureFrom(v.rootCert); err != nil {
			return nil, fmt.Errorf("%w: chain does not anchor at the pinned root", ErrUntrustedChain)
		}
	}

	leaf := certs[0]
	now := v.now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: valid %s to %s", ErrCertificateExpired,
			leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))
	}
	return leaf, nil
}

// verifyPayloadSignature checks the outer ES256 signature (raw r||s over the
// SHA-256 of "header.payload") against the leaf public key.
func (v *Verifier) verifyPayloadSignature(parts []string, leaf *x509.Certificate) error {
	publicKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: leaf certificate does not carry an ECDSA key", ErrBadSignature)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: signature is not base64url: %v", ErrMalformedPayload, err)
	}
	if len(sig) != 64 {
		return fmt.Errorf("%w: expected 64 signature bytes, got %d", ErrBadSignature, len(sig))
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(publicKey, digest[:], r, s) {
		return ErrBadSignature
	}
	return nil
}

func certFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
