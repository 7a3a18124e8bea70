package appstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testChain is a runtime-generated root -> intermediate -> leaf ECDSA chain
// standing in for the platform's signing infrastructure.
type testChain struct {
	rootCert  *x509.Certificate
	interCert *x509.Certificate
	leafCert  *x509.Certificate
	leafKey   *ecdsa.PrivateKey
}

func newTestChain(t *testing.T, leafNotBefore, leafNotAfter time.Time) *testChain {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	interTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Intermediate CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	interDER, err := x509.CreateCertificate(rand.Reader, interTmpl, rootCert, &interKey.PublicKey, rootKey)
	require.NoError(t, err)
	interCert, err := x509.ParseCertificate(interDER)
	require.NoError(t, err)

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Leaf"},
		NotBefore:    leafNotBefore,
		NotAfter:     leafNotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, interCert, &leafKey.PublicKey, interKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return &testChain{
		rootCert:  rootCert,
		interCert: interCert,
		leafCert:  leafCert,
		leafKey:   leafKey,
	}
}

func (tc *testChain) verifier() *Verifier {
	return newVerifier(tc.rootCert, certFingerprint(tc.rootCert))
}

// sign produces a compact JWS over the payload with the chain's leaf key and
// the given header algorithm.
func (tc *testChain) sign(t *testing.T, alg string, payload interface{}) string {
	t.Helper()

	header := map[string]interface{}{
		"alg": alg,
		"x5c": []string{
			base64.StdEncoding.EncodeToString(tc.leafCert.Raw),
			base64.StdEncoding.EncodeToString(tc.interCert.Raw),
			base64.StdEncoding.EncodeToString(tc.rootCert.Raw),
		},
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, tc.leafKey, digest[:])
	require.NoError(t, err)

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestVerifyAcceptsValidChain(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	v := chain.verifier()

	signed := chain.sign(t, "ES256", map[string]string{"hello": "world"})
	raw, err := v.Verify(signed)
	require.NoError(t, err)

	var claims map[string]string
	require.NoError(t, json.Unmarshal(raw, &claims))
	require.Equal(t, "world", claims["hello"])
}

func TestVerifyRejectsUnpinnedRoot(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	otherChain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	// Verifier pins the first chain's root; payload is signed by the second.
	v := chain.verifier()
	signed := otherChain.sign(t, "ES256", map[string]string{"hello": "world"})

	_, err := v.Verify(signed)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUntrustedChain), "got %v", err)
	require.True(t, IsVerificationError(err))
}

func TestVerifyRejectsExpiredLeaf(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	v := chain.verifier()

	signed := chain.sign(t, "ES256", map[string]string{"hello": "world"})
	_, err := v.Verify(signed)
	require.True(t, errors.Is(err, ErrCertificateExpired), "got %v", err)
}

func TestVerifyRejectsDisallowedAlgorithm(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	v := chain.verifier()

	for _, alg := range []string{"none", "HS256", "RS256", "ES384"} {
		signed := chain.sign(t, alg, map[string]string{"hello": "world"})
		_, err := v.Verify(signed)
		require.True(t, errors.Is(err, ErrBadSignature), "alg %s: got %v", alg, err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	v := chain.verifier()

	signed := chain.sign(t, "ES256", map[string]string{"amount": "1"})
	tampered := tamperPayload(t, signed, map[string]string{"amount": "9999"})

	_, err := v.Verify(tampered)
	require.True(t, errors.Is(err, ErrBadSignature), "got %v", err)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	v := chain.verifier()

	for _, payload := range []string{
		"",
		"only-one-segment",
		"two.segments",
		"a.b.c.d",
		"!!!.###.$$$",
	} {
		_, err := v.Verify(payload)
		require.True(t, errors.Is(err, ErrMalformedPayload), "payload %q: got %v", payload, err)
	}
}

func TestAppleRootParses(t *testing.T) {
	root, err := appleRoot()
	require.NoError(t, err)
	require.Equal(t, appleRootCAG3Fingerprint, certFingerprint(root))
}

func tamperPayload(t *testing.T, signed string, replacement interface{}) string {
	t.Helper()
	parts := splitJWS(signed)
	payloadJSON, err := json.Marshal(replacement)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(payloadJSON)
	return parts[0] + "." + parts[1] + "." + parts[2]
}

func splitJWS(signed string) []string {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(signed); i++ {
		if signed[i] == '.' {
			parts = append(parts, signed[start:i])
			start = i + 1
		}
	}
	return append(parts, signed[start:])
}
