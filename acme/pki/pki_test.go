package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// issuedChain signs a leaf certificate with a throwaway CA whose subject
// common name is issuerCN, so IssuerName has a real issuer to find.
func issuedChain(t *testing.T, issuerCN string, serial int64) (leafDER []byte, leafPEM []byte) {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1000 + serial),
		Subject:               pkix.Name{CommonName: issuerCN},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	aki := []byte{0x01, 0x02, 0x03, 0x04}
	leafTemplate := &x509.Certificate{
		SerialNumber:   big.NewInt(serial),
		Subject:        pkix.Name{CommonName: "leaf.example.com"},
		NotBefore:      time.Unix(0, 0),
		NotAfter:       time.Unix(0, 0).Add(24 * time.Hour),
		AuthorityKeyId: aki,
	}

	der, err := x509.CreateCertificate(rand.Reader, leafTemplate, caTemplate, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return der, pemBytes
}

func TestParseChainRoundTrips(t *testing.T) {
	leafDER, leafPEM := issuedChain(t, "Test Issuer", 1)
	_, interPEM := issuedChain(t, "Test Root", 2)

	chain := append(append([]byte{}, leafPEM...), interPEM...)

	codec := New()
	der, err := codec.ParseChain(chain)
	require.NoError(t, err)
	require.Len(t, der, 2)
	assert.Equal(t, leafDER, der[0])
}

func TestParseChainRejectsEmptyInput(t *testing.T) {
	codec := New()
	_, err := codec.ParseChain([]byte("not pem data"))
	assert.Error(t, err)
}

func TestIssuerName(t *testing.T) {
	leafDER, _ := issuedChain(t, "Test Issuer", 1)
	codec := New()
	name, err := codec.IssuerName(leafDER)
	require.NoError(t, err)
	assert.Equal(t, "Test Issuer", name)
}

func TestARICertID(t *testing.T) {
	leafDER, _ := issuedChain(t, "Test Issuer", 42)
	codec := New()
	certID, err := codec.ARICertID(leafDER)
	require.NoError(t, err)

	wantAKI := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x02, 0x03, 0x04})
	wantSerial := base64.RawURLEncoding.EncodeToString(big.NewInt(42).Bytes())
	assert.Equal(t, wantAKI+"."+wantSerial, certID)
}

func TestARICertIDRejectsCertWithNoAuthorityKeyID(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "no-aki.example.com"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	codec := New()
	_, err = codec.ARICertID(der)
	assert.Error(t, err)
}
