package keygen

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
)

const (
	pemTypeCert = "CERTIFICATE"
	pemTypeKey  = "PRIVATE KEY"
)

var errPEMEncode = errors.New("failed to encode PEM block")

// PEM returns the PEM encoding of the certificate.
func (c *Cert) PEM() ([]byte, error) {
	b := pem.EncodeToMemory(&pem.Block{Type: pemTypeCert, Bytes: c.DER})
	if b == nil {
		return nil, errPEMEncode
	}
	return b, nil
}

// KeyDER returns the certificate's private key in PKCS#8 DER form.
func (c *Cert) KeyDER() (_ []byte, err error) {
	defer errs.Wrap(&err, "failed to encode private key")

	return x509.MarshalPKCS8PrivateKey(c.Key)
}

// KeyPEM returns the certificate's private key as a PEM-encoded PKCS#8
// block.
func (c *Cert) KeyPEM() (_ []byte, err error) {
	defer errs.Wrap(&err, "failed to encode private key")

	der, err := x509.MarshalPKCS8PrivateKey(c.Key)
	if err != nil {
		return nil, err
	}
	b := pem.EncodeToMemory(&pem.Block{Type: pemTypeKey, Bytes: der})
	if b == nil {
		return nil, errPEMEncode
	}
	return b, nil
}

// ParseCertPEM extracts the DER bytes from a PEM-encoded certificate.
func ParseCertPEM(pemBytes []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeCert {
		return nil, errs.InvalidFormat
	}
	return block.Bytes, nil
}

// ParseKeyPEM parses a PEM-encoded PKCS#8 ECDSA private key.
func ParseKeyPEM(pemBytes []byte) (_ *ecdsa.PrivateKey, err error) {
	defer errs.Wrap(&err, "failed to parse private key")

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeKey {
		return nil, errs.InvalidFormat
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA key")
	}
	return ecKey, nil
}
