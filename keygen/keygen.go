// Package keygen generates a certificate chain for self-signing attestation
// documents in local development environments: a self-signed root, an
// intermediate signed by the root, and an end-entity certificate (plus its
// signing key) signed by the intermediate.
//
// Generation consumes fresh randomness and builds three certificates; it is
// meant to run once, before a dev driver is constructed, and has no place in
// a request-serving path.
package keygen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
)

const certOrg = "Amnesic Systems"

// Cert bundles a DER-encoded certificate with its private key.
type Cert struct {
	DER []byte
	Key *ecdsa.PrivateKey
}

// CertChain contains the root, intermediate, and end-entity certificates
// that a dev driver uses in place of AWS's issuing hierarchy.  A verifying
// party is only ever given Root.DER as its trust anchor; the chain object
// itself stays with whoever built the driver.
type CertChain struct {
	Root         Cert
	Intermediate Cert
	End          Cert
}

// Generate creates a fresh certificate chain from three independent ECDSA
// P-384 key pairs.  All three certificates share the same validity window,
// starting now and ending after validFor.
func Generate(validFor time.Duration) (_ *CertChain, err error) {
	defer errs.Wrap(&err, "failed to generate certificate chain")

	var (
		now       = time.Now()
		notAfter  = now.Add(validFor)
		notBefore = now
	)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl, err := newTemplate("nsmdev root", notBefore, notAfter)
	if err != nil {
		return nil, err
	}
	rootTmpl.IsCA = true
	rootTmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	rootDER, err := x509.CreateCertificate(
		rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, err
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	// The intermediate is a sub-CA without a path length constraint.
	intKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	intTmpl, err := newTemplate("nsmdev intermediate", notBefore, notAfter)
	if err != nil {
		return nil, err
	}
	intTmpl.IsCA = true
	intTmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	intDER, err := x509.CreateCertificate(
		rand.Reader, intTmpl, rootCert, &intKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, err
	}
	intCert, err := x509.ParseCertificate(intDER)
	if err != nil {
		return nil, err
	}

	// The end-entity certificate signs attestation documents.  Key
	// agreement and key encipherment remain disabled.
	endKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	endTmpl, err := newTemplate("nsmdev end", notBefore, notAfter)
	if err != nil {
		return nil, err
	}
	endTmpl.KeyUsage = x509.KeyUsageDigitalSignature
	endTmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	endDER, err := x509.CreateCertificate(
		rand.Reader, endTmpl, intCert, &endKey.PublicKey, intKey,
	)
	if err != nil {
		return nil, err
	}

	return &CertChain{
		Root:         Cert{DER: rootDER, Key: rootKey},
		Intermediate: Cert{DER: intDER, Key: intKey},
		End:          Cert{DER: endDER, Key: endKey},
	}, nil
}

func newTemplate(cn string, notBefore, notAfter time.Time) (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, err
	}

	return &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{certOrg},
			CommonName:   cn,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
	}, nil
}
