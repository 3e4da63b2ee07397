// Package dev implements a driver that mimics the Nitro Secure Module,
// allowing you to build features for AWS Nitro Enclaves without AWS Nitro
// Enclaves.  Instead of the hypervisor's key material, it signs attestation
// documents with a caller-supplied certificate chain, e.g. one generated by
// the keygen package.
package dev

import (
	"crypto/ecdsa"

	"github.com/Amnesic-Systems/nsmdev/attestation"
	"github.com/Amnesic-Systems/nsmdev/driver"
	"github.com/Amnesic-Systems/nsmdev/pcr"

	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
)

var _ driver.Driver = (*Driver)(nil)

// Driver answers Nitro Secure Module requests with self-signed documents.
// Its configuration is fixed at construction time; each request is stateless
// and independent, so a driver is safe for concurrent use.
type Driver struct {
	signingKey *ecdsa.PrivateKey
	endCert    []byte
	caBundle   [][]byte
	pcrs       *pcr.Bank
	clock      attestation.Clock
}

// Option allows the caller to override the driver's defaults.
type Option func(*Driver)

// WithCABundle sets the intermediate certificates (DER-encoded, in leaf-to-
// root order) that signed documents embed as their cabundle.
func WithCABundle(caBundle ...[]byte) Option {
	return func(d *Driver) {
		d.caBundle = caBundle
	}
}

// WithPCRs sets the register bank that signed documents embed.  The default
// is an all-zero bank, which is what the Nitro Secure Module reports for an
// enclave in debug mode.
func WithPCRs(bank *pcr.Bank) Option {
	return func(d *Driver) {
		d.pcrs = bank
	}
}

// WithClock sets the time source used to stamp documents.  The default is
// the system clock.
func WithClock(clock attestation.Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// New returns a new dev driver that signs documents with the given ECDSA
// P-384 key and embeds the given DER-encoded end certificate, which must
// contain the key's public half.  New panics if either argument is nil;
// misconfiguring a driver is a programmer error.
func New(signingKey *ecdsa.PrivateKey, endCert []byte, opts ...Option) *Driver {
	if signingKey == nil || endCert == nil {
		panic("dev: signing key and end certificate must not be nil")
	}

	d := &Driver{
		signingKey: signingKey,
		endCert:    endCert,
		pcrs:       pcr.Zeros(),
		clock:      attestation.SystemClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProcessRequest answers the given request the way the Nitro Secure Module
// would.  Only attestation and DescribePCR requests are implemented; all
// other request types yield an InvalidOperation error response.
func (d *Driver) ProcessRequest(req request.Request) (response.Response, error) {
	switch r := req.(type) {
	case *request.Attestation:
		return d.attest(r), nil
	case *request.DescribePCR:
		return d.describePCR(r), nil
	default:
		return response.Response{Error: response.ECInvalidOperation}, nil
	}
}

func (d *Driver) attest(req *request.Attestation) response.Response {
	doc := &attestation.Document{
		ModuleID:    attestation.DevModuleID,
		Digest:      attestation.DigestSHA384,
		Timestamp:   d.clock(),
		PCRs:        d.pcrs.Wire(),
		Certificate: d.endCert,
		CABundle:    d.caBundle,
		PublicKey:   req.PublicKey,
		UserData:    req.UserData,
		Nonce:       req.Nonce,
	}

	signed, err := attestation.Sign(doc, d.signingKey)
	if err != nil {
		return response.Response{Error: response.ECInternalError}
	}
	return response.Response{
		Attestation: &response.Attestation{Document: signed},
	}
}

func (d *Driver) describePCR(req *request.DescribePCR) response.Response {
	value, err := d.pcrs.Get(req.Index)
	if err != nil {
		return response.Response{Error: response.ErrorCode("InvalidIndex")}
	}
	return response.Response{
		DescribePCR: &response.DescribePCR{
			// The hardware's registers are locked once the enclave
			// is running.
			Lock: true,
			Data: value[:],
		},
	}
}
