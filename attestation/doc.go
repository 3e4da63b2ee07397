// Package attestation implements the creation and verification of COSE-signed
// attestation documents as emitted by the AWS Nitro Secure Module.
package attestation

import "time"

const (
	// DigestSHA384 is the only digest algorithm the Nitro Secure Module
	// uses, as specified on page 70 of the AWS Nitro Enclaves user guide:
	// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
	DigestSHA384 = "SHA384"

	// AuxFieldLen is the maximum length of the auxiliary fields, as
	// specified on page 65 of the user guide.
	AuxFieldLen = 1024

	// DevModuleID marks documents that were signed by the dev driver
	// instead of the Nitro hypervisor.  Verifying parties can use it to
	// tell self-signed documents apart from authentic ones.
	DevModuleID = "unsecure-development-attestation-document"
)

// Document represents the AWS Nitro Enclave attestation document as specified
// on page 70 of:
// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
//
// A document binds the enclave's PCR values, the signer's certificate chain,
// and the caller-supplied auxiliary fields into a single CBOR object.  It is
// immutable once signed.
type Document struct {
	ModuleID    string          `cbor:"module_id" json:"module_id"`
	Digest      string          `cbor:"digest" json:"digest"`
	Timestamp   uint64          `cbor:"timestamp" json:"timestamp"`
	PCRs        map[uint][]byte `cbor:"pcrs" json:"pcrs"`
	Certificate []byte          `cbor:"certificate" json:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle" json:"cabundle"`

	// The auxiliary fields are caller-supplied and optional; they are
	// omitted from the CBOR encoding when absent.
	PublicKey []byte `cbor:"public_key,omitempty" json:"public_key,omitempty"`
	UserData  []byte `cbor:"user_data,omitempty" json:"user_data,omitempty"`
	Nonce     []byte `cbor:"nonce,omitempty" json:"nonce,omitempty"`
}

// RawDocument holds a COSE-encoded attestation document, in the shape it
// travels over HTTP.
type RawDocument struct {
	Doc []byte `json:"attestation_document"`
}

// Clock returns the current UTC time as milliseconds since the Unix epoch.
// Both the dev driver and the verifier take an injected Clock instead of
// reading the system clock, which keeps them deterministic and testable.
type Clock func() uint64

// SystemClock returns a Clock backed by the system's wall clock.
func SystemClock() Clock {
	return func() uint64 {
		return uint64(time.Now().UTC().UnixMilli())
	}
}

// FixedClock returns a Clock that always reports the given time.
func FixedClock(t time.Time) Clock {
	return func() uint64 {
		return uint64(t.UnixMilli())
	}
}
