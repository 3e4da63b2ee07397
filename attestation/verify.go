package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

var (
	// ErrCOSE is returned if the given bytes are not a well-formed
	// COSE_Sign1 structure.
	ErrCOSE = errors.New("malformed COSE_Sign1 structure")
	// ErrDocument is returned if the COSE payload is not a well-formed
	// attestation document, or if the document embeds an unsupported key.
	ErrDocument = errors.New("malformed attestation document")
	// ErrRootCert is returned if the caller-supplied trust anchor cannot
	// be parsed.
	ErrRootCert = errors.New("invalid root certificate")
	// ErrEndCert is returned if the document's end certificate cannot be
	// parsed.
	ErrEndCert = errors.New("invalid end certificate")
	// ErrChain is returned if the certificate chain cannot be verified,
	// including revocation failures.
	ErrChain = errors.New("failed to verify certificate chain")
	// ErrSignature is returned if the COSE signature does not match the
	// end certificate's public key.
	ErrSignature = errors.New("failed to verify signature")
)

// maxChainLen bounds the length of an acceptable certificate chain when
// revocation is enforced: the trust anchor, up to three intermediates, and
// the end certificate.  This matches the depth of AWS's issuing hierarchy.
const maxChainLen = 5

// VerifyOptions configures the verification of an attestation document.
type VerifyOptions struct {
	// Root contains the DER-encoded root certificate to anchor chain
	// verification at: AWS's root certificate for authentic documents, or
	// a locally generated one for self-signed documents.
	Root []byte
	// Clock supplies "now" for certificate validity checks.  If unset,
	// the system clock is used; callers are encouraged to set it.
	Clock Clock
	// CRLs optionally enables revocation enforcement.  If set, every
	// certificate below the trust anchor must be covered by a valid,
	// caller-supplied revocation list; unknown revocation status is
	// treated as failure.
	CRLs []*x509.RevocationList
}

// Verify parses the given COSE_Sign1 bytes and verifies them according to
// the four steps from AWS's documentation:
// https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
//
//  1. Decode the CBOR object and map it to a COSE_Sign1 structure.
//  2. Extract the attestation document from the COSE_Sign1 structure.
//  3. Verify the certificate chain.
//  4. Ensure that the attestation document is properly signed.
//
// Each step's failure short-circuits the remaining steps.  On success, the
// decoded document is returned.  Verify performs no I/O; the caller supplies
// both the trust anchor and the time source.
func Verify(coseBytes []byte, opts VerifyOptions) (_ *Document, err error) {
	defer errs.Wrap(&err, "failed to verify attestation document")

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	now := time.UnixMilli(int64(clock())).UTC()

	// Step 1: parse the COSE_Sign1 structure.  The Nitro Secure Module
	// emits the untagged form.
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCOSE, err)
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is missing", ErrCOSE)
	}
	if alg, err := msg.Headers.Protected.Algorithm(); err != nil || alg != cose.AlgorithmES384 {
		return nil, fmt.Errorf("%w: algorithm is not ES384", ErrCOSE)
	}

	// Step 2: decode the document from the payload.
	var doc Document
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}
	if err := checkDoc(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}

	// Step 3: verify the certificate chain, anchored at the
	// caller-supplied root.
	root, err := x509.ParseCertificate(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootCert, err)
	}
	end, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEndCert, err)
	}
	if err := verifyChain(&doc, root, end, now, opts.CRLs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChain, err)
	}

	// Step 4: verify the COSE signature against the end certificate's
	// public key with an empty additional-authenticated-data field.
	pubKey, ok := end.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: embedded public key is not an EC key", ErrDocument)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES384, pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignature, err)
	}

	return &doc, nil
}

// checkDoc performs the attestation document sanity checks from page 71 of
// the AWS Nitro Enclaves user guide.
func checkDoc(doc *Document) error {
	if doc.ModuleID == "" {
		return errors.New("module_id is empty")
	}
	if doc.Digest != DigestSHA384 {
		return errors.New("digest is not SHA384")
	}
	if doc.Timestamp == 0 {
		return errors.New("timestamp is 0")
	}
	if len(doc.PCRs) < 1 || len(doc.PCRs) > 32 {
		return errors.New("pcrs must contain between 1 and 32 entries")
	}
	for index, value := range doc.PCRs {
		if index > 31 {
			return errors.New("pcrs contains an index greater than 31")
		}
		if !slices.Contains([]int{32, 48, 64}, len(value)) {
			return errors.New("pcrs contains a value that's not of length {32,48,64}")
		}
	}
	if len(doc.Certificate) == 0 {
		return errors.New("certificate is empty")
	}
	if len(doc.CABundle) < 1 {
		return errors.New("cabundle is empty")
	}
	for _, cert := range doc.CABundle {
		if len(cert) < 1 || len(cert) > 1024 {
			return errors.New("cabundle contains a certificate of length not in [1, 1024]")
		}
	}
	for _, aux := range [][]byte{doc.PublicKey, doc.UserData, doc.Nonce} {
		if len(aux) > AuxFieldLen {
			return errors.New("auxiliary field exceeds maximum length")
		}
	}
	return nil
}

// verifyChain verifies the end certificate against the document's
// intermediate certificates and the given trust anchor, for server
// authentication, at the given time.
func verifyChain(
	doc *Document,
	root, end *x509.Certificate,
	now time.Time,
	crls []*x509.RevocationList,
) error {
	if end.SignatureAlgorithm != x509.ECDSAWithSHA384 {
		return errors.New("end certificate not signed with ECDSA-P384-SHA384")
	}

	intermediates := x509.NewCertPool()
	for _, der := range doc.CABundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return err
		}
		intermediates.AddCert(cert)
	}
	roots := x509.NewCertPool()
	roots.AddCert(root)

	chains, err := end.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         roots,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return err
	}

	// Revocation is only enforced if the caller supplied revocation
	// lists; AWS explicitly requires CRL checks to be disabled when
	// verifying authentic documents:
	// https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html#chain
	if len(crls) == 0 {
		return nil
	}
	chain := chains[0]
	if len(chain) > maxChainLen {
		return fmt.Errorf("chain length %d exceeds maximum of %d", len(chain), maxChainLen)
	}
	return checkRevocation(chain, crls, now)
}

// checkRevocation checks every certificate below the trust anchor against
// the given revocation lists.  A certificate whose status cannot be
// determined counts as a failure.
func checkRevocation(
	chain []*x509.Certificate,
	crls []*x509.RevocationList,
	now time.Time,
) error {
	for i := 0; i < len(chain)-1; i++ {
		cert, issuer := chain[i], chain[i+1]

		crl := findCRL(crls, cert, issuer, now)
		if crl == nil {
			return fmt.Errorf("no valid CRL covers certificate %q", cert.Subject)
		}
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("certificate %q is revoked", cert.Subject)
			}
		}
	}
	return nil
}

// findCRL returns the first of the given revocation lists that was issued
// by the given issuer, carries a valid signature, and is current at the
// given time.
func findCRL(
	crls []*x509.RevocationList,
	cert, issuer *x509.Certificate,
	now time.Time,
) *x509.RevocationList {
	for _, crl := range crls {
		if !bytes.Equal(crl.RawIssuer, cert.RawIssuer) {
			continue
		}
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			continue
		}
		if now.Before(crl.ThisUpdate) {
			continue
		}
		if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
			continue
		}
		return crl
	}
	return nil
}
