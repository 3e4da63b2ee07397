package attestation

import (
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/Amnesic-Systems/nsmdev/keygen"

	"github.com/fxamacker/cbor/v2"
	"github.com/hf/nitrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
)

// newSignedDoc returns a document signed with a fresh certificate chain,
// valid for ten minutes.
func newSignedDoc(t *testing.T) (*Document, []byte, *keygen.CertChain) {
	t.Helper()

	chain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)

	doc := &Document{
		ModuleID:    DevModuleID,
		Digest:      DigestSHA384,
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs: map[uint][]byte{
			0: make([]byte, 48),
			1: make([]byte, 48),
			2: make([]byte, 48),
			3: make([]byte, 48),
			4: make([]byte, 48),
			8: make([]byte, 48),
		},
		Certificate: chain.End.DER,
		CABundle:    [][]byte{chain.Intermediate.DER},
		UserData:    []byte("user data"),
		Nonce:       []byte("nonce"),
	}
	blob, err := Sign(doc, chain.End.Key)
	require.NoError(t, err)

	return doc, blob, chain
}

func TestRoundTrip(t *testing.T) {
	doc, blob, chain := newSignedDoc(t)

	got, err := Verify(blob, VerifyOptions{
		Root:  chain.Root.DER,
		Clock: SystemClock(),
	})
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestVerificationFailures(t *testing.T) {
	_, blob, chain := newSignedDoc(t)
	otherChain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)

	cases := []struct {
		name    string
		blob    []byte
		opts    VerifyOptions
		wantErr error
	}{
		{
			name:    "garbage blob",
			blob:    []byte("foobar"),
			opts:    VerifyOptions{Root: chain.Root.DER},
			wantErr: ErrCOSE,
		},
		{
			name:    "garbage root certificate",
			blob:    blob,
			opts:    VerifyOptions{Root: []byte("foobar")},
			wantErr: ErrRootCert,
		},
		{
			name:    "untrusted root",
			blob:    blob,
			opts:    VerifyOptions{Root: otherChain.Root.DER},
			wantErr: ErrChain,
		},
		{
			name: "expired chain",
			blob: blob,
			opts: VerifyOptions{
				Root:  chain.Root.DER,
				Clock: FixedClock(time.Now().Add(time.Hour)),
			},
			wantErr: ErrChain,
		},
		{
			name: "chain not yet valid",
			blob: blob,
			opts: VerifyOptions{
				Root:  chain.Root.DER,
				Clock: FixedClock(time.Now().Add(-time.Hour)),
			},
			wantErr: ErrChain,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Verify(c.blob, c.opts)
			assert.ErrorIs(t, err, c.wantErr)
		})
	}
}

func TestMalformedDocument(t *testing.T) {
	chain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)

	// A document that fails the sanity checks: its module ID is empty.
	doc := &Document{
		Digest:      DigestSHA384,
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs:        map[uint][]byte{0: make([]byte, 48)},
		Certificate: chain.End.DER,
		CABundle:    [][]byte{chain.Intermediate.DER},
	}
	blob, err := Sign(doc, chain.End.Key)
	require.NoError(t, err)

	_, err = Verify(blob, VerifyOptions{Root: chain.Root.DER})
	assert.ErrorIs(t, err, ErrDocument)
}

func TestMalformedEndCertificate(t *testing.T) {
	chain, err := keygen.Generate(time.Minute * 10)
	require.NoError(t, err)

	doc := &Document{
		ModuleID:    DevModuleID,
		Digest:      DigestSHA384,
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs:        map[uint][]byte{0: make([]byte, 48)},
		Certificate: []byte("not a certificate"),
		CABundle:    [][]byte{chain.Intermediate.DER},
	}
	blob, err := Sign(doc, chain.End.Key)
	require.NoError(t, err)

	_, err = Verify(blob, VerifyOptions{Root: chain.Root.DER})
	assert.ErrorIs(t, err, ErrEndCert)
}

func TestTamperedPayload(t *testing.T) {
	_, blob, chain := newSignedDoc(t)

	var msg cose.UntaggedSign1Message
	require.NoError(t, msg.UnmarshalCBOR(blob))

	// Flip one byte in the middle of the payload.  The document still
	// decodes structurally or it doesn't; either way, verification must
	// fail and never accept the tampered payload.
	for _, i := range []int{len(msg.Payload) / 2, len(msg.Payload) - 1} {
		tampered := msg
		tampered.Payload = append([]byte(nil), msg.Payload...)
		tampered.Payload[i] ^= 0x01

		tamperedBlob, err := tampered.MarshalCBOR()
		require.NoError(t, err)

		_, err = Verify(tamperedBlob, VerifyOptions{Root: chain.Root.DER})
		require.Error(t, err)
	}

	// Flipping a byte of the nonce keeps the document well-formed, so the
	// failure must be the signature check itself.
	var doc Document
	require.NoError(t, cbor.Unmarshal(msg.Payload, &doc))
	doc.Nonce[0] ^= 0x01
	payload, err := cbor.Marshal(&doc)
	require.NoError(t, err)
	forged := msg
	forged.Payload = payload

	forgedBlob, err := forged.MarshalCBOR()
	require.NoError(t, err)

	_, err = Verify(forgedBlob, VerifyOptions{Root: chain.Root.DER})
	assert.ErrorIs(t, err, ErrSignature)
}

// Independent cross-check: documents we sign must also verify with the
// nitrite package, which implements the same protocol.
func TestNitriteCrossCheck(t *testing.T) {
	_, blob, chain := newSignedDoc(t)

	root, err := x509.ParseCertificate(chain.Root.DER)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(root)

	res, err := nitrite.Verify(blob, nitrite.VerifyOptions{
		Roots:       roots,
		CurrentTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, DevModuleID, res.Document.ModuleID)
}

func TestRevocation(t *testing.T) {
	_, blob, chain := newSignedDoc(t)

	end, err := x509.ParseCertificate(chain.End.DER)
	require.NoError(t, err)

	cases := []struct {
		name    string
		revoked []*big.Int // serials revoked by the intermediate's CRL
		partial bool       // omit the intermediate's CRL
		wantErr error
	}{
		{
			name: "nothing revoked",
		},
		{
			name:    "end certificate revoked",
			revoked: []*big.Int{end.SerialNumber},
			wantErr: ErrChain,
		},
		{
			name:    "unknown status",
			partial: true,
			wantErr: ErrChain,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			crls := []*x509.RevocationList{newCRL(t, chain.Root, nil)}
			if !c.partial {
				crls = append(crls, newCRL(t, chain.Intermediate, c.revoked))
			}

			_, err := Verify(blob, VerifyOptions{
				Root: chain.Root.DER,
				CRLs: crls,
			})
			if c.wantErr != nil {
				assert.ErrorIs(t, err, c.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// newCRL creates a revocation list signed by the given issuer, revoking the
// given serial numbers.
func newCRL(t *testing.T, issuer keygen.Cert, revoked []*big.Int) *x509.RevocationList {
	t.Helper()

	issuerCert, err := x509.ParseCertificate(issuer.DER)
	require.NoError(t, err)

	var entries []x509.RevocationListEntry
	for _, serial := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: time.Now(),
		})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Minute),
		NextUpdate:                time.Now().Add(time.Hour),
		RevokedCertificateEntries: entries,
	}, issuerCert, issuer.Key)
	require.NoError(t, err)

	crl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	return crl
}
