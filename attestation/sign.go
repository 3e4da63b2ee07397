package attestation

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// ErrSigning is returned when a document cannot be signed.
var ErrSigning = errors.New("failed to sign attestation document")

// Sign serializes the given document and wraps it in a COSE_Sign1 structure
// whose protected header declares ES384, signed with the given ECDSA P-384
// key over an empty additional-authenticated-data field.  The returned bytes
// are the serialized COSE_Sign1 structure, in the untagged form the Nitro
// Secure Module emits.
func Sign(doc *Document, key *ecdsa.PrivateKey) (_ []byte, err error) {
	defer errs.WrapErr(&err, ErrSigning)

	if doc == nil || key == nil {
		return nil, errs.IsNil
	}

	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	if err != nil {
		return nil, err
	}

	msg := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES384,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}

	return msg.MarshalCBOR()
}
