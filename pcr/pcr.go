// Package pcr implements the enclave's platform configuration registers
// (PCRs): fixed-length measurement digests kept in a fixed set of registers.
// The package exists to make self-signed attestation documents carry
// plausible register banks; see page 21 of the AWS Nitro Enclaves user guide
// for the meaning of each register:
// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
package pcr

import (
	"crypto/rand"
	"crypto/sha512"

	"github.com/Amnesic-Systems/nsmdev/internal/errs"
)

// Len is the length of a PCR value in bytes, i.e., a SHA-384 digest.
const Len = sha512.Size384

// Indexes contains the registers that exist on the Nitro platform.  The
// Nitro Secure Module returns PCRs 0 through 8, with 5, 6, and 7 missing:
// https://docs.aws.amazon.com/enclaves/latest/user/set-up-attestation.html#where
var Indexes = []uint16{0, 1, 2, 3, 4, 8}

// Value represents the contents of a single platform configuration register.
type Value [Len]byte

// FromSlice turns a byte slice into a Value.  The slice must be exactly
// Len bytes long.
func FromSlice(s []byte) (Value, error) {
	var v Value
	if len(s) != Len {
		return v, errs.InvalidLength
	}
	copy(v[:], s)
	return v, nil
}

// Bank represents the enclave's complete register bank.  Every valid index
// always holds a value; a Bank is never partially populated.  A Bank is
// meant to be assembled before a mock driver is built and never mutated
// afterwards.
type Bank struct {
	regs map[uint16]Value
}

// ValidIndex returns true if the given index exists on the Nitro platform.
func ValidIndex(index uint16) bool {
	for _, i := range Indexes {
		if i == index {
			return true
		}
	}
	return false
}

func fromFn(fn func(index uint16) Value) *Bank {
	b := &Bank{regs: make(map[uint16]Value, len(Indexes))}
	for _, i := range Indexes {
		b.regs[i] = fn(i)
	}
	return b
}

// Zeros returns a bank whose registers are all zero.  This mirrors what the
// Nitro Secure Module returns for an enclave in debug mode:
// https://docs.aws.amazon.com/enclaves/latest/user/getting-started.html#run
func Zeros() *Bank {
	return fromFn(func(uint16) Value { return Value{} })
}

// Rand returns a bank whose registers are filled with random bytes.  The
// values carry no meaning; they merely add diversity to test fixtures.
func Rand() (_ *Bank, err error) {
	defer errs.Wrap(&err, "failed to create random PCRs")

	b := Zeros()
	for _, i := range Indexes {
		var v Value
		if _, err := rand.Read(v[:]); err != nil {
			return nil, err
		}
		b.regs[i] = v
	}
	return b, nil
}

// Seed returns a bank whose registers are derived deterministically from the
// given seed strings: each register's value is the SHA-384 digest of its
// seed.  Omitted indexes remain zero.  The same seed map always yields the
// same bank.
func Seed(seeds map[uint16]string) (_ *Bank, err error) {
	defer errs.Wrap(&err, "failed to seed PCRs")

	b := Zeros()
	for i, seed := range seeds {
		if !ValidIndex(i) {
			return nil, errs.InvalidIndex
		}
		b.regs[i] = sha512.Sum384([]byte(seed))
	}
	return b, nil
}

// Get returns the value of the register at the given index.
func (b *Bank) Get(index uint16) (Value, error) {
	v, ok := b.regs[index]
	if !ok {
		return Value{}, errs.InvalidIndex
	}
	return v, nil
}

// Set overwrites the register at the given index.  The given slice must be
// exactly Len bytes long.
func (b *Bank) Set(index uint16, value []byte) error {
	if !ValidIndex(index) {
		return errs.InvalidIndex
	}
	v, err := FromSlice(value)
	if err != nil {
		return err
	}
	b.regs[index] = v
	return nil
}

// Wire returns the bank in the shape attestation documents embed it in:
// a map from register index to raw digest bytes.
func (b *Bank) Wire() map[uint][]byte {
	m := make(map[uint][]byte, len(b.regs))
	for i, v := range b.regs {
		value := make([]byte, Len)
		copy(value, v[:])
		m[uint(i)] = value
	}
	return m
}

// Equal returns true if (and only if) the two given banks are identical.
func (b *Bank) Equal(other *Bank) bool {
	for _, i := range Indexes {
		if b.regs[i] != other.regs[i] {
			return false
		}
	}
	return true
}
