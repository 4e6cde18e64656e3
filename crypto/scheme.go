package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"

	"golang.org/x/crypto/sha3"
)

// HandleSize is the length of a ciphertext handle in bytes.
const HandleSize = 32

// SerializedSize is the length of a serialized ciphertext:
// handle || sealed value || integrity tag.
const SerializedSize = HandleSize + sealedValueSize + tagSize

const (
	sealedValueSize = 32
	tagSize         = 8
)

var (
	// ErrUnknownHandle is returned when an operation references a ciphertext
	// handle the scheme has never produced.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")

	// ErrCorruptPayload is returned when a serialized ciphertext fails its
	// integrity check during decryption.
	ErrCorruptPayload = errors.New("corrupt ciphertext payload")
)

// Ciphertext is an opaque handle referencing an encrypted value. Handles
// support homomorphic arithmetic through a Scheme without ever revealing
// the underlying plaintext.
type Ciphertext []byte

// NewCiphertextFromString parses a hex-encoded ciphertext handle.
func NewCiphertextFromString(data string) (Ciphertext, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return Ciphertext(raw), nil
}

// Bytes returns the handle as a byte slice.
func (c Ciphertext) Bytes() []byte {
	return c
}

// String returns the hex encoding of the handle.
func (c Ciphertext) String() string {
	return hex.EncodeToString(c)
}

// Equal reports whether two handles reference the same ciphertext.
func (c Ciphertext) Equal(other Ciphertext) bool {
	return bytes.Equal(c, other)
}

// Scheme is the homomorphic-arithmetic capability consumed by the ledger.
// Implementations guarantee that folding the same operations over the same
// handles yields the same result handle and the same serialization, so that
// an aggregate recomputed from an unchanged entry set is byte-identical.
type Scheme interface {
	// Add returns a ciphertext of the sum of the two operands' plaintexts.
	Add(a, b Ciphertext) (Ciphertext, error)

	// Mul returns a ciphertext of the product of the two operands' plaintexts.
	Mul(a, b Ciphertext) (Ciphertext, error)

	// Zero returns the ciphertext encrypting zero, the fold's starting point.
	Zero() Ciphertext

	// IsWellFormed reports whether the handle references an initialized
	// ciphertext of this scheme.
	IsWellFormed(c Ciphertext) bool

	// Serialize returns the canonical wire encoding of a ciphertext, the
	// form forwarded to the decryption oracle and bound into commitments.
	Serialize(c Ciphertext) ([]byte, error)
}

// LocalScheme implements Scheme by keeping plaintexts behind handles.
// Result handles are derived as sha3(domain || op || operands), so identical
// folds produce identical handles and serializations across recomputations,
// and across LocalScheme instances sharing the same secret.
//
// A serialized ciphertext carries the plaintext sealed under the scheme
// secret; any holder of the secret (the mock oracle) can decrypt it from
// the payload alone. This models a ciphertext plus decryption-key split,
// nothing more. Not a real encryption scheme.
type LocalScheme struct {
	secret []byte
	zero   Ciphertext

	mu     sync.RWMutex
	values map[string]*big.Int
}

// NewLocalScheme creates a scheme instance bound to the given secret.
// Instances created from the same secret produce interoperable payloads.
func NewLocalScheme(secret []byte) *LocalScheme {
	s := &LocalScheme{
		secret: append([]byte(nil), secret...),
		values: make(map[string]*big.Int),
	}
	s.zero = s.deriveHandle("zero", nil, nil)
	s.values[string(s.zero)] = new(big.Int)
	return s
}

// NewLocalSchemeFromHex creates a scheme from a hex-encoded secret.
func NewLocalSchemeFromHex(secretHex string) (*LocalScheme, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, err
	}
	return NewLocalScheme(secret), nil
}

// Encrypt registers a plaintext under a fresh random handle.
// Values must be non-negative and fit in 256 bits.
func (s *LocalScheme) Encrypt(v *big.Int) (Ciphertext, error) {
	if v == nil || v.Sign() < 0 {
		return nil, errors.New("plaintext must be a non-negative integer")
	}
	if v.BitLen() > 8*sealedValueSize {
		return nil, errors.New("plaintext exceeds 256 bits")
	}

	handle := make([]byte, HandleSize)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.values[string(handle)] = new(big.Int).Set(v)
	s.mu.Unlock()

	return Ciphertext(handle), nil
}

// Decrypt returns the plaintext behind a handle produced by this instance.
func (s *LocalScheme) Decrypt(c Ciphertext) (*big.Int, error) {
	s.mu.RLock()
	v, ok := s.values[string(c)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownHandle
	}
	return new(big.Int).Set(v), nil
}

// Add implements Scheme.
func (s *LocalScheme) Add(a, b Ciphertext) (Ciphertext, error) {
	return s.binaryOp("add", a, b, func(x, y *big.Int) *big.Int {
		return new(big.Int).Add(x, y)
	})
}

// Mul implements Scheme.
func (s *LocalScheme) Mul(a, b Ciphertext) (Ciphertext, error) {
	return s.binaryOp("mul", a, b, func(x, y *big.Int) *big.Int {
		return new(big.Int).Mul(x, y)
	})
}

// Zero implements Scheme.
func (s *LocalScheme) Zero() Ciphertext {
	return s.zero
}

// IsWellFormed implements Scheme.
func (s *LocalScheme) IsWellFormed(c Ciphertext) bool {
	if len(c) != HandleSize {
		return false
	}
	s.mu.RLock()
	_, ok := s.values[string(c)]
	s.mu.RUnlock()
	return ok
}

// Serialize implements Scheme. The payload is handle || sealed plaintext ||
// integrity tag, each part derived deterministically from the handle and
// the scheme secret.
func (s *LocalScheme) Serialize(c Ciphertext) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.values[string(c)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownHandle
	}

	if v.BitLen() > 8*sealedValueSize {
		return nil, errors.New("aggregate exceeds 256 bits")
	}
	sealed := sealValue(s.secret, c, v)

	payload := make([]byte, 0, SerializedSize)
	payload = append(payload, c...)
	payload = append(payload, sealed...)
	payload = append(payload, payloadTag(s.secret, c, sealed)...)
	return payload, nil
}

// DecryptSerialized recovers the plaintext from a serialized ciphertext
// using only the scheme secret. This is the oracle-side entry point: the
// decrypting party does not share the handle table with the producer.
func (s *LocalScheme) DecryptSerialized(payload []byte) (*big.Int, error) {
	if len(payload) != SerializedSize {
		return nil, ErrCorruptPayload
	}

	handle := payload[:HandleSize]
	sealed := payload[HandleSize : HandleSize+sealedValueSize]
	tag := payload[HandleSize+sealedValueSize:]

	if !bytes.Equal(tag, payloadTag(s.secret, handle, sealed)) {
		return nil, ErrCorruptPayload
	}

	mask := sealMask(s.secret, handle)
	plain := make([]byte, sealedValueSize)
	for i := range plain {
		plain[i] = sealed[i] ^ mask[i]
	}
	return new(big.Int).SetBytes(plain), nil
}

func (s *LocalScheme) binaryOp(op string, a, b Ciphertext, f func(x, y *big.Int) *big.Int) (Ciphertext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va, ok := s.values[string(a)]
	if !ok {
		return nil, ErrUnknownHandle
	}
	vb, ok := s.values[string(b)]
	if !ok {
		return nil, ErrUnknownHandle
	}

	handle := s.deriveHandle(op, a, b)
	if _, exists := s.values[string(handle)]; !exists {
		s.values[string(handle)] = f(va, vb)
	}
	return handle, nil
}

func (s *LocalScheme) deriveHandle(op string, a, b Ciphertext) Ciphertext {
	h := sha3.New256()
	h.Write([]byte("aggledger/handle/"))
	h.Write([]byte(op))
	h.Write(s.secret)
	h.Write(a)
	h.Write(b)
	return Ciphertext(h.Sum(nil))
}

func sealValue(secret []byte, handle Ciphertext, v *big.Int) []byte {
	mask := sealMask(secret, handle)
	sealed := make([]byte, sealedValueSize)
	v.FillBytes(sealed)
	for i := range sealed {
		sealed[i] ^= mask[i]
	}
	return sealed
}

func sealMask(secret, handle []byte) []byte {
	h := sha3.New256()
	h.Write([]byte("aggledger/seal/"))
	h.Write(secret)
	h.Write(handle)
	return h.Sum(nil)
}

func payloadTag(secret, handle, sealed []byte) []byte {
	h := sha3.New256()
	h.Write([]byte("aggledger/tag/"))
	h.Write(secret)
	h.Write(handle)
	h.Write(sealed)
	return h.Sum(nil)[:tagSize]
}
