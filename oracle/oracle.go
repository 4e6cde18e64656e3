package oracle

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/flashbots/aggledger/crypto"
)

// RequestID correlates a decryption request with its later fulfillment.
// IDs are assigned by the oracle and are unique for its lifetime.
type RequestID uint64

// Callback delivers a decryption result to the requesting party. A non-nil
// error tells the oracle the result was rejected; the request stays pending
// and may be resubmitted.
type Callback func(id RequestID, cleartext []byte, proof []byte) error

// Client is the decryption capability consumed by the ledger.
type Client interface {
	// RequestDecryption registers serialized ciphertexts for decryption and
	// returns a fresh correlation id. It never blocks on the decryption
	// itself; the result arrives later through the registered callback.
	RequestDecryption(payloads [][]byte) (RequestID, error)

	// VerifyProof reports whether proof binds cleartext to the request.
	VerifyProof(id RequestID, cleartext, proof []byte) bool
}

// Decryptor recovers plaintexts from serialized ciphertexts. The scheme's
// oracle-side instance satisfies this.
type Decryptor interface {
	DecryptSerialized(payload []byte) (*big.Int, error)
}

// ValueSize is the width of one decrypted value in a cleartext, big-endian.
const ValueSize = 32

// ProofMessage is the byte string an oracle signs to prove a cleartext
// answers a given request.
func ProofMessage(id RequestID, cleartext []byte) []byte {
	msg := make([]byte, 0, len("aggledger/decryption-proof")+8+len(cleartext))
	msg = append(msg, []byte("aggledger/decryption-proof")...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(id))
	msg = append(msg, cleartext...)
	return msg
}

// VerifyProofWithKey checks a decryption proof against an oracle identity.
func VerifyProofWithKey(oracleKey crypto.PublicKey, id RequestID, cleartext, proof []byte) bool {
	return crypto.Signature(proof).Verify(oracleKey, ProofMessage(id, cleartext))
}

// EncodeCleartext packs decrypted values into a cleartext, one fixed-width
// big-endian value per requested payload, in request order.
func EncodeCleartext(values []*big.Int) []byte {
	out := make([]byte, 0, len(values)*ValueSize)
	for _, v := range values {
		buf := make([]byte, ValueSize)
		v.FillBytes(buf)
		out = append(out, buf...)
	}
	return out
}

// DecodeCleartext unpacks a cleartext into its decrypted values.
func DecodeCleartext(cleartext []byte) []*big.Int {
	values := make([]*big.Int, 0, len(cleartext)/ValueSize)
	for off := 0; off+ValueSize <= len(cleartext); off += ValueSize {
		values = append(values, new(big.Int).SetBytes(cleartext[off:off+ValueSize]))
	}
	return values
}

// DecryptAndProve decrypts a request's payloads and produces the signed
// proof binding the resulting cleartext to the request id.
func DecryptAndProve(signingKey crypto.PrivateKey, decryptor Decryptor, id RequestID, payloads [][]byte) (cleartext, proof []byte, err error) {
	values := make([]*big.Int, len(payloads))
	for i, p := range payloads {
		values[i], err = decryptor.DecryptSerialized(p)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt payload %d: %w", i, err)
		}
	}

	cleartext = EncodeCleartext(values)
	sig, err := crypto.Sign(signingKey, ProofMessage(id, cleartext))
	if err != nil {
		return nil, nil, err
	}
	return cleartext, sig.Bytes(), nil
}

// DecryptionRequest is the wire form of a decryption registration.
type DecryptionRequest struct {
	Payloads    [][]byte `json:"payloads"`
	CallbackURL string   `json:"callback_url,omitempty"`
}

// DecryptionResponse acknowledges a registration with the assigned id.
type DecryptionResponse struct {
	RequestID RequestID `json:"request_id"`
}

// DecryptionResult is the wire form of a fulfillment, delivered to the
// callback endpoint inside a Signed envelope.
type DecryptionResult struct {
	RequestID RequestID `json:"request_id"`
	Cleartext []byte    `json:"cleartext"`
	Proof     []byte    `json:"proof"`
}
