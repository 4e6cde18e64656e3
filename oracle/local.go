package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flashbots/aggledger/crypto"
)

// LocalOracle runs the decryption round trip in process. Requests queue up
// until the operator (or a test) delivers them; delivery decrypts the
// payloads, signs a proof and invokes the registered callback. A rejected
// delivery keeps the request pending so it can be resubmitted, matching the
// behavior of a real oracle that retries only on explicit resubmission.
type LocalOracle struct {
	signingKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	decryptor  Decryptor

	mu       sync.Mutex
	callback Callback
	nextID   RequestID
	pending  map[RequestID][][]byte
}

// NewLocalOracle creates an in-process oracle signing proofs with the given
// key and decrypting payloads with the given decryptor.
func NewLocalOracle(signingKey crypto.PrivateKey, decryptor Decryptor) (*LocalOracle, error) {
	if decryptor == nil {
		return nil, errors.New("decryptor cannot be nil")
	}
	publicKey, err := signingKey.PublicKey()
	if err != nil {
		return nil, err
	}
	return &LocalOracle{
		signingKey: signingKey,
		publicKey:  publicKey,
		decryptor:  decryptor,
		nextID:     1,
		pending:    make(map[RequestID][][]byte),
	}, nil
}

// SetCallback registers the fulfillment sink. Must be set before the first
// delivery; typically wired to the ledger's finalize operation.
func (o *LocalOracle) SetCallback(cb Callback) {
	o.mu.Lock()
	o.callback = cb
	o.mu.Unlock()
}

// PublicKey returns the identity whose signatures VerifyProof accepts.
func (o *LocalOracle) PublicKey() crypto.PublicKey {
	return o.publicKey
}

// RequestDecryption implements Client.
func (o *LocalOracle) RequestDecryption(payloads [][]byte) (RequestID, error) {
	if len(payloads) == 0 {
		return 0, errors.New("no payloads to decrypt")
	}

	copied := make([][]byte, len(payloads))
	for i, p := range payloads {
		copied[i] = append([]byte(nil), p...)
	}

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.pending[id] = copied
	o.mu.Unlock()

	return id, nil
}

// VerifyProof implements Client.
func (o *LocalOracle) VerifyProof(id RequestID, cleartext, proof []byte) bool {
	return VerifyProofWithKey(o.publicKey, id, cleartext, proof)
}

// Deliver decrypts a pending request and pushes the result through the
// callback. The request stays pending if the callback rejects it.
func (o *LocalOracle) Deliver(id RequestID) error {
	o.mu.Lock()
	payloads, ok := o.pending[id]
	cb := o.callback
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending request %d", id)
	}
	if cb == nil {
		return errors.New("no callback registered")
	}

	cleartext, proof, err := o.produceResult(id, payloads)
	if err != nil {
		return err
	}

	if err := cb(id, cleartext, proof); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
	return nil
}

// DeliverAll delivers every pending request in id order, stopping at the
// first failure.
func (o *LocalOracle) DeliverAll() error {
	for {
		o.mu.Lock()
		var id RequestID
		for pid := range o.pending {
			if id == 0 || pid < id {
				id = pid
			}
		}
		o.mu.Unlock()

		if id == 0 {
			return nil
		}
		if err := o.Deliver(id); err != nil {
			return err
		}
	}
}

// PendingCount returns the number of undelivered requests.
func (o *LocalOracle) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *LocalOracle) produceResult(id RequestID, payloads [][]byte) (cleartext, proof []byte, err error) {
	return DecryptAndProve(o.signingKey, o.decryptor, id, payloads)
}
