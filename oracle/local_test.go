package oracle_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/oracle"
)

func newOracle(t *testing.T) (*oracle.LocalOracle, *crypto.LocalScheme) {
	t.Helper()
	scheme := crypto.NewLocalScheme([]byte("oracle-test-secret"))
	_, signingKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	orc, err := oracle.NewLocalOracle(signingKey, scheme)
	require.NoError(t, err)
	return orc, scheme
}

func serialize(t *testing.T, scheme *crypto.LocalScheme, v int64) []byte {
	t.Helper()
	c, err := scheme.Encrypt(big.NewInt(v))
	require.NoError(t, err)
	payload, err := scheme.Serialize(c)
	require.NoError(t, err)
	return payload
}

func TestLocalOracleRoundTrip(t *testing.T) {
	orc, scheme := newOracle(t)

	id, err := orc.RequestDecryption([][]byte{
		serialize(t, scheme, 42),
		serialize(t, scheme, 7),
	})
	require.NoError(t, err)
	require.Equal(t, oracle.RequestID(1), id)
	require.Equal(t, 1, orc.PendingCount())

	var delivered []*big.Int
	orc.SetCallback(func(gotID oracle.RequestID, cleartext, proof []byte) error {
		require.Equal(t, id, gotID)
		require.True(t, orc.VerifyProof(gotID, cleartext, proof))
		delivered = oracle.DecodeCleartext(cleartext)
		return nil
	})

	require.NoError(t, orc.Deliver(id))
	require.Equal(t, 0, orc.PendingCount())
	require.Len(t, delivered, 2)
	require.Equal(t, int64(42), delivered[0].Int64())
	require.Equal(t, int64(7), delivered[1].Int64())
}

func TestLocalOracleRejectionKeepsPending(t *testing.T) {
	orc, scheme := newOracle(t)

	id, err := orc.RequestDecryption([][]byte{serialize(t, scheme, 1)})
	require.NoError(t, err)

	calls := 0
	orc.SetCallback(func(oracle.RequestID, []byte, []byte) error {
		calls++
		if calls == 1 {
			return errors.New("not ready")
		}
		return nil
	})

	require.Error(t, orc.Deliver(id))
	require.Equal(t, 1, orc.PendingCount())

	require.NoError(t, orc.Deliver(id))
	require.Equal(t, 0, orc.PendingCount())
}

func TestLocalOracleProofForgery(t *testing.T) {
	orc, scheme := newOracle(t)

	id, err := orc.RequestDecryption([][]byte{serialize(t, scheme, 9)})
	require.NoError(t, err)

	var cleartext, proof []byte
	orc.SetCallback(func(_ oracle.RequestID, ct, p []byte) error {
		cleartext, proof = ct, p
		return nil
	})
	require.NoError(t, orc.Deliver(id))

	require.True(t, orc.VerifyProof(id, cleartext, proof))

	// Proof is bound to the request id.
	require.False(t, orc.VerifyProof(id+1, cleartext, proof))

	// And to the cleartext.
	altered := append([]byte(nil), cleartext...)
	altered[len(altered)-1] ^= 0x01
	require.False(t, orc.VerifyProof(id, altered, proof))

	// A proof signed by another key does not verify.
	_, otherKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	forged, err := crypto.Sign(otherKey, oracle.ProofMessage(id, cleartext))
	require.NoError(t, err)
	require.False(t, orc.VerifyProof(id, cleartext, forged.Bytes()))
}

func TestLocalOracleValidation(t *testing.T) {
	orc, _ := newOracle(t)

	_, err := orc.RequestDecryption(nil)
	require.Error(t, err)

	require.Error(t, orc.Deliver(99))
}

func TestCleartextEncoding(t *testing.T) {
	values := []*big.Int{big.NewInt(0), big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 200)}
	cleartext := oracle.EncodeCleartext(values)
	require.Len(t, cleartext, 3*oracle.ValueSize)

	decoded := oracle.DecodeCleartext(cleartext)
	require.Len(t, decoded, 3)
	for i, v := range values {
		require.Zero(t, v.Cmp(decoded[i]))
	}
}
