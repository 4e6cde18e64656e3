// Package crypto provides the cryptographic primitives used by the
// confidential aggregation ledger.
//
// Two independent capability surfaces live here:
//
//   - Ed25519 identities and the generic Signed[T] envelope, used to
//     authenticate submitters, administrators and the decryption oracle.
//   - The Scheme interface, an abstract homomorphic-arithmetic capability
//     over opaque Ciphertext handles. The ledger core only ever touches
//     ciphertexts through this interface; it never sees plaintexts.
//
// LocalScheme is an in-process stand-in for a real homomorphic backend. It
// keeps plaintexts behind deterministic handles so that re-running the same
// aggregation over the same entry set produces byte-identical serialized
// ciphertexts, which the ledger relies on for its state commitments. It is
// not an encryption scheme and must never be used outside tests and demos.
package crypto
