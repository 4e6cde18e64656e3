// Package oracle implements the decryption capability consumed by the
// ledger: a two-phase request/callback protocol with an external decryption
// service.
//
// The first phase is synchronous: RequestDecryption registers the serialized
// ciphertexts and returns a correlation id immediately. The second phase is
// independently timed: the oracle later pushes the cleartext and a proof
// through the callback, keyed by that id. Nothing in this package retries or
// expires a registered request; a non-responding oracle leaves it pending.
//
// LocalOracle runs the whole round trip in process with operator-controlled
// delivery, which is what the tests and the single-binary demo use.
// HTTPClient and Service carry the same protocol over HTTP for split
// deployments (ledgerd + oracled).
//
// Proofs are Ed25519 signatures by the oracle's key over the correlation id
// and the cleartext, so a proof cryptographically binds a cleartext to the
// request it answers.
package oracle
